package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanArg(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain id", "17", "17"},
		{"quoted id", `"17"`, "17"},
		{"padded and quoted", `  "3" `, "3"},
		{"only quotes", `""`, ""},
		{"escaped inner quotes", `"a""b"`, `a"b`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanArg(tt.input))
		})
	}
}

func TestTrimQuotesAndEscapes(t *testing.T) {
	assert.Equal(t, "'id'", TrimQuotes("'id'"))
	assert.Equal(t, `he"llo`, TrimQuotes(`he"llo`))
	assert.Equal(t, `a""b`, FixEscapeQuotes(`a""""b`))
}

func TestArgRaw(t *testing.T) {
	args := []string{"1", ` "Depot" `, `Joe""s`}

	assert.Equal(t, ` "Depot" `, ArgRaw(args, 1))
	assert.Equal(t, `Joe""s`, ArgRaw(args, 2))
	assert.Empty(t, ArgRaw(args, 3))
	assert.Empty(t, ArgRaw(nil, 0))
	assert.Empty(t, ArgRaw(args, -1))
}

func TestArgString_Missing(t *testing.T) {
	_, err := ArgString([]string{"a"}, 1, "name")
	assert.ErrorIs(t, err, ErrMissingArg)
}

func TestArgInt(t *testing.T) {
	v, err := ArgInt([]string{`"42"`}, 0, "entityID")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = ArgInt([]string{"abc"}, 0, "entityID")
	assert.ErrorContains(t, err, `"abc" is not an integer`)

	_, err = ArgInt(nil, 0, "entityID")
	assert.ErrorIs(t, err, ErrMissingArg)
}

func TestArgUint64(t *testing.T) {
	v, err := ArgUint64([]string{"x", "17"}, 1, "pointID")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), v)

	_, err = ArgUint64([]string{"-3"}, 0, "pointID")
	assert.Error(t, err)
}
