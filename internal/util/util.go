// Package util provides helpers for decoding dispatcher command arguments.
package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingArg is returned when a command has fewer arguments than required.
var ErrMissingArg = errors.New("missing argument")

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// FixEscapeQuotes replaces escaped double quotes ("") with single double quotes (").
func FixEscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// CleanArg trims whitespace and surrounding quotes and unescapes inner quotes.
// It is meant for id arguments only.
func CleanArg(s string) string {
	return FixEscapeQuotes(TrimQuotes(strings.TrimSpace(s)))
}

// ArgRaw returns the argument at index i exactly as sent, or "" when it is
// missing. Free-text fields use it so quotes typed by the user survive.
func ArgRaw(args []string, i int) string {
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

// ArgString returns the cleaned argument at index i.
func ArgString(args []string, i int, name string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: %s (position %d)", ErrMissingArg, name, i)
	}
	return CleanArg(args[i]), nil
}

// ArgInt parses the argument at index i as a base-10 int.
func ArgInt(args []string, i int, name string) (int, error) {
	s, err := ArgString(args, i, name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %q is not an integer", name, s)
	}
	return v, nil
}

// ArgUint64 parses the argument at index i as an unsigned id.
func ArgUint64(args []string, i int, name string) (uint64, error) {
	s, err := ArgString(args, i, name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %q is not an id", name, s)
	}
	return v, nil
}
