// Command fleetexport reads recorded sessions from the database and writes
// them as JSON recordings.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OCAP2/fleetsim/internal/config"
	"github.com/OCAP2/fleetsim/internal/database"
	"github.com/OCAP2/fleetsim/internal/logging"
	gormstorage "github.com/OCAP2/fleetsim/internal/storage/gorm"
	"github.com/OCAP2/fleetsim/internal/storage/memory"

	"github.com/spf13/pflag"
	"gorm.io/gorm"
)

const usage = `usage: fleetexport [flags] <command> [session uuids...]

commands:
  list               list recorded sessions
  getjson <uuid...>  write each session as a JSON recording
  reduce <uuid...>   thin stored device states and purge deleted waypoints
`

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory containing "+config.FileName)
	sqlitePath := pflag.String("sqlite", "", "read a SQLite file instead of Postgres")
	outDir := pflag.StringP("out", "o", ".", "output directory for getjson")
	compress := pflag.Bool("gzip", true, "gzip the JSON output")
	keepEvery := pflag.Int("keep-every", 5, "reduce: keep device states of every n-th tick")
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	logger := logging.NewSlogManager()
	logger.Setup(nil, "info", nil)
	log := logger.Logger()

	if err := config.Load(*configDir); err != nil && !config.IsNotFound(err) {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log.Info("Connecting to database...")
	db, err := connect(*sqlitePath)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	log.Info("Database connection established", "dialect", db.Name())

	cmd, ids := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "list":
		err = listSessions(db)
	case "getjson":
		err = forEach(ids, func(id string) error {
			start := time.Now()
			path, err := exportSession(db, id, *outDir, *compress)
			if err == nil {
				log.Info("Exported session", "session", id, "path", path, "duration", time.Since(start))
			}
			return err
		})
	case "reduce":
		err = forEach(ids, func(id string) error {
			res, err := gormstorage.Reduce(db, id, *keepEvery)
			if err == nil {
				log.Info("Reduced session", "session", id, "deviceStates", res.DeviceStates, "waypoints", res.Waypoints)
			}
			return err
		})
	default:
		pflag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func connect(sqlitePath string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	if sqlitePath != "" {
		if _, err := os.Stat(sqlitePath); err != nil {
			return nil, err
		}
		db, err = database.OpenSqlite(sqlitePath)
	} else {
		db, err = database.OpenPostgres(config.GetStorageConfig().DB)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	return db, nil
}

func forEach(ids []string, fn func(string) error) error {
	if len(ids) == 0 {
		return fmt.Errorf("no session ids provided")
	}
	for _, id := range ids {
		if err := fn(id); err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
	}
	return nil
}

func listSessions(db *gorm.DB) error {
	sessions, err := gormstorage.ListSessions(db)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		end := "running"
		if !s.EndTime.IsZero() {
			end = s.EndTime.Sub(s.StartTime).Round(time.Second).String()
		}
		fmt.Printf("%s  %s  %6d ticks  %s\n", s.UUID, s.StartTime.Format(time.RFC3339), s.Ticks, end)
	}
	return nil
}

func exportSession(db *gorm.DB, id, outDir string, compress bool) (string, error) {
	export, meta, err := gormstorage.LoadExport(db, id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(outDir, memory.ExportFileName(meta.StartTime, compress))
	if err := memory.WriteExport(path, export, compress); err != nil {
		return "", err
	}
	return path, nil
}
