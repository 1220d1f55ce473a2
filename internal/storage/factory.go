package storage

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/fleetsim/internal/config"
	"github.com/OCAP2/fleetsim/internal/database"
	gormstorage "github.com/OCAP2/fleetsim/internal/storage/gorm"
	"github.com/OCAP2/fleetsim/internal/storage/memory"
	sqlitestorage "github.com/OCAP2/fleetsim/internal/storage/sqlite"
	"github.com/OCAP2/fleetsim/internal/storage/websocket"
)

// Storage type names accepted by NewBackend.
const (
	TypeMemory    = "memory"
	TypeSQLite    = "sqlite"
	TypePostgres  = "postgres"
	TypeWebsocket = "websocket"
)

// Deps carries what the database backends need besides configuration.
type Deps struct {
	Logger *slog.Logger
	// DB opens the Postgres connection; it falls back to in-memory SQLite.
	DB *database.Manager
}

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, deps Deps) (Backend, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case TypePostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("postgres backend needs a database manager")
		}
		if err := deps.DB.Connect(cfg.DB); err != nil {
			return nil, err
		}
		if deps.DB.ShouldSaveLocal {
			logger.Warn("Postgres unavailable, recording to in-memory SQLite")
		}
		return gormstorage.New(gormstorage.Dependencies{DB: deps.DB.DB, Logger: logger}), nil
	case TypeSQLite:
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.DumpPath,
		}, logger)
	case TypeWebsocket:
		return websocket.New(websocket.Config{
			URL:    cfg.Websocket.URL,
			Secret: cfg.Websocket.Secret,
		}, logger), nil
	case TypeMemory:
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
