package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAP2/fleetsim/internal/api"
	"github.com/OCAP2/fleetsim/internal/config"
	"github.com/OCAP2/fleetsim/internal/database"
	"github.com/OCAP2/fleetsim/internal/influx"
	"github.com/OCAP2/fleetsim/internal/recorder"
	"github.com/OCAP2/fleetsim/internal/storage"
	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// recording owns the storage side of a session.
type recording struct {
	log      *slog.Logger
	session  *core.Session
	backend  storage.Backend
	db       *database.Manager
	influx   *influx.Manager
	recorder *recorder.Recorder
}

func startRecording(ctx context.Context, a *app) (*recording, error) {
	r := &recording{log: a.logger.With("component", "storage")}

	storageCfg := config.GetStorageConfig()
	r.log.Info("Initializing storage", "type", storageCfg.Type)

	if storageCfg.Type == storage.TypePostgres {
		r.db = database.NewManager(a.zlog.With().Str("component", "database").Logger())
		r.db.SqliteFilePath = filepath.Join(viper.GetString("logsDir"),
			fmt.Sprintf("%s_%s.db", AppName, a.start.Format("20060102_150405")))
	}

	backend, err := storage.NewBackend(storageCfg, storage.Deps{Logger: r.log, DB: r.db})
	if err != nil {
		return nil, fmt.Errorf("create storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("init storage backend: %w", err)
	}
	r.backend = backend

	if err := r.connectInflux(ctx, a); err != nil {
		r.log.Error("Failed to connect to InfluxDB", "error", err)
	}

	deps := recorder.Dependencies{Backend: backend, Logger: a.logger.With("component", "recorder")}
	// a nil *influx.Manager must not reach the interface field
	if r.influx != nil {
		deps.Telemetry = r.influx
	}
	rec, err := recorder.New(deps)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	r.recorder = rec

	r.session = &core.Session{
		ID:           uuid.NewString(),
		StartTime:    a.start,
		Interval:     a.engine.Interval(),
		HistoryLimit: a.engine.HistoryLimit(),
		Initial:      a.engine.Snapshot(),
	}
	if err := rec.Start(a.engine, r.session); err != nil {
		_ = backend.Close()
		return nil, err
	}

	if apiCfg := config.GetAPIConfig(); apiCfg.ServerURL != "" {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := api.New(apiCfg.ServerURL, apiCfg.APIKey).Healthcheck(hctx); err != nil {
			r.log.Warn("Recordings server not reachable", "url", apiCfg.ServerURL, "error", err)
		} else {
			r.log.Info("Recordings server reachable", "url", apiCfg.ServerURL)
		}
	}
	return r, nil
}

func (r *recording) connectInflux(ctx context.Context, a *app) error {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}
	backupPath := filepath.Join(viper.GetString("logsDir"),
		fmt.Sprintf("%s_%s.influx.gz", AppName, a.start.Format("20060102_150405")))
	m := influx.NewManager(cfg, a.zlog.With().Str("component", "influx").Logger(), backupPath)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.Connect(cctx); err != nil {
		if errors.Is(err, influx.ErrDisabled) {
			return nil
		}
		return err
	}
	r.influx = m
	return nil
}

// finish ends the session and releases every store, then uploads the export
// when the backend produced one.
func (r *recording) finish() error {
	var errs []error

	if err := r.recorder.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := r.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	if r.db != nil {
		if r.db.ShouldSaveLocal {
			if err := r.db.DumpMemoryToDisk(); err != nil {
				errs = append(errs, err)
			} else {
				r.log.Info("Saved fallback database", "path", r.db.SqliteFilePath)
			}
		}
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.influx != nil {
		if err := r.influx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close influx: %w", err))
		}
	}

	if err := r.upload(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *recording) upload() error {
	up, ok := r.backend.(storage.Uploadable)
	if !ok {
		return nil
	}
	path := up.GetExportedFilePath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("export file: %w", err)
	}

	apiCfg := config.GetAPIConfig()
	if apiCfg.ServerURL == "" {
		r.log.Info("Export written, no upload server configured", "path", path)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := api.New(apiCfg.ServerURL, apiCfg.APIKey).Upload(ctx, path, up.GetExportMetadata()); err != nil {
		return fmt.Errorf("upload recording: %w", err)
	}
	r.log.Info("Uploaded recording", "path", path, "url", apiCfg.ServerURL)
	return nil
}
