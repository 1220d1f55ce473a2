// Command fleetsim runs the fleet tracking simulation with its HTTP API,
// recorder and optional terminal dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/OCAP2/fleetsim/internal/config"
	"github.com/OCAP2/fleetsim/internal/dispatcher"
	"github.com/OCAP2/fleetsim/internal/handlers"
	"github.com/OCAP2/fleetsim/internal/httpapi"
	"github.com/OCAP2/fleetsim/internal/logging"
	"github.com/OCAP2/fleetsim/internal/monitor"
	intOtel "github.com/OCAP2/fleetsim/internal/otel"
	"github.com/OCAP2/fleetsim/internal/seed"
	"github.com/OCAP2/fleetsim/internal/sim"
	"github.com/OCAP2/fleetsim/internal/tui"

	"github.com/gdamore/tcell/v2"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - set at build time via ldflags
var (
	Version   string = "0.1.0"
	BuildDate string = "unknown"

	AppName string = "fleetsim"
)

type app struct {
	start time.Time

	logFile     *os.File
	metricsFile *os.File
	slogManager *logging.SlogManager
	logger      *slog.Logger
	zlog        zerolog.Logger
	otel        *intOtel.Provider

	fleet      *seed.Fleet
	engine     *sim.Engine
	dispatcher *dispatcher.Dispatcher
	monitor    *monitor.Service
	recording  *recording
	server     *httpapi.Server
}

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory containing "+config.FileName)
	useTUI := pflag.Bool("tui", false, "show the terminal dashboard")
	pflag.String("log-level", "", "log level (debug, info, warn, error)")
	pflag.String("storage", "", "storage backend (memory, sqlite, postgres, websocket)")
	pflag.String("roster", "", "JSON roster file replacing the demo fleet")
	pflag.String("addr", "", "HTTP listen address")
	pflag.Bool("autostart", false, "start the simulation immediately")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
		return
	}

	for key, flag := range map[string]string{
		"logLevel":       "log-level",
		"storage.type":   "storage",
		"sim.rosterFile": "roster",
		"http.addr":      "addr",
		"sim.autoStart":  "autostart",
	} {
		_ = viper.BindPFlag(key, pflag.Lookup(flag))
	}

	if err := run(*configDir, *useTUI); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func run(configDir string, useTUI bool) error {
	a := &app{start: time.Now()}

	cfgErr := config.Load(configDir)
	if cfgErr != nil && !config.IsNotFound(cfgErr) {
		return cfgErr
	}

	if err := a.setupLogging(useTUI); err != nil {
		return err
	}
	defer a.closeLogging()

	if cfgErr != nil {
		a.logger.Warn("Config file not found, using defaults", "dir", configDir)
	} else {
		a.logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}
	a.logger.Info("Starting up", "version", Version, "build", BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.setupEngine(); err != nil {
		return err
	}
	if err := a.setupDispatcher(); err != nil {
		return err
	}

	rec, err := startRecording(ctx, a)
	if err != nil {
		return err
	}
	a.recording = rec

	a.setupMonitor()
	handlers.NewService(handlers.Dependencies{
		Engine: a.engine,
		Stats:  a.monitor,
		Logger: a.logger,
	}).Register(a.dispatcher)
	a.logger.Info("Registered commands", "commands", a.dispatcher.Commands())

	if config.GetSimConfig().AutoStart {
		if _, err := a.dispatcher.Dispatch(dispatcher.Event{Command: handlers.CmdSimStart}); err != nil {
			a.logger.Error("Failed to start simulation", "error", err)
		}
	}

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpCfg := config.GetHTTPConfig()
	if httpCfg.Enabled {
		gin.SetMode(gin.ReleaseMode)
		a.server = httpapi.NewServer(httpapi.Dependencies{
			Engine:     a.engine,
			Fleet:      a.fleet,
			Dispatcher: a.dispatcher,
			Logger:     a.logger.With("component", "http"),
			SessionID:  rec.session.ID,
			RateLimit:  httpCfg.RateLimit,
			RateWindow: httpCfg.RateWindow,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.server.Run(runCtx, httpCfg.Addr); err != nil {
				a.logger.Error("HTTP API stopped", "error", err)
				cancel()
			}
		}()
	}

	if useTUI {
		screen, err := tcell.NewScreen()
		if err != nil {
			a.logger.Error("Failed to create terminal screen", "error", err)
		} else {
			dash := tui.New(tui.Dependencies{
				Screen:     screen,
				Source:     a.engine,
				Controller: a.dispatcher,
				Stats:      a.monitor,
				Logger:     a.logger,
			})
			if err := dash.Run(runCtx); err != nil {
				a.logger.Error("Dashboard failed", "error", err)
			}
			cancel()
		}
	}

	<-runCtx.Done()
	a.logger.Info("Shutting down")
	cancel()
	wg.Wait()

	return a.shutdown()
}

func (a *app) setupLogging(useTUI bool) error {
	logsDir := viper.GetString("logsDir")
	level := viper.GetString("logLevel")

	logFile, err := logging.OpenSessionLog(logsDir, AppName, a.start)
	if err != nil {
		return err
	}
	a.logFile = logFile
	a.zlog = logging.NewZerolog(logFile, level)

	a.slogManager = logging.NewSlogManager()
	a.slogManager.Setup(logFile, level, nil)
	a.logger = a.slogManager.Logger()

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		metricsPath := filepath.Join(logsDir, fmt.Sprintf("%s.%s.metrics.json", AppName, a.start.Format("20060102_150405")))
		if f, err := os.Create(metricsPath); err != nil {
			a.logger.Error("Failed to create metrics file", "error", err, "path", metricsPath)
		} else {
			a.metricsFile = f
		}

		otelConfig := intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		}
		// a nil *os.File must not reach the io.Writer field
		if a.metricsFile != nil {
			otelConfig.MetricWriter = a.metricsFile
		}
		a.otel, err = intOtel.New(otelConfig)
		if err != nil {
			a.logger.Error("Failed to initialize OTel provider", "error", err)
			a.otel = nil
		} else {
			a.logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var opts []logging.Option
	if !useTUI {
		opts = append(opts, logging.WithConsole())
	}
	if viper.GetBool("graylog.enabled") {
		addr := viper.GetString("graylog.address")
		if w, err := a.slogManager.DialGraylog(addr); err != nil {
			a.logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			opts = append(opts, logging.WithGraylog(w))
		}
	}
	opts = append(opts, logging.WithContext(a.logContext))

	var provider *sdklog.LoggerProvider
	if a.otel != nil {
		provider = a.otel.LoggerProvider()
	}
	a.slogManager.Setup(logFile, level, provider, opts...)
	a.logger = a.slogManager.Logger()
	a.logger.Info("Logging to file", "path", logFile.Name())
	return nil
}

// engineRef lets the log context read the engine once it exists.
var engineRef atomic.Pointer[sim.Engine]

func (a *app) logContext() []slog.Attr {
	e := engineRef.Load()
	if e == nil {
		return nil
	}
	return []slog.Attr{
		slog.Bool("simRunning", e.Running()),
		slog.Uint64("tick", e.Ticks()),
	}
}

func (a *app) setupEngine() error {
	simCfg := config.GetSimConfig()

	if simCfg.RosterFile != "" {
		fleet, err := seed.Load(simCfg.RosterFile)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
		a.fleet = fleet
		a.logger.Info("Loaded roster", "file", simCfg.RosterFile, "devices", len(fleet.Entities()))
	} else {
		a.fleet = seed.Demo()
		a.logger.Info("Using demo fleet", "devices", len(a.fleet.Entities()))
	}

	engine, err := sim.New(a.fleet.Entities(), a.fleet.History(), sim.Options{
		Interval:     simCfg.Interval,
		HistoryLimit: simCfg.HistoryLimit,
		Rand:         sim.NewRand(simCfg.Seed),
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	a.engine = engine
	engineRef.Store(engine)
	return nil
}

func (a *app) setupDispatcher() error {
	d, err := dispatcher.New(logging.NewKV(a.zlog, "dispatcher"))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	a.dispatcher = d
	return nil
}

func (a *app) setupMonitor() {
	deps := monitor.Dependencies{
		Source:    a.engine,
		Alerts:    func() int { return len(a.fleet.Alerts()) },
		Writer:    a.recording.recorder,
		Logger:    a.logger.With("component", "monitor"),
		StatusDir: viper.GetString("logsDir"),
		Interval:  config.GetMonitorConfig().Interval,
		StartedAt: a.start,
	}
	if perf, ok := a.recording.backend.(monitor.PerformanceSink); ok {
		deps.Perf = perf
	}
	if a.recording.influx != nil {
		deps.Metrics = a.recording.influx
	}

	a.monitor = monitor.NewService(deps)
	if err := a.monitor.Start(); err != nil {
		a.logger.Error("Failed to start status monitor", "error", err)
	}
}

func (a *app) shutdown() error {
	var errs []error

	a.engine.Stop()
	if a.monitor != nil {
		a.monitor.Stop()
		if err := a.monitor.Sample(); err != nil {
			a.logger.Warn("Final status sample failed", "error", err)
		}
	}
	if a.server != nil {
		a.server.Close()
	}

	if err := a.recording.finish(); err != nil {
		errs = append(errs, err)
	}
	a.dispatcher.Close()

	a.logger.Info("Shutdown complete", "ticks", a.engine.Ticks())
	return errors.Join(errs...)
}

func (a *app) closeLogging() {
	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.slogManager.Flush(ctx)
		_ = a.otel.Shutdown(ctx)
	}
	_ = a.slogManager.Close()
	if a.metricsFile != nil {
		_ = a.metricsFile.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
