// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tombee/procbridge/internal/config"
	"github.com/tombee/procbridge/internal/events"
	"github.com/tombee/procbridge/internal/httpapi"
	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/process"
	"github.com/tombee/procbridge/internal/tracing"
)

// Runtime holds the ambient services shared by the long-running commands.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Level     *slog.LevelVar
	Telemetry *tracing.Provider
	Recorder  *events.Recorder

	configPath    string
	watcher       *config.Watcher
	metricsServer *httpapi.Server
}

// NewRuntime loads configuration and builds the logger, telemetry provider,
// and event recorder. Global flags override the configured log level.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load config", err)
	}

	switch {
	case GetLogLevel() != "":
		cfg.Log.Level = GetLogLevel()
	case GetVerbose():
		cfg.Log.Level = "debug"
	case GetQuiet():
		cfg.Log.Level = "warn"
	}
	if !internallog.ValidLevel(cfg.Log.Level) {
		return nil, NewConfigError(fmt.Sprintf("invalid log level %q", cfg.Log.Level), nil)
	}

	rt := &Runtime{
		Config:     cfg,
		Level:      new(slog.LevelVar),
		Recorder:   events.NewRecorder(cfg.Events.BufferSize),
		configPath: GetConfigPath(),
	}
	var pathErr error
	if rt.configPath == "" {
		rt.configPath, pathErr = config.ConfigPath()
	}

	logCfg := cfg.LoggerConfig()
	logCfg.LevelVar = rt.Level
	rt.Logger = internallog.New(logCfg)

	if pathErr != nil {
		rt.Logger.Warn("config path unresolved, reload disabled", internallog.Error(pathErr))
	}

	v, _, _ := GetVersion()
	rt.Telemetry, err = tracing.NewProvider(ctx, cfg.TracingSettings(v), tracing.WithConsoleOutput(os.Stderr))
	if err != nil {
		return nil, NewConfigError("failed to initialize telemetry", err)
	}

	if rt.watchable() {
		rt.watcher, err = config.NewWatcher(config.WatcherConfig{
			Path:     rt.configPath,
			OnReload: rt.reloaded,
			Logger:   internallog.WithComponent(rt.Logger, "config"),
		})
		if err != nil {
			rt.Logger.Warn("config watcher disabled", internallog.Error(err))
		}
	}

	return rt, nil
}

// watchable reports whether a config file exists to watch.
func (rt *Runtime) watchable() bool {
	if rt.configPath == "" {
		return false
	}
	_, err := os.Stat(rt.configPath)
	return err == nil
}

// reloaded applies the hot-reloadable settings. Only the log level changes
// at runtime; everything else takes effect on restart.
func (rt *Runtime) reloaded(cfg *config.Config) {
	if GetLogLevel() != "" || GetVerbose() || GetQuiet() {
		return
	}
	config.LevelUpdater(rt.Level)(cfg)
	rt.Logger.Info("config reloaded", slog.String("level", cfg.Log.Level))
}

// Metrics returns the process metrics recorder.
func (rt *Runtime) Metrics() *tracing.ProcessMetrics {
	if rt.Telemetry == nil {
		return nil
	}
	return rt.Telemetry.Metrics()
}

// ManagerConfig builds a process manager configuration delivering events
// to sink, the recorder, and the trace log.
func (rt *Runtime) ManagerConfig(sink events.Sink) process.ManagerConfig {
	logSink := events.NewLogSink(internallog.WithComponent(rt.Logger, "events")).
		WithLevel(internallog.LevelTrace)

	return process.ManagerConfig{
		Sink:                 events.Fanout(sink, rt.Recorder, logSink),
		Logger:               rt.Logger,
		DisableShellFallback: !rt.Config.ShellFallback(),
		LogOnlyStderr:        !rt.Config.ForwardStderr(),
		Env:                  rt.Config.Spawn.Env,
		Dir:                  rt.Config.Spawn.Dir,
		StopTimeout:          rt.Config.Spawn.StopTimeout,
		SampleStats:          rt.Config.Spawn.SampleStats,
		Metrics:              rt.Metrics(),
	}
}

// StartMetrics serves /metrics on the dedicated metrics address, if one is
// configured.
func (rt *Runtime) StartMetrics(ctx context.Context) error {
	if rt.Config.Metrics.Addr == "" {
		return nil
	}
	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    rt.Config.Metrics.Addr,
		Handler: httpapi.NewRouter(nil, rt.Telemetry.MetricsHandler()),
		Logger:  internallog.WithComponent(rt.Logger, "metrics"),
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	rt.metricsServer = srv
	return nil
}

// Close stops the watcher and metrics server and flushes telemetry.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.watcher != nil {
		errs = append(errs, rt.watcher.Close())
	}
	if rt.metricsServer != nil {
		errs = append(errs, rt.metricsServer.Shutdown(ctx))
	}
	if rt.Telemetry != nil {
		errs = append(errs, rt.Telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
