package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/policyforge/pkg/backup"
	"github.com/openfroyo/policyforge/pkg/config"
	"github.com/openfroyo/policyforge/pkg/drift"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/executor"
	"github.com/openfroyo/policyforge/pkg/lock"
	"github.com/openfroyo/policyforge/pkg/stores"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	"github.com/rs/zerolog"
)

// app holds the components one command run is wired from.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger

	exec    engine.CheckExecutor
	state   *executor.State
	history engine.HistoryStore
	audit   engine.AuditSink
	backups engine.BackupStore
	locker  engine.TargetLocker

	closers []func() error
}

// newApp wires the configured components. withExecutor is false for
// commands that never reach a target.
func newApp(ctx context.Context, withExecutor bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	return buildApp(ctx, cfg, withExecutor)
}

func buildApp(ctx context.Context, cfg *config.Config, withExecutor bool) (a *app, err error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a = &app{cfg: cfg, tel: tel, logger: tel.Logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	if err := tel.Metrics.StartMetricsServer(ctx); err != nil {
		return a, err
	}

	if withExecutor {
		inner, err := a.openExecutor()
		if err != nil {
			return a, err
		}
		a.exec = executor.Bound(inner, cfg.BoundedOptions(cfg.Executor.Type, tel.Metrics))
	}

	switch cfg.History.Backend {
	case "sqlite":
		store, err := stores.Open(ctx, cfg.StoreConfig())
		if err != nil {
			return a, fmt.Errorf("failed to open history database: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.history = store
		a.audit = store
	default:
		a.history = drift.NewFileHistoryStore(cfg.History.Dir, a.logger)
	}

	switch cfg.Backup.Backend {
	case "s3":
		store, err := backup.NewS3Store(ctx, cfg.S3Backup(), a.logger)
		if err != nil {
			return a, err
		}
		a.backups = store
	default:
		a.backups = backup.NewFileStore(cfg.Backup.Dir, a.logger)
	}

	switch cfg.Lock.Backend {
	case "redis":
		locker, err := lock.NewRedis(ctx, cfg.RedisLock(), a.logger)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, locker.Close)
		a.locker = locker
	default:
		a.locker = lock.NewLocal()
	}

	a.logger.Debug().
		Str("executor", cfg.Executor.Type).
		Str("history", cfg.History.Backend).
		Str("backup", cfg.Backup.Backend).
		Str("lock", cfg.Lock.Backend).
		Msg("Components initialized")
	return a, nil
}

func (a *app) openExecutor() (engine.CheckExecutor, error) {
	switch a.cfg.Executor.Type {
	case "ssh":
		ssh, err := executor.NewSSH(executor.DialSSH(a.cfg.SSHTransport(), a.logger), a.cfg.SSHOptions(), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ssh.Close)
		return ssh, nil
	default:
		state, err := executor.LoadStateFile(a.cfg.Executor.StateFile, a.logger)
		if err != nil {
			return nil, err
		}
		a.state = state
		return state, nil
	}
}

// scriptRunner returns the Starlark runner, or nil when no script
// directory is configured.
func (a *app) scriptRunner() *executor.ScriptRunner {
	if a.cfg.Remediation.ScriptDir == "" {
		return nil
	}
	return executor.NewScriptRunner(a.cfg.Remediation.ScriptDir, a.cfg.Remediation.ScriptTimeout, a.logger)
}

// Close persists state changes and releases every resource.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.state != nil && len(a.state.Applied()) > 0 {
		if err := a.state.Save(); err != nil {
			errs = append(errs, fmt.Errorf("failed to save state: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// run wires an app, calls fn and closes the app.
func run(ctx context.Context, withExecutor bool, fn func(context.Context, *app) error) (err error) {
	a, err := newApp(ctx, withExecutor)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}
