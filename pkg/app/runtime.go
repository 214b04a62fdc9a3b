package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/access/sqlitestore"
	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/internal/conversation"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/cron"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/logging"
	"github.com/flemzord/relaybot/internal/router"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/flemzord/relaybot/internal/telemetry"
)

// Runtime is a fully wired, not yet started, relaybot process.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	App      *core.App
	AppCtx   *core.AppContext
	Store    *access.Store
	Gateway  *gateway.Gateway
	Router   *router.Router
	Registry *prometheus.Registry

	credentials *security.CredentialStore
	redactor    *security.Redactor
	logs        *logging.Logs
	auditFile   *lumberjack.Logger
	scheduler   *cron.Scheduler
	closers     []func(context.Context) error
}

// Build creates every shared service, loads the modules and wires the
// router between them. Nothing is started. On error, whatever was already
// opened is released.
func Build(ctx context.Context, cfg *config.Config, params RunParams) (rt *Runtime, err error) {
	rt = &Runtime{
		Config:      cfg,
		credentials: security.NewCredentialStore(),
		redactor:    security.NewRedactor(),
	}
	defer func() {
		if err != nil {
			rt.Shutdown(ctx)
			rt = nil
		}
	}()

	// Secrets first so the very first log line is already redacted.
	rt.credentials.Load(cfg.Secrets())
	rt.redactor.SyncCredentials(rt.credentials)

	rt.logs, err = logging.New(cfg.Log, rt.redactor, logging.Options{Level: params.LogLevel})
	if err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.logs.Close() })
	rt.Logger = rt.logs.Logger
	logger := rt.Logger.With("component", logging.CompApp)

	rt.auditFile = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.DataDir, "audit.jsonl"),
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.auditFile.Close() })
	audit := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   rt.auditFile,
		Redactor: rt.redactor,
	})

	tracer, shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, params.Version)
	if err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, shutdownTracing)

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	persister, err := rt.openPersister(ctx)
	if err != nil {
		return rt, err
	}
	rt.Store, err = access.NewStore(persister, cfg.Bot.Admins,
		access.WithLogger(rt.Logger.With("component", logging.CompAccess)))
	if err != nil {
		return rt, err
	}
	st := rt.Store.Load(ctx)
	logger.Info("access state loaded",
		"driver", cfg.Store.Driver, "path", cfg.Store.Path,
		"users", len(st.Users), "admins", len(st.Admins))

	rt.Gateway = gateway.New(
		gateway.Config{Concurrency: cfg.Gateway.Concurrency, Timeout: cfg.Gateway.Timeout},
		gateway.WithLogger(rt.Logger.With("component", logging.CompGateway)),
		gateway.WithRegisterer(rt.Registry),
		gateway.WithTracerProvider(tracer),
	)

	rt.AppCtx = core.NewAppContext(rt.Logger, cfg.DataDir).WithModuleConfigs(cfg.Modules)
	rt.AppCtx.RegisterService(core.ServiceCredentials, rt.credentials)
	rt.AppCtx.RegisterService(core.ServiceRedactor, rt.redactor)
	rt.AppCtx.RegisterService(core.ServiceAudit, audit)
	rt.AppCtx.RegisterService(core.ServiceRegisterer, prometheus.Registerer(rt.Registry))
	rt.AppCtx.RegisterService(core.ServiceStore, rt.Store)
	rt.AppCtx.RegisterService(core.ServiceGateway, rt.Gateway)

	ids := params.Modules
	if ids == nil {
		ids = config.Resolve(cfg)
	}
	rt.App = core.NewApp(rt.AppCtx)
	if err := rt.App.LoadModules(ids); err != nil {
		return rt, err
	}

	flood := security.NewKeyedLimiter(cfg.Bot.FloodRate, cfg.Bot.FloodBurst)
	outbound := security.NewKeyedLimiter(cfg.Bot.BroadcastRate, 1)
	conv := conversation.New()

	rt.Router, err = wireRouter(rt.App, rt.AppCtx, router.Config{
		Store:              rt.Store,
		Conversation:       conv,
		Gateway:            rt.Gateway,
		Audit:              audit,
		Logger:             rt.Logger.With("component", logging.CompRouter),
		Registerer:         rt.Registry,
		WorkerCount:        cfg.Bot.Workers,
		RestrictGeneration: cfg.Bot.RestrictGeneration,
		DonateURL:          cfg.Bot.DonateURL,
		GatewayTimeout:     cfg.Gateway.Timeout,
		Flood:              flood,
		Outbound:           outbound,
		LogFile:            rt.logs.Path,
	})
	if err != nil {
		return rt, err
	}

	rt.scheduler, err = buildScheduler(cfg, rt.Store, conv, rt.Logger.With("component", logging.CompBackup), flood, outbound)
	if err != nil {
		return rt, err
	}

	logger.Info("relaybot wired",
		"version", params.Version,
		"modules", len(rt.App.Modules()),
		"backends", len(rt.Gateway.Kinds()),
		"jobs", rt.scheduler.Jobs())
	return rt, nil
}

func (rt *Runtime) openPersister(ctx context.Context) (access.Persister, error) {
	if rt.Config.Store.Driver != "sqlite" {
		return access.NewFilePersister(rt.Config.Store.Path), nil
	}
	p, err := sqlitestore.Open(ctx, rt.Config.Store.Path)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return p.Close() })
	return p, nil
}

func buildScheduler(cfg *config.Config, store *access.Store, conv *conversation.Machine, logger *slog.Logger, limiters ...*security.KeyedLimiter) (*cron.Scheduler, error) {
	s := cron.NewScheduler(logger)
	jobs := []cron.Job{
		&cron.PendingExpiryJob{Machine: conv, MaxAge: cfg.Bot.PendingTTL, Logger: logger},
	}

	var pruners []cron.Pruner
	for _, l := range limiters {
		if l.Enabled() {
			pruners = append(pruners, l)
		}
	}
	if len(pruners) > 0 {
		jobs = append(jobs, &cron.LimiterPruneJob{Limiters: pruners, Logger: logger})
	}
	if cfg.Backup.Schedule != "" {
		jobs = append(jobs, &cron.SnapshotJob{
			Source:       store,
			Dir:          cfg.Backup.Dir,
			Keep:         cfg.Backup.Keep,
			ScheduleExpr: cfg.Backup.Schedule,
			Logger:       logger,
		})
	}

	for _, j := range jobs {
		if err := s.RegisterJob(j); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start starts the modules in load order, then the scheduler.
func (rt *Runtime) Start() error {
	if err := rt.App.Start(); err != nil {
		return err
	}
	// Modules may have published credentials of their own during Start.
	rt.redactor.SyncCredentials(rt.credentials)
	if err := rt.scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	return nil
}

// Rotate reopens the log and audit files.
func (rt *Runtime) Rotate() error {
	return errors.Join(rt.logs.Rotate(), rt.auditFile.Rotate())
}

// Shutdown stops the scheduler and the modules, then releases shared
// resources in reverse order of acquisition. It is safe on a partially
// built runtime.
func (rt *Runtime) Shutdown(ctx context.Context) {
	if rt.scheduler != nil {
		if err := rt.scheduler.Stop(ctx); err != nil && rt.Logger != nil {
			rt.Logger.Warn("scheduler stop failed", "error", err)
		}
	}
	if rt.App != nil {
		rt.App.Stop()
	}
	closers := slices.Clone(rt.closers)
	slices.Reverse(closers)
	rt.closers = nil
	for _, closeFn := range closers {
		if err := closeFn(ctx); err != nil && rt.Logger != nil {
			rt.Logger.Warn("shutdown step failed", "error", err)
		}
	}
}
