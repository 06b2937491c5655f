package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/audit"
	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/authflow"
	"github.com/nimbusid/authapi/internal/config"
	"github.com/nimbusid/authapi/internal/httpapi"
	"github.com/nimbusid/authapi/internal/notify"
	"github.com/nimbusid/authapi/internal/obs"
	"github.com/nimbusid/authapi/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.Log.Level, Dev: cfg.Log.Dev, File: cfg.Log.File, MaxAge: cfg.Log.MaxAge})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("authapi stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)
	reporter := obs.NewLogReporter(logger)

	store, err := pg.Open(cfg.Database.URL, pg.Pool{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := store.Permissions().Ensure(ctx, auth.BuiltinPermissions); err != nil {
		return err
	}

	revoked := store.RevokedTokens()
	issuer, err := auth.NewIssuer(cfg.Token.Secret,
		auth.WithIssuerName(cfg.Token.Issuer),
		auth.WithTTL(cfg.Token.TTL),
		auth.WithRefreshGrace(cfg.Token.RefreshGrace),
		auth.WithDenylist(revoked),
	)
	if err != nil {
		return err
	}

	var mailer notify.Mailer = notify.LogMailer{Logger: logger}
	if cfg.SMTP.Host != "" {
		smtpMailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return err
		}
		mailer = smtpMailer
	}
	dispatcher := notify.NewDispatcher(store.Notifications(), mailer, notify.LogSMSSender{Logger: logger},
		notify.Channels{EmailEnabled: cfg.Services.EmailEnabled, SMSEnabled: cfg.Services.SMSEnabled},
		notify.WithReporter(reporter),
		notify.WithLogger(logger),
		notify.WithDefaultRegion(cfg.Services.SMSRegion),
	)

	deps := authflow.Deps{
		Store:    store,
		Issuer:   issuer,
		Hasher:   auth.BcryptHasher{},
		Audit:    audit.NewLog(store.AuthEvents(), reporter, logger),
		Notifier: dispatcher,
		Reporter: reporter,
		Logger:   logger,
	}
	users, err := authflow.New(auth.KindUser, deps)
	if err != nil {
		return err
	}
	admins, err := authflow.New(auth.KindAdmin, deps)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store, Timeout: cfg.Database.PingTimeout}, issuer, users, admins, httpapi.Options{
		Version:        version,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Logger:         logger,
		Reporter:       reporter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	go purgeRevoked(ctx, revoked, cfg.Token.PurgeInterval, reporter, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting authapi", zap.String("version", version), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// purgeRevoked deletes lapsed denylist rows until ctx is done.
func purgeRevoked(ctx context.Context, revoked *pg.RevokedTokens, every time.Duration, reporter obs.Reporter, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := revoked.Purge(ctx)
			if err != nil {
				if ctx.Err() == nil {
					reporter.Report(ctx, err, zap.String("op", "purge_revoked_tokens"))
				}
				continue
			}
			if n > 0 {
				logger.Debug("purged revoked tokens", zap.Int64("rows", n))
			}
		}
	}
}
