package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport/rest"
	"github.com/matheus3301/chatsync/internal/transport/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrNoToken is returned when no bearer token is configured.
var ErrNoToken = errors.New("no token configured: set token in config.toml or " + config.EnvPrefix + "_TOKEN")

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // optional override; empty = ~/.chatsync/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			providePushChannel,
			provideRequestClient,
			provideSession,
			provideControlService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.LockPath(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("path", l.Path()))
	return l, nil
}

func providePushChannel(cfg *config.Config, m *status.Machine, logger *zap.Logger) *ws.Channel {
	return ws.New(cfg.PushURL, cfg.Token, logger.Named("push"),
		ws.WithReconnectDelay(cfg.ReconnectDelay()),
		ws.WithStatus(m),
	)
}

func provideRequestClient(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.APIURL, cfg.Token, logger.Named("rest"), rest.WithTimeout(cfg.RequestTimeout()))
}

func provideSession(cfg *config.Config, push *ws.Channel, requests *rest.Client, b *bus.Bus, m *status.Machine, logger *zap.Logger) (*session.Session, error) {
	userID := cfg.UserID
	if userID == "" {
		id, err := auth.UserID(cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("resolve local user: %w", err)
		}
		userID = id
	}
	if exp, err := auth.Expiry(cfg.Token); err == nil && !exp.IsZero() && exp.Before(time.Now()) {
		logger.Warn("token expired, backend will reject requests", zap.Time("expired_at", exp))
	}
	return session.New(push, requests, session.Options{
		LocalUserID: userID,
		TypingQuiet: cfg.TypingQuiet(),
		Logger:      logger.Named("session"),
		Bus:         b,
		Status:      m,
	}), nil
}

func provideControlService(p Params, sess *session.Session, logger *zap.Logger) *api.ControlService {
	return api.NewControlService(p.Profile, sess, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, sess *session.Session, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := sess.Start(ctx); err != nil {
				logger.Error("session start failed", zap.Error(err))
				_ = sess.Close()
				srv.Stop(ctx)
				_ = lk.Release()
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Closing the session first ends open watch streams.
			if err := sess.Close(); err != nil {
				logger.Warn("error closing session", zap.Error(err))
			}
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
