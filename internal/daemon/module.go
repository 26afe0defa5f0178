package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
	"github.com/implus/implink/internal/call"
	"github.com/implus/implink/internal/chatsync"
	"github.com/implus/implink/internal/config"
	"github.com/implus/implink/internal/lock"
	"github.com/implus/implink/internal/logging"
	"github.com/implus/implink/internal/notify"
	"github.com/implus/implink/internal/outbox"
	"github.com/implus/implink/internal/realtime"
	"github.com/implus/implink/internal/rest"
	"github.com/implus/implink/internal/session"
	"github.com/implus/implink/internal/status"
	"github.com/implus/implink/internal/store"
	"github.com/implus/implink/internal/wire"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = global path

	// Optional profile bootstrap. When UserID is set the persisted profile
	// is created or updated before the daemon connects.
	UserID    string
	UserName  string
	GroupHint string
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
			provideStore,
			provideProfile,
			provideGateway,
			provideChannel,
			provideSink,
			provideChatSync,
			provideSender,
			provideCallEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideProfile(p Params, db *store.DB) (*store.Profile, error) {
	if p.UserID != "" {
		if err := db.SaveProfile(&store.Profile{
			UserID:    p.UserID,
			UserName:  p.UserName,
			GroupHint: p.GroupHint,
		}); err != nil {
			return nil, err
		}
	}
	profile, err := db.LoadProfile()
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("session %q has no profile; start once with -user to bootstrap it", p.SessionName)
	}
	return profile, nil
}

func provideGateway(cfg *config.Config) *rest.Gateway {
	var opts []rest.Option
	if cfg.AuthToken != "" {
		opts = append(opts, rest.WithAuthToken(cfg.AuthToken))
	}
	return rest.New(cfg.ServerURL, opts...)
}

func provideChannel(cfg *config.Config, logger *zap.Logger) (*realtime.Channel, error) {
	url, err := cfg.SocketURL()
	if err != nil {
		return nil, err
	}
	return realtime.Dial(context.Background(), url, logger)
}

func provideSink(b *bus.Bus) notify.Sink {
	return notify.NewBusSink(b)
}

func provideChatSync(db *store.DB, gw *rest.Gateway, b *bus.Bus, sink notify.Sink, logger *zap.Logger, profile *store.Profile, cfg *config.Config) *chatsync.Engine {
	return chatsync.NewEngine(db, gw, b, sink, logger, profile.UserID, chatsync.Options{
		PlaySoundOnReceive: cfg.PlaySoundOnReceive,
		MarkReadOnOpen:     cfg.MarkReadOnOpen,
	})
}

func provideSender(db *store.DB, ch *realtime.Channel, b *bus.Bus, logger *zap.Logger, profile *store.Profile) *outbox.Sender {
	return outbox.NewSender(db, ch, b, logger, profile.UserID)
}

func provideCallEngine(ch *realtime.Channel, b *bus.Bus, sink notify.Sink, logger *zap.Logger, profile *store.Profile, cfg *config.Config) *call.Engine {
	mode := call.Mode(cfg.CallMode)
	if mode != call.ModeRelay {
		mode = call.ModeMesh
	}
	return call.NewEngine(ch, b, sink, logger, profile.UserID, mode, cfg.ICEServers)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, ch *realtime.Channel, chat *chatsync.Engine, sender *outbox.Sender, engine *call.Engine, machine *status.Machine, profile *store.Profile, b *bus.Bus, logger *zap.Logger) {
	var stopDispatch func()
	var offState func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			_ = machine.Transition(status.Connecting)

			stopDispatch = newDispatcher(ch, chat, logger).start(ctx)
			offState = ch.OnState(func(s realtime.State) {
				handleChannelState(ctx, s, ch, chat, machine, profile, b, logger)
			})

			engine.Start(ctx)
			sender.Start(ctx)

			joinRooms(ch, profile, logger)

			// Initial sync is read-marking: the freshly started daemon
			// treats the snapshot as seen.
			go func() {
				_ = machine.Transition(status.Syncing)
				if err := chat.LoadSnapshot(ctx, true); err != nil {
					logger.Error("initial sync failed", zap.Error(err))
					_ = machine.Transition(status.Error)
					return
				}
				_ = machine.Transition(status.Ready)
				logger.Info("session ready", zap.String("user", profile.UserID))
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			engine.Stop()
			if offState != nil {
				offState()
			}
			if stopDispatch != nil {
				stopDispatch()
			}
			_ = ch.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = db.Close()
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// joinRooms announces presence and subscribes the user's rooms after every
// connect.
func joinRooms(ch *realtime.Channel, profile *store.Profile, logger *zap.Logger) {
	if err := ch.Emit(wire.EventJoin, wire.JoinPayload{UserID: profile.UserID}); err != nil {
		logger.Warn("join emit failed", zap.Error(err))
		return
	}
	_ = ch.Emit(wire.EventUserOnline, wire.UserOnlinePayload{UserID: profile.UserID})
	if profile.GroupHint != "" {
		_ = ch.Emit(wire.EventJoinGroup, wire.JoinGroupPayload{
			GroupID: profile.GroupHint,
			UserID:  profile.UserID,
		})
	}
}

// handleChannelState follows the link through drops and reconnects. A drop
// parks the machine in Reconnecting; a reconnect rejoins rooms and refetches
// the snapshot without touching read state.
func handleChannelState(ctx context.Context, s realtime.State, ch *realtime.Channel, chat *chatsync.Engine, machine *status.Machine, profile *store.Profile, b *bus.Bus, logger *zap.Logger) {
	switch s {
	case realtime.Disconnected:
		b.Emit(bus.KindChannelDisconnected, nil)
		_ = machine.Transition(status.Reconnecting)
	case realtime.Connected:
		b.Emit(bus.KindChannelConnected, nil)
		if machine.Current() != status.Reconnecting {
			return
		}
		_ = machine.Transition(status.Connecting)
		joinRooms(ch, profile, logger)
		go func() {
			_ = machine.Transition(status.Syncing)
			if err := chat.LoadSnapshot(ctx, false); err != nil {
				logger.Error("resync after reconnect failed", zap.Error(err))
				return
			}
			_ = machine.Transition(status.Ready)
		}()
	}
}
