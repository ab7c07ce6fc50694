package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jpvalente/adsync/internal/backend"
	"github.com/jpvalente/adsync/internal/bus"
	"github.com/jpvalente/adsync/internal/config"
	"github.com/jpvalente/adsync/internal/detect"
	"github.com/jpvalente/adsync/internal/extract"
	"github.com/jpvalente/adsync/internal/inject"
	"github.com/jpvalente/adsync/internal/lock"
	"github.com/jpvalente/adsync/internal/logging"
	"github.com/jpvalente/adsync/internal/mirror"
	"github.com/jpvalente/adsync/internal/notify"
	"github.com/jpvalente/adsync/internal/page"
	"github.com/jpvalente/adsync/internal/queue"
	"github.com/jpvalente/adsync/internal/session"
	"github.com/jpvalente/adsync/internal/status"
	"github.com/jpvalente/adsync/internal/syncer"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideBus,
			provideBroadcast,
			provideLogger,
			provideStateMachine,
			provideLock,
			provideMirror,
			provideBackendClient,
			provideBackendStore,
			provideDriver,
			provideWatcher,
			provideDetector,
			provideCoordinator,
			provideWalker,
			provideInjector,
			provideOverlay,
			provideLive,
			provideNotify,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideBroadcast(b *bus.Bus) *logging.Broadcast {
	return logging.NewBroadcast(b, 500)
}

func provideLogger(p Params, broadcast *logging.Broadcast) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, broadcast)
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

func provideMirror(p Params, logger *zap.Logger) (*mirror.DB, error) {
	dbPath := session.MirrorDBPath(p.SessionName)
	db, err := mirror.Open(dbPath)
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
	logger.Info("mirror initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackendClient(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.New(cfg.Backend.URL, cfg.Backend.Token, logger)
}

func provideBackendStore(client *backend.Client, cfg *config.Config) *backend.Store {
	return backend.NewStore(client, cfg.Backend.ConversationsTable, cfg.Backend.MessagesTable)
}

func provideDriver(cfg *config.Config, logger *zap.Logger) (*page.ChromeDriver, error) {
	return page.NewChromeDriver(context.Background(), cfg.Page.DevToolsURL, cfg.Page.TargetURL, logger)
}

func provideWatcher(drv *page.ChromeDriver, cfg *config.Config, logger *zap.Logger) *page.Watcher {
	return page.NewWatcher(drv, cfg.Page.SnapshotInterval.Std(), logger)
}

func provideDetector(b *bus.Bus, cfg *config.Config, logger *zap.Logger) *detect.Detector {
	return detect.New(b, cfg.Page.DebounceDelay.Std(), logger)
}

func provideCoordinator(drv *page.ChromeDriver, b *bus.Bus, store *backend.Store, db *mirror.DB, cfg *config.Config, logger *zap.Logger) *syncer.Coordinator {
	return syncer.New(drv, b, store, db, syncer.NewCache(), syncer.Config{
		SettleDelay: cfg.Sync.SettleDelay.Std(),
		ChatDwell:   cfg.Sync.ChatDwell.Std(),
		Attempt: extract.AttemptConfig{
			PollInterval: cfg.Extract.PollInterval.Std(),
			MaxPolls:     cfg.Extract.MaxPolls,
			RetryPoll:    cfg.Extract.RetryPoll,
			MinDigits:    cfg.Extract.MinPhoneDigits,
		},
	}, logger)
}

func provideWalker(drv *page.ChromeDriver, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *queue.Walker {
	return queue.New(drv, b, queue.Config{
		ScanInterval: cfg.Queue.ScanInterval.Std(),
		MinOpenDelay: cfg.Queue.MinOpenDelay.Std(),
		MaxOpenDelay: cfg.Queue.MaxOpenDelay.Std(),
	}, logger)
}

func provideInjector(drv *page.ChromeDriver, logger *zap.Logger) *inject.Injector {
	return inject.NewInjector(drv, logger)
}

func provideOverlay(drv *page.ChromeDriver, logger *zap.Logger) *inject.Overlay {
	return inject.NewOverlay(drv, logger)
}

func provideLive(client *backend.Client, cfg *config.Config, logger *zap.Logger) *backend.LiveCollection {
	return backend.NewLiveCollection(client, cfg.Backend.ConversationsTable,
		cfg.Backend.PollInterval.Std(), cfg.Backend.DegradedPollInterval.Std(), logger)
}

func provideNotify(p Params, cfg *config.Config, logger *zap.Logger) (*notify.Publisher, error) {
	return notify.New(cfg.Notify.AMQPURL, cfg.Notify.Exchange, p.SessionName, logger)
}

func provideServer(p Params, machine *status.Machine, db *mirror.DB, store *backend.Store,
	broadcast *logging.Broadcast, drv *page.ChromeDriver, coord *syncer.Coordinator,
	walker *queue.Walker, cfg *config.Config, logger *zap.Logger) *Server {
	return NewServer(p, machine, db, store, broadcast, drv, coord, walker, cfg.HTTP.Addr, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, drv *page.ChromeDriver,
	watcher *page.Watcher, detector *detect.Detector, coord *syncer.Coordinator,
	walker *queue.Walker, injector *inject.Injector, overlay *inject.Overlay,
	live *backend.LiveCollection, pub *notify.Publisher, db *mirror.DB, client *backend.Client,
	machine *status.Machine, b *bus.Bus, logger *zap.Logger) {

	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			pingCtx, pingCancel := context.WithTimeout(runCtx, 10*time.Second)
			err := client.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return fmt.Errorf("backend unreachable: %w", err)
			}

			_ = machine.Transition(status.Attaching)

			if err := overlay.InstallGuard(runCtx, drv); err != nil {
				logger.Warn("message guard not installed", zap.Error(err))
			}

			navCtx, navCancel := context.WithTimeout(runCtx, 30*time.Second)
			err = drv.EnsureNavigated(navCtx)
			navCancel()
			if err != nil {
				logger.Error("could not reach messenger page", zap.Error(err))
				_ = machine.Transition(status.Degraded)
			} else {
				_ = machine.Transition(status.Watching)
			}

			watcher.OnSnapshot(detector.HandleSnapshot)
			watcher.OnSnapshot(snapshotHandler(machine, coord, injector, b, logger))
			watcher.Start(runCtx)

			live.OnRecords = reconcileConversations(db, logger)
			live.Start(runCtx)

			go coord.Run(runCtx)
			go walker.Run(runCtx)
			go pub.Run(runCtx, b)
			go trackProcessing(runCtx, machine, b)
			go overlayLoop(runCtx, overlay, b, logger)
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control api error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			watcher.Stop()
			detector.Stop()
			live.Stop()
			if err := pub.Close(); err != nil {
				logger.Warn("error closing notifier", zap.Error(err))
			}
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping control api", zap.Error(err))
			}
			drv.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing mirror", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// snapshotHandler keeps ambient page state in shape on every snapshot: the
// login wall flips the state machine, and the injected header UI gets
// re-ensured because the page destroys it on its own re-renders.
func snapshotHandler(machine *status.Machine, coord *syncer.Coordinator,
	injector *inject.Injector, b *bus.Bus, logger *zap.Logger) func(*page.Document) {
	return func(doc *page.Document) {
		if page.IsLoginWall(doc) {
			if machine.Current() == status.Watching {
				logger.Warn("login wall detected, waiting for manual sign-in")
				_ = machine.Transition(status.AuthRequired)
			}
			return
		}
		if machine.Current() == status.AuthRequired {
			logger.Info("login wall cleared")
			_ = machine.Transition(status.Watching)
		}

		identity := page.HeaderIdentity(doc)
		if identity == "" {
			return
		}

		phone := ""
		for _, item := range page.ConversationItems(doc) {
			if item.UserName != identity {
				continue
			}
			if cached := coord.Cache().Get(item.ConversationID); cached.PhoneNumber != "" {
				phone = extract.DisplayPhone(cached.PhoneNumber)
			}
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		busy := machine.Current() == status.Processing
		if _, err := injector.Ensure(ctx, phone, busy); err != nil {
			logger.Debug("injected ui upkeep failed", zap.Error(err))
			return
		}
		if clicked, err := injector.PendingAction(ctx); err == nil && clicked {
			logger.Info("manual sync requested", zap.String("conversation", identity))
			b.Publish(bus.Event{
				Kind:      bus.KindConversationChanged,
				Timestamp: time.Now(),
				Payload:   bus.ConversationChange{New: identity},
			})
		}
	}
}

// trackProcessing mirrors chat open/close into the state machine.
func trackProcessing(ctx context.Context, machine *status.Machine, b *bus.Bus) {
	events, cancel := b.Subscribe("page.chat_", 16)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			switch evt.Kind {
			case bus.KindChatOpened:
				_ = machine.Transition(status.Processing)
			case bus.KindChatClosed:
				_ = machine.Transition(status.Watching)
			}
		}
	}
}

// overlayLoop drives the interaction-blocking overlay from the bus: it goes
// up when the daemon enters Processing, feeds log lines into its feed while
// visible, and comes down when Processing ends.
func overlayLoop(ctx context.Context, ov *inject.Overlay, b *bus.Bus, logger *zap.Logger) {
	statusEvents, cancelStatus := b.Subscribe(bus.KindStatusChanged, 16)
	defer cancelStatus()
	logs, cancelLogs := b.Subscribe(bus.KindLogEntry, 64)
	defer cancelLogs()

	visible := false
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-statusEvents:
			change, ok := evt.Payload.(status.Change)
			if !ok {
				continue
			}
			opCtx, opCancel := context.WithTimeout(ctx, 2*time.Second)
			switch {
			case change.To == status.Processing && !visible:
				if err := ov.Show(opCtx); err != nil {
					logger.Debug("overlay show failed", zap.Error(err))
				} else {
					visible = true
				}
			case change.From == status.Processing && visible:
				if err := ov.Hide(opCtx); err != nil {
					logger.Debug("overlay hide failed", zap.Error(err))
				}
				visible = false
			}
			opCancel()
		case evt := <-logs:
			if !visible {
				continue
			}
			entry, ok := evt.Payload.(logging.Entry)
			if !ok {
				continue
			}
			opCtx, opCancel := context.WithTimeout(ctx, 2*time.Second)
			if err := ov.AppendLog(opCtx, entry.Level+" "+entry.Message); err != nil {
				logger.Debug("overlay log append failed", zap.Error(err))
			}
			opCancel()
		}
	}
}

// reconcileConversations folds the backend's record list into the mirror,
// picking up edits made outside this daemon.
func reconcileConversations(db *mirror.DB, logger *zap.Logger) func(context.Context, []json.RawMessage) {
	return func(_ context.Context, items []json.RawMessage) {
		for _, raw := range items {
			var rec backend.ConversationRecord
			if err := json.Unmarshal(raw, &rec); err != nil || rec.ConversationID == "" {
				continue
			}
			var lastAt int64
			if rec.LastMessageDate != "" {
				if t, err := time.Parse(time.RFC3339, rec.LastMessageDate); err == nil {
					lastAt = t.UnixMilli()
				}
			}
			err := db.UpsertConversation(&mirror.Conversation{
				ConversationID: rec.ConversationID,
				UserName:       rec.UserName,
				PhoneNumber:    rec.PhoneNumber,
				LastMessage:    rec.LastMessage,
				LastMessageAt:  lastAt,
				AdInfo:         rec.AdInfo,
				AdImageURL:     rec.AdImageURL,
				UnreadCount:    rec.UnreadCount,
			})
			if err != nil {
				logger.Warn("mirror reconcile failed",
					zap.String("conversation", rec.ConversationID), zap.Error(err))
			}
		}
	}
}
