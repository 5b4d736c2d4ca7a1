package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tempmon/internal/alerting"
	"tempmon/internal/config"
	"tempmon/internal/logging"
	"tempmon/internal/metrics"
	"tempmon/internal/sensor"
	"tempmon/internal/service"
	"tempmon/internal/state"
	"tempmon/internal/storage"
	"tempmon/internal/threshold"
	"tempmon/internal/transport"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// transports holds the inbound transport and the publisher alerts go to. They
// are the same client unless a separate output broker is configured.
type transports struct {
	in  transport.Transport
	out transport.Publisher
}

func (a *App) openTransports() (transports, func(), error) {
	tcfg := a.Config.Transport
	switch tcfg.Kind {
	case config.TransportKafka:
		k, err := transport.NewKafka(transport.KafkaOptions{
			Brokers:      tcfg.Kafka.Brokers,
			Topic:        tcfg.Kafka.Topic,
			GroupID:      tcfg.Kafka.GroupID,
			WriteTimeout: tcfg.Kafka.WriteTimeout,
		}, a.Logger)
		if err != nil {
			return transports{}, nil, err
		}
		return transports{in: k, out: k}, func() { _ = k.Close() }, nil

	case config.TransportMQTT:
		opts := a.mqttOptions(tcfg.MQTT.Broker, tcfg.MQTT.ClientID)
		in, err := transport.NewMQTT(opts, a.Logger)
		if err != nil {
			return transports{}, nil, err
		}
		output := a.Config.OutputBroker()
		if output == tcfg.MQTT.Broker {
			return transports{in: in, out: in}, func() { _ = in.Close() }, nil
		}

		clientID := tcfg.MQTT.ClientID
		if clientID != "" {
			clientID += "-out"
		}
		out, err := transport.NewMQTT(a.mqttOptions(output, clientID), a.Logger)
		if err != nil {
			_ = in.Close()
			return transports{}, nil, fmt.Errorf("output broker: %w", err)
		}
		closer := func() {
			_ = out.Close()
			_ = in.Close()
		}
		return transports{in: in, out: out}, closer, nil

	default:
		return transports{}, nil, fmt.Errorf("transport.kind %q not supported", tcfg.Kind)
	}
}

func (a *App) mqttOptions(broker, clientID string) transport.MQTTOptions {
	m := a.Config.Transport.MQTT
	return transport.MQTTOptions{
		Broker:         broker,
		ClientID:       clientID,
		Username:       m.Username,
		Password:       m.Password,
		QoS:            m.QoS,
		ConnectTimeout: m.ConnectTimeout,
		PublishTimeout: m.PublishTimeout,
	}
}

func (a *App) openStateStore(ctx context.Context) (state.Store, error) {
	switch a.Config.State.Backend {
	case config.StateRedis:
		r := a.Config.State.Redis
		return state.NewRedis(ctx, state.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
	default:
		return state.NewMemory(), nil
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	db := a.Config.Database
	pool, err := storage.NewPool(ctx, storage.PoolOptions{
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newNotifier fans a published alert out to the transport, the audit log
// and, for state changes only, telegram. The transport publish stays on the
// engine worker; audit and telegram go through a background queue. The
// returned func drains that queue.
func (a *App) newNotifier(out transport.Publisher, store *storage.Store) (alerting.Notifier, func()) {
	fan := alerting.Fanout{}
	if out != nil {
		fan = append(fan, alerting.NewTransportNotifier(out, a.Logger))
	}

	var slow alerting.Fanout
	if store != nil {
		slow = append(slow, storage.NewAuditNotifier(store))
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		slow = append(slow, alerting.OnChange(alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)))
	}
	if len(slow) == 0 {
		return fan, func() {}
	}

	queue := alerting.NewQueue(slow, alerting.QueueOptions{
		Name: "audit_telegram",
		Size: a.Config.Alerting.QueueSize,
	}, a.Logger)
	fan = append(fan, queue)
	drain := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := queue.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("notification queue not drained")
		}
	}
	return fan, drain
}

func (a *App) newEngine(store state.Store, notifier alerting.Notifier) *threshold.Engine {
	return threshold.NewEngine(
		threshold.Options{
			Heartbeat: a.Config.Engine.Heartbeat,
			Workers:   a.Config.Engine.Workers,
		},
		threshold.NewResolver(a.Config.Thresholds.Default, a.Config.Thresholds.Overrides),
		store,
		notifier,
		a.Logger,
	)
}

// openSources opens every configured sensor. A sensor that cannot be opened
// fails startup.
func (a *App) openSources() ([]service.Source, func(), error) {
	sources := make([]service.Source, 0, len(a.Config.Sensors))
	closeAll := func() {
		for _, src := range sources {
			if err := src.Reader.Close(); err != nil {
				a.Logger.Warn().Err(err).Str("machine", src.Config.Machine).Msg("close sensor")
			}
		}
	}

	for _, cfg := range a.Config.Sensors {
		r, err := sensor.Open(cfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		a.Logger.Info().Str("machine", cfg.Machine).Str("driver", cfg.Driver).Msg("sensor opened")
		sources = append(sources, service.Source{Config: cfg, Reader: r})
	}
	if len(sources) == 0 {
		return nil, nil, errors.New("no sensors configured")
	}
	return sources, closeAll, nil
}

func (a *App) startPruner(ctx context.Context, store *storage.Store) {
	db := a.Config.Database
	if store == nil || db.Retention <= 0 {
		return
	}
	go func() {
		if err := storage.Prune(ctx, store, db.Retention, db.PruneInterval, a.Logger); err != nil {
			a.Logger.Error().Err(err).Msg("alert retention stopped")
		}
	}()
}

func (a *App) startMetrics(ctx context.Context) {
	addr := a.Config.Metrics.ListenAddr
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, a.Logger); err != nil {
			a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
}

// Run samples every configured sensor and evaluates thresholds in one process.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	a.startMetrics(ctx)

	sources, closeSources, err := a.openSources()
	if err != nil {
		return err
	}
	defer closeSources()

	tr, closeTransports, err := a.openTransports()
	if err != nil {
		return err
	}
	defer closeTransports()

	engine, store, closeEngine, err := a.openEngine(ctx, tr.out)
	if err != nil {
		return err
	}
	defer closeEngine()
	a.startPruner(ctx, store)

	svc := service.New(a.Config, engine, tr.in, nil, a.Logger)

	a.Logger.Info().Int("sensors", len(sources)).Msg("starting temperature monitor")
	return a.finish("temperature monitor", svc.RunPipeline(ctx, sources))
}

// RunSampler samples every configured sensor and publishes averaged samples.
func (a *App) RunSampler(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	a.startMetrics(ctx)

	sources, closeSources, err := a.openSources()
	if err != nil {
		return err
	}
	defer closeSources()

	tr, closeTransports, err := a.openTransports()
	if err != nil {
		return err
	}
	defer closeTransports()

	svc := service.New(a.Config, nil, tr.in, nil, a.Logger)

	a.Logger.Info().Int("sensors", len(sources)).Msg("starting sampler")
	return a.finish("sampler", svc.RunSamplers(ctx, sources))
}

// RunEngine subscribes to sample topics and publishes alerts.
func (a *App) RunEngine(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	a.startMetrics(ctx)

	tr, closeTransports, err := a.openTransports()
	if err != nil {
		return err
	}
	defer closeTransports()

	engine, store, closeEngine, err := a.openEngine(ctx, tr.out)
	if err != nil {
		return err
	}
	defer closeEngine()

	var locker storage.AdvisoryLocker
	if store != nil {
		locker = store
	}
	a.startPruner(ctx, store)
	svc := service.New(a.Config, engine, tr.in, locker, a.Logger)

	a.Logger.Info().Msg("starting threshold engine")
	return a.finish("threshold engine", svc.RunEngine(ctx))
}

// openEngine builds an engine over the configured state store, publishing to
// out and auditing when a database is configured. The returned alert store is
// nil without a database.
func (a *App) openEngine(ctx context.Context, out transport.Publisher) (*threshold.Engine, *storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert audit disabled")
	}

	stateStore, err := a.openStateStore(ctx)
	if err != nil {
		if closeStore != nil {
			closeStore()
		}
		return nil, nil, nil, err
	}

	notifier, drain := a.newNotifier(out, store)
	closer := func() {
		drain()
		_ = stateStore.Close()
		if closeStore != nil {
			closeStore()
		}
	}
	return a.newEngine(stateStore, notifier), store, closer, nil
}

func (a *App) finish(name string, err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msgf("%s terminated with error", name)
		return err
	}
	a.Logger.Info().Msgf("%s stopped", name)
	return nil
}

// ExportOptions hold parameters for exporting the alert history.
type ExportOptions struct {
	Machine   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Machine string
}

// ReplayOptions configure the replay command.
type ReplayOptions struct {
	CSVPath string
	DryRun  bool
}
