package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargepoint/libs/db"
	"chargepoint/libs/logging"
	libredis "chargepoint/libs/redis"
	"chargepoint/services/charge-point/internal/auth"
	"chargepoint/services/charge-point/internal/config"
	"chargepoint/services/charge-point/internal/connector"
	"chargepoint/services/charge-point/internal/durable"
	"chargepoint/services/charge-point/internal/handlers"
	"chargepoint/services/charge-point/internal/hostio"
	httpserver "chargepoint/services/charge-point/internal/http"
	httphandlers "chargepoint/services/charge-point/internal/http/handlers"
	"chargepoint/services/charge-point/internal/metering"
	"chargepoint/services/charge-point/internal/notify"
	"chargepoint/services/charge-point/internal/ocpp"
	"chargepoint/services/charge-point/internal/repository"
	"chargepoint/services/charge-point/internal/service"
	"chargepoint/services/charge-point/internal/storage"
	"chargepoint/services/charge-point/internal/ws"
)

// App wires all dependencies of the charge point.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	loop       *service.Loop
	cp         *service.ChargePoint
	client     *ocpp.Client
	dialer     *ws.Dialer
	httpServer *httpserver.Server
	io         map[int]*hostio.VirtualConnector

	lastIntegrate time.Time
	closers       []func()
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		io:     make(map[int]*hostio.VirtualConnector),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var sqlDB *sql.DB
	openDB := func() (*sql.DB, error) {
		if sqlDB != nil {
			return sqlDB, nil
		}
		conn, err := db.NewPostgresDB(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		sqlDB = conn
		a.closers = append(a.closers, func() {
			if err := conn.Close(); err != nil {
				logger.Warn("failed to close db", zap.Error(err))
			}
		})
		return conn, nil
	}

	adapter, err := a.storageAdapter(ctx, openDB)
	if err != nil {
		return nil, err
	}

	var journal ocpp.Journal
	if cfg.Database.Journal {
		conn, err := openDB()
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, conn, repository.OCPPLogSchema); err != nil {
			return nil, err
		}
		journal = repository.NewOCPPLogRepository(conn, cfg.ChargePoint.ID)
	}

	backend, err := a.durableBackend(ctx)
	if err != nil {
		return nil, err
	}
	store, err := durable.NewStore(ctx, backend, logging.Component(logger, "durable"))
	if err != nil {
		return nil, err
	}

	publisher, err := a.publishers()
	if err != nil {
		return nil, err
	}

	a.loop = service.NewLoop(logging.Component(logger, "loop"))

	var tokens *auth.TokenService
	if cfg.CentralSystem.JWTSecret != "" {
		tokens = auth.NewTokenService(cfg.CentralSystem.JWTSecret, time.Hour)
	}
	a.dialer = ws.NewDialer(ws.DialerConfig{
		URL:               cfg.CentralSystem.URL,
		ChargePointID:     cfg.ChargePoint.ID,
		BasicPassword:     cfg.CentralSystem.BasicPassword,
		Tokens:            tokens,
		WriteTimeout:      cfg.WriteTimeout(),
		ReconnectInterval: cfg.ReconnectInterval(),
	}, nil, logging.Component(logger, "ws"))

	router := ocpp.NewRouter()
	a.client = ocpp.NewClient(router, a.dialer, journal, logging.Component(logger, "ocpp"))
	a.client.SetTimeout(cfg.CallTimeout())
	a.dialer.SetProcessor(a.client)

	connectorLogger := logging.Component(logger, "connector")
	connectors := []service.ConnectorIO{{State: connector.New(0, store, connectorLogger)}}
	for id := 1; id <= cfg.ChargePoint.Connectors; id++ {
		state := connector.New(id, store, connectorLogger)
		v := hostio.NewVirtualConnector()
		v.Attach(state)
		a.io[id] = v
		connectors = append(connectors, service.ConnectorIO{State: state, Meter: v})
	}

	a.cp = service.NewChargePoint(cfg.ChargePoint.ID, connectors, service.Deps{
		Caller:    a.client,
		Executor:  a.loop,
		Meters:    metering.NewStore(adapter, cfg.Storage.Prefix, logging.Component(logger, "metering")),
		Publisher: publisher,
		Logger:    logging.Component(logger, "transaction"),
	})
	handlers.Register(router, a.loop, a.cp, logging.Component(logger, "handlers"))
	a.dialer.OnConnect(a.boot)

	a.loop.Every("tick", cfg.LoopInterval(), a.tick)
	a.loop.Every("meter", cfg.SampleInterval(), a.cp.SampleMeters)

	var operatorTokens *auth.TokenService
	if cfg.HTTP.OperatorSecret != "" {
		operatorTokens = auth.NewTokenService(cfg.HTTP.OperatorSecret, time.Hour)
	}
	api := httphandlers.NewHandler(logging.Component(logger, "api"), a.loop, a.cp, a.io, a.dialer)
	a.httpServer = httpserver.NewServer(cfg.HTTPAddress(), httpserver.NewRouter(api, operatorTokens, cfg.HTTP.Debug, logger), logger)

	return a, nil
}

func (a *App) storageAdapter(ctx context.Context, openDB func() (*sql.DB, error)) (storage.Adapter, error) {
	switch a.cfg.Storage.Backend {
	case "postgres":
		conn, err := openDB()
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, conn, storage.MeterSlotsSchema); err != nil {
			return nil, err
		}
		return storage.NewPostgresAdapter(conn), nil
	case "fs", "":
		fs, err := storage.NewFSAdapter(a.cfg.Storage.Dir, logging.Component(a.logger, "storage"))
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	return nil, fmt.Errorf("app: unknown storage backend %q", a.cfg.Storage.Backend)
}

func (a *App) durableBackend(ctx context.Context) (durable.Backend, error) {
	switch a.cfg.Durable.Backend {
	case "redis":
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return durable.NewRedisBackend(client, a.cfg.ChargePoint.ID), nil
	case "file", "":
		return durable.NewFileBackend(a.cfg.Durable.Path), nil
	}
	return nil, fmt.Errorf("app: unknown durable backend %q", a.cfg.Durable.Backend)
}

func (a *App) publishers() (notify.Publisher, error) {
	var pubs notify.Multi
	if url := a.cfg.Notify.MQTTURL; url != "" {
		p, err := notify.NewMQTTPublisher(url, a.cfg.ChargePoint.ID, logging.Component(a.logger, "mqtt"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		pubs = append(pubs, p)
	}
	if url := a.cfg.Notify.NATSURL; url != "" {
		p, err := notify.NewNATSPublisher(url, a.cfg.ChargePoint.ID, logging.Component(a.logger, "nats"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		pubs = append(pubs, p)
	}
	if len(pubs) == 0 {
		return notify.Nop{}, nil
	}
	return pubs, nil
}

// tick advances the virtual energy registers, then evaluates every connector.
func (a *App) tick(ctx context.Context) {
	now := time.Now()
	if !a.lastIntegrate.IsZero() {
		elapsed := now.Sub(a.lastIntegrate)
		for id, v := range a.io {
			state, err := a.cp.Connector(id)
			if err != nil {
				continue
			}
			v.Integrate(elapsed, state.Status() == core.ChargePointStatusCharging)
		}
	}
	a.lastIntegrate = now
	a.cp.Tick(ctx)
}

// boot registers at the central system after every connect, retrying at the
// interval it asks for until accepted.
func (a *App) boot(ctx context.Context) {
	for {
		conf := &core.BootNotificationConfirmation{}
		err := a.client.Call(ctx, core.BootNotificationFeatureName, ocpp.BootNotification(a.cfg.ChargePoint.Firmware), conf)
		retry := a.cfg.ReconnectInterval()
		switch {
		case err != nil:
			a.logger.Warn("boot notification failed", zap.Error(err))
		case conf.Status == core.RegistrationStatusAccepted:
			a.logger.Info("boot notification accepted", zap.Int("heartbeat_interval", conf.Interval))
			return
		default:
			a.logger.Warn("boot notification not accepted", zap.String("status", string(conf.Status)))
			if conf.Interval > 0 {
				retry = time.Duration(conf.Interval) * time.Second
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// Run starts the driving loop, the central system link and the diagnostics API.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.loop.Submit(func() { a.cp.Resume(gctx) })

	g.Go(func() error { return a.loop.Run(gctx) })
	g.Go(func() error { return a.dialer.Run(gctx) })
	g.Go(func() error { return a.httpServer.Run(gctx) })

	a.logger.Info("charge point started",
		zap.String("charge_point_id", a.cfg.ChargePoint.ID),
		zap.Int("connectors", a.cfg.ChargePoint.Connectors))
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
