package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/sync/errgroup"

	identity "github.com/goliatone/go-care-identity"
	"github.com/goliatone/go-care-identity/activitymap"
	"github.com/goliatone/go-care-identity/config"
	"github.com/goliatone/go-care-identity/notifier/kafka"
	"github.com/goliatone/go-care-identity/notifier/rabbitmq"
	"github.com/goliatone/go-care-identity/notifier/webhook"
)

type App struct {
	config   *gconfig.Container[*config.Config]
	logger   *glog.BaseLogger
	db       *bun.DB
	repo     identity.RepositoryManager
	service  *identity.Service
	srv      router.Server[*fiber.App]
	metrics  *http.Server
	registry *prometheus.Registry
	closers  []func() error
}

func (a *App) Config() *config.Config {
	return a.config.Raw()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("identity"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := gconfig.New(&config.Config{})
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Load(ctx); err != nil {
		panic(err)
	}
	lgr.GetLogger("config").Debug("configuration loaded", "env", cfg.Raw().GetApp().Env)

	app := &App{
		config: cfg,
		logger: lgr,
	}

	if cfg.Raw().GetApp().Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(cfg.Raw()))
		fmt.Println("============")
	}

	if err := run(ctx, app); err != nil {
		app.GetLogger("app").Error("identity server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *App) error {
	defer func() {
		for i := len(app.closers) - 1; i >= 0; i-- {
			if err := app.closers[i](); err != nil {
				app.GetLogger("app").Warn("close failed", "error", err)
			}
		}
	}()

	if err := WithPersistence(ctx, app); err != nil {
		return err
	}

	if err := WithMetrics(ctx, app); err != nil {
		return err
	}

	if err := WithService(ctx, app); err != nil {
		return err
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := app.Config().GetApp().Addr
		app.GetLogger("http").Info("serving", "addr", addr)
		return app.srv.Serve(addr)
	})

	if app.metrics != nil {
		g.Go(func() error {
			app.GetLogger("metrics").Info("serving", "addr", app.metrics.Addr)
			if err := app.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.srv.Shutdown(shutdownCtx); err != nil {
			app.GetLogger("http").Warn("shutdown failed", "error", err)
		}
		if app.metrics != nil {
			if err := app.metrics.Shutdown(shutdownCtx); err != nil {
				app.GetLogger("metrics").Warn("shutdown failed", "error", err)
			}
		}

		app.service.Close()
		return nil
	})

	return g.Wait()
}

func WithPersistence(ctx context.Context, app *App) error {
	pcfg := app.Config().GetPersistence()

	var db *bun.DB
	switch pcfg.GetDriver() {
	case config.DriverPostgres:
		sqldb, err := sql.Open("postgres", pcfg.GetDSN())
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, pcfg.GetDSN())
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if n := pcfg.GetMaxOpenConns(); n > 0 {
		db.SetMaxOpenConns(n)
	}
	app.onClose(db.Close)

	pingCtx, cancel := context.WithTimeout(ctx, pcfg.GetPingTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "database unreachable")
	}

	if err := identity.Migrate(ctx, db, app.GetLogger("migrations")); err != nil {
		return err
	}

	app.db = db
	app.repo = identity.NewRepositoryManager(db)
	app.repo.MustValidate()

	return nil
}

func WithMetrics(_ context.Context, app *App) error {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mcfg := app.Config().GetMetrics()
	if !mcfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(mcfg.GetPath(), promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	app.metrics = &http.Server{
		Addr:              mcfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func WithService(ctx context.Context, app *App) error {
	notifier, err := newNotifier(ctx, app)
	if err != nil {
		return err
	}

	service, err := identity.NewService(app.repo, app.Config().GetAuth(),
		identity.WithServiceLogger(app.GetLogger("identity")),
		identity.WithServiceNotifier(notifier),
		identity.WithServiceMetrics(identity.NewMetrics(app.registry)),
		identity.WithServiceActivitySink(activitymap.Sink(func(_ context.Context, record activitymap.Record) error {
			app.GetLogger("activity").Info(record.Verb,
				"actor", record.ActorID,
				"object", record.ObjectType,
				"object_id", record.ObjectID,
				"metadata", print.MaybePrettyJSON(record.Metadata),
			)
			return nil
		})),
	)
	if err != nil {
		return err
	}

	app.service = service
	return nil
}

func newNotifier(ctx context.Context, app *App) (identity.Notifier, error) {
	ncfg := app.Config().GetNotifier()

	switch ncfg.Transport {
	case config.TransportRabbitMQ:
		conn, err := amqp.Dial(ncfg.AMQPURL)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to connect to rabbitmq")
		}
		app.onClose(conn.Close)

		ch, err := conn.Channel()
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to open rabbitmq channel")
		}

		if err := ch.ExchangeDeclare(ncfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to declare exchange")
		}
		return rabbitmq.NewPublisher(ch, ncfg.Exchange), nil

	case config.TransportKafka:
		client, err := kafka.NewClient(ncfg.Brokers, kgo.ProducerLinger(0))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, errors.Wrap(err, errors.CategoryOperation, "kafka brokers unreachable")
		}
		app.onClose(func() error {
			client.Close()
			return nil
		})
		return kafka.NewNotifier(client, ncfg.Topic), nil

	case config.TransportWebhook:
		return webhook.NewSender(ncfg.URL,
			webhook.WithAuthToken(ncfg.Token),
			webhook.WithRetries(ncfg.Retries),
		), nil

	default:
		return identity.LogNotifier{Logger: app.GetLogger("notifier")}, nil
	}
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.Config().GetApp().Debug,
			StrictRouting:     false,
		}))
	})

	srv.Router().Get("/health", func(ctx router.Context) error {
		return ctx.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})

	controller := app.service.Controller(
		identity.WithControllerDebug(app.Config().GetApp().Debug),
	)
	identity.RegisterIdentityRoutes(srv.Router(), controller)

	app.srv = srv
	return nil
}
