package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/storefront"
	"goflare.io/storefront/cache"
	"goflare.io/storefront/cart"
	"goflare.io/storefront/catalog"
	"goflare.io/storefront/checkout"
	"goflare.io/storefront/config"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/event"
	"goflare.io/storefront/identity"
	"goflare.io/storefront/mail"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
	"goflare.io/storefront/profile"
	"goflare.io/storefront/server"
)

const drainTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, logger); err != nil {
		logger.Fatal("Storefront stopped with error", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	policy, err := cfg.DecrementPolicy()
	if err != nil {
		return err
	}

	// Postgres
	var (
		pool driver.PostgresPool
		tm   driver.Transactor = driver.NoTx{}
	)
	if cfg.Postgres.DSN != "" {
		db, err := driver.ConnectSQL(ctx, cfg.Postgres.DSN, driver.PoolOptions{
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Pool.Close()
		if err = driver.Migrate(ctx, db.Pool); err != nil {
			return err
		}
		pool = db.Pool
		tm = driver.NewTransactionManager(db.Pool, logger)
	} else {
		logger.Warn("DATABASE_URL not set, orders and catalog are kept in memory")
	}

	// Redis
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		if redisClient, err = driver.ConnectRedis(ctx, driver.RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			ClientName: "storefront",
		}); err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// NATS
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		if nc, err = driver.ConnectNATS(cfg.NATS.URL, "storefront", logger); err != nil {
			return err
		}
		defer nc.Drain()
	}

	var readCache cache.Cache = cache.Nop{}
	if redisClient != nil {
		readCache = cache.NewRedisCache(redisClient, "storefront:")
	}

	// 儲存庫
	var (
		products  catalog.Repository
		orderRepo order.Repository
		eventRepo event.Repository
		persister cart.Persister
	)
	if pool != nil {
		products = catalog.NewRepository(pool, readCache, logger)
		orderRepo = order.NewRepository(pool, readCache, logger)
		eventRepo = event.NewRepository(pool, logger)
	} else {
		products = catalog.NewMemoryRepository()
		orderRepo = order.NewMemoryRepository()
		eventRepo = event.NewMemoryRepository()
	}
	if err = catalog.Seed(ctx, products); err != nil {
		return err
	}

	switch {
	case redisClient != nil && pool != nil:
		persister = cart.Chain{
			cart.NewRedisPersister(redisClient, cfg.Cart.SnapshotTTL, logger),
			cart.NewPostgresPersister(cart.NewRepository(pool, logger), tm),
		}
	case redisClient != nil:
		persister = cart.NewRedisPersister(redisClient, cfg.Cart.SnapshotTTL, logger)
	case pool != nil:
		persister = cart.NewPostgresPersister(cart.NewRepository(pool, logger), tm)
	default:
		persister = cart.NewMemoryPersister()
	}

	wp := storefront.NewWorkerPool(cfg.Cart.Workers, nil, logger)

	hub := cart.NewHub(persister, logger,
		cart.WithDecrementPolicy(policy),
		cart.WithDispatcher(wp),
		cart.WithSaveTimeout(cfg.Cart.SaveTimeout),
	)
	if nc != nil {
		hub.Subscribe(cart.NewBroadcaster(nc, logger).Listener())
	}

	// 郵件
	var sender mail.Sender = mail.NewLogSender(logger)
	if cfg.SendGrid.APIKey != "" {
		sender = mail.NewSendGridSender(cfg.SendGrid.APIKey, cfg.SendGrid.From, cfg.SendGrid.FromName, logger)
	}
	mailer := mail.NewService(sender, cfg.Shop.Name, cfg.Shop.Inbox, logger)

	// 身分與會員資料
	var (
		provider identity.Provider = identity.Disabled{}
		profiles profile.Repository = profile.NewMemoryRepository()
	)
	if cfg.Firebase.ProjectID != "" {
		fb, err := driver.ConnectFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		defer fb.Close()

		verifier, err := identity.NewToolkitVerifier(ctx, cfg.Firebase.APIKey)
		if err != nil {
			return err
		}
		provider = identity.NewFirebaseProvider(fb.Auth, verifier, mailer, logger)
		profiles = profile.NewFirestoreRepository(fb.Firestore, logger)
	} else {
		logger.Warn("FIREBASE_PROJECT_ID not set, sign in is disabled")
	}
	signup := profile.NewSignup(provider, profiles, logger)

	// 付款
	callbacks := payment.NewCallbacks(logger)
	var gateway payment.Gateway = payment.Unavailable{}
	if cfg.Stripe.SecretKey != "" {
		gateway = payment.NewStripeGateway(payment.NewIntentClient(cfg.Stripe.SecretKey), callbacks, logger)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout is disabled")
	}

	orders := order.NewService(orderRepo, tm, logger)
	initiator := checkout.NewInitiator(hub, orders, gateway, products, mailer, checkout.Config{
		PublishableKey: cfg.Stripe.PublishableKey,
		Currency:       cfg.Shop.Currency,
		States:         cfg.Shop.States,
	}, logger)

	deps := storefront.Dependencies{
		Hub:       hub,
		Catalog:   catalog.NewService(products, logger),
		Stock:     products,
		Orders:    orders,
		Events:    eventRepo,
		Callbacks: callbacks,
		Checkout:  initiator,
		Pool:      wp,
	}
	var publisher payment.Publisher = storefront.NewLoopback(ctx, wp)
	if nc != nil {
		deps.Bus = nc
		publisher = nc
	}
	svc := storefront.NewService(ctx, deps, logger)

	var relay *payment.WebhookRelay
	if cfg.Stripe.WebhookSecret != "" {
		relay = payment.NewWebhookRelay(cfg.Stripe.WebhookSecret, publisher, logger)
	}

	srv := server.New(svc, provider, signup, mailer, relay, server.Options{
		Addr:          cfg.HTTP.Addr,
		AllowedOrigin: cfg.HTTP.AllowedOrigin,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.HTTP.ShutdownTimeout)
	})
	g.Go(func() error {
		hub.RunEviction(gctx, cfg.Cart.EvictInterval, cfg.Cart.IdleTimeout)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := svc.Close(); err != nil {
			logger.Warn("Failed to close service", zap.Error(err))
		}

		// 等待未完成的購物車寫入
		done := make(chan struct{})
		go func() {
			wp.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			logger.Warn("Timed out draining worker pool")
		}
		return nil
	})

	logger.Info("Storefront started",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("decrement_policy", string(policy)),
		zap.Bool("postgres", pool != nil),
		zap.Bool("redis", redisClient != nil),
		zap.Bool("nats", nc != nil))

	return g.Wait()
}
