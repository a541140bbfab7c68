package main

import (
    "context"
    "errors"
    "flag"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/rabbitmq/amqp091-go"

    "fleetsim/internal/api"
    "fleetsim/internal/config"
    "fleetsim/internal/matrix"
    "fleetsim/internal/metrics"
    "fleetsim/internal/queue"
    "fleetsim/internal/roadnet"
    "fleetsim/internal/sim"
    "fleetsim/internal/store"
    "fleetsim/internal/webhooks"
)

func main() {
    configPath := flag.String("config", os.Getenv("FLEETSIM_CONFIG"), "path to YAML config file")
    flag.Parse()

    if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
        log.Printf("env: .env not loaded: %v", err)
    }
    cfg, err := config.Load(*configPath)
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    metrics.RegisterDefault()

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    cache, err := openCache(ctx, cfg)
    if err != nil {
        log.Fatalf("failed to open cache: %v", err)
    }
    defer func() { _ = cache.Close() }()

    var road matrix.Road
    if cfg.Road.URL != "" {
        road = roadnet.NewClient(roadnet.Config{
            BaseURL:           cfg.Road.URL,
            Profile:           cfg.Road.Profile,
            BatchEnabled:      cfg.Road.Batch,
            RequestsPerSecond: cfg.Road.RPS,
            MaxAttempts:       cfg.Road.MaxAttempts,
        })
    }

    // Broker selection
    var broker api.EventBroker = api.NewBroker()
    if cfg.RedisURL != "" {
        if rb, err := api.NewRedisBroker(cfg.RedisURL); err == nil { broker = rb } else { log.Printf("broker: redis unavailable, using memory: %v", err) }
    }

    var sinks []sim.EventSink
    var conn *amqp091.Connection
    if cfg.AMQPURL != "" {
        if conn, err = queue.Dial(cfg.AMQPURL); err != nil {
            log.Printf("queue: disabled: %v", err)
            conn = nil
        } else {
            defer func() { _ = conn.Close() }()
            if pub, err := queue.NewPublisher(conn); err == nil {
                sinks = append(sinks, pub)
            } else {
                log.Printf("queue: publisher disabled: %v", err)
            }
        }
    }

    if len(cfg.Webhooks.Subscriptions) > 0 {
        outbox := webhooks.NewOutbox(cfg.Webhooks.OutboxSize)
        subs := make([]webhooks.Subscription, 0, len(cfg.Webhooks.Subscriptions))
        for _, s := range cfg.Webhooks.Subscriptions {
            subs = append(subs, webhooks.Subscription{URL: s.URL, Secret: s.Secret, Events: s.Events})
        }
        sinks = append(sinks, webhooks.NewPublisher(outbox, subs))
        worker := webhooks.NewWorker(outbox, cfg.Webhooks.MaxAttempts)
        worker.Start()
        defer close(worker.Stop)
    }

    srvDeps := api.NewServer(cfg, road, cache, broker, sinks...)
    defer srvDeps.Close()

    if conn != nil {
        if consumer, err := queue.NewTicketConsumer(conn, srvDeps.Sessions); err != nil {
            log.Printf("queue: ticket intake disabled: %v", err)
        } else {
            go func() {
                if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
                    log.Printf("queue: ticket consumer stopped: %v", err)
                }
            }()
        }
    }

    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srvDeps.Routes(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    go func() {
        <-ctx.Done()
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        if err := srv.Shutdown(shutdownCtx); err != nil {
            log.Printf("shutdown: %v", err)
        }
    }()

    log.Printf("API listening on %s cache=%s", srv.Addr, cfg.CacheBackend())
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

// openCache picks Postgres, then Redis, then memory.
func openCache(ctx context.Context, cfg config.Config) (store.Store, error) {
    opts := store.Options{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}
    switch cfg.CacheBackend() {
    case "postgres":
        pg, err := store.NewPostgres(cfg.DatabaseURL, opts)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            if err := pg.Migrate(ctx); err != nil {
                _ = pg.Close()
                return nil, err
            }
        }
        return pg, nil
    case "redis":
        return store.NewRedis(cfg.RedisURL, opts)
    default:
        return store.NewMemory(opts), nil
    }
}
