package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"todo-api/api"
	"todo-api/domain"
	"todo-api/storage"
)

func main() {
	logger := log.New()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		log.SetFormatter(&log.JSONFormatter{})
		logger.SetFormatter(&log.JSONFormatter{})
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Errorf("tracer shutdown: %v", err)
		}
	}()

	auth, err := api.NewAuthFromEnv()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	if auth.Disabled() {
		log.Warn("AUTH_DISABLED is set; every request is authorized")
	}

	var seed []domain.Task
	if v := os.Getenv("SEED_TASKS"); v == "" {
		seed = domain.DefaultTasks()
	} else if on, err := strconv.ParseBool(v); err != nil {
		log.Fatalf("invalid SEED_TASKS: %v", err)
	} else if on {
		seed = domain.DefaultTasks()
	}
	store := storage.NewMemoryStore(seed...)

	cfg := api.Config{BaseURL: os.Getenv("PUBLIC_BASE_URL")}

	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(redisOptionsFromConnString(redisConn))
		defer rc.Close()
		ttl := 24 * time.Hour
		if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid IDEMPOTENCY_TTL: %v", err)
			}
			ttl = d
		}
		cfg.Idempotency = api.NewRedisIdempotency(rc, ttl)
		log.Infof("idempotency keys enabled, ttl: %v", ttl)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	eventsQueue := os.Getenv("TASK_EVENTS_QUEUE")
	if connStr != "" && eventsQueue != "" {
		concurrency := 0
		if v := os.Getenv("EVENT_QUEUE_CONCURRENCY"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				log.Fatalf("invalid EVENT_QUEUE_CONCURRENCY: %v", v)
			}
			concurrency = n
		}
		queue, err := storage.NewEventQueue(connStr, eventsQueue, concurrency)
		if err != nil {
			log.Fatalf("event queue: %v", err)
		}
		initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = queue.EnsureQueue(initCtx)
		cancel()
		if err != nil {
			log.Fatalf("create event queue %s: %v", eventsQueue, err)
		}
		cfg.Events = api.NewEventDispatcher(queue, api.DispatcherConfigFromEnv(), logger)
		defer cfg.Events.Close()
	} else if connStr != "" || eventsQueue != "" {
		log.Fatal("STORAGE_CONNECTION_STRING and TASK_EVENTS_QUEUE must be set together")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(api.RequestIDMiddleware())
	e.Use(api.RequestLoggerMiddleware(logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, store, auth, cfg, logger)

	listenAddr := ":5000"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	if err := e.Start(listenAddr); err != nil {
		log.Errorf("server stopped: %v", err)
	}
}

// redisOptionsFromConnString accepts a redis:// URL or the
// "host:port,password=...,ssl=true" form used by Azure Cache for Redis.
func redisOptionsFromConnString(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
