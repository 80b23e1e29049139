package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/activity"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/api"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/hub"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/mutation"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/storage"
)

const defaultEventsChannel = "board-events"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	logger.SetLevel(log.GetLevel())

	ctx := context.Background()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("missing database config")
	}
	db, err := storage.Open(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := storage.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	store := storage.New(db, logger)

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	eventsChannel := os.Getenv("EVENTS_CHANNEL")
	if eventsChannel == "" {
		eventsChannel = defaultEventsChannel
	}

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("SNAPSHOT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid SNAPSHOT_CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cache := storage.NewCache(store, rc, cacheTTL)

	dedupeTTL := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		dedupeTTL = d
	}
	deduper := api.NewRedisDeduper(rc, dedupeTTL)

	var sink activity.Sink = activity.Noop{}
	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		queueName := os.Getenv("ACTIVITY_QUEUE")
		if queueName == "" {
			log.Fatal("ACTIVITY_QUEUE must be set with STORAGE_CONNECTION_STRING")
		}
		activityLog, err := activity.New(connStr, queueName, logger)
		if err != nil {
			log.Fatalf("activity queue: %v", err)
		}
		defer activityLog.Close()
		sink = activityLog
	}

	tp := sdktrace.NewTracerProvider()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()
	otel.SetTracerProvider(tp)

	publisher := mutation.NewRedisPublisher(rc, eventsChannel)
	svc := mutation.New(store, publisher, sink, cache, logger)
	defer svc.Close()

	h := hub.New(logger)
	subCtx, stopSub := context.WithCancel(ctx)
	defer stopSub()
	go hub.SubscribeEvents(subCtx, logger, rc, eventsChannel, h)

	testMode := os.Getenv("AUTH0_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != ""
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		authDomain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || authDomain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Client-ID", "Idempotency-Key"},
	}))
	e.Use(echoprometheus.NewMiddleware("boardsyncd"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Deps{
		Snapshots: cache,
		Members:   store,
		Mutator:   svc,
		Auth:      auth,
		Deduper:   deduper,
		Hub:       h,
		Logger:    logger,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// redisOptions accepts either a redis URL or the comma separated
// host,password=...,ssl=... form used by some hosting environments.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
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
