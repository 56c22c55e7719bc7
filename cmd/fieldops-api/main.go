package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/common/database"
	"fieldops/common/logger"
	mqttcommon "fieldops/common/mqtt"
	rediscommon "fieldops/common/redis"
	"fieldops/internal/config"
	httpapi "fieldops/internal/http"
	"fieldops/internal/metrics"
	"fieldops/internal/mqtt"
	"fieldops/internal/repository"
	"fieldops/internal/service"
	"fieldops/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "fieldops-api")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB：不可用时退回内存 Store（仅用于本地联调）
	var st repository.Store
	var db *sql.DB
	if cfg.DBEnabled {
		d, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		db = d
		st = repository.NewPostgresStore(db)
		log.Info("DB enabled for fieldops-api", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.Database))
	} else {
		st = repository.NewMemoryStore()
		log.Warn("DB disabled, using in-memory store")
	}

	redisClient, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		log.Warn("Redis not reachable, cache and realtime stream degrade to best effort", zap.Error(err))
	}
	stream := store.NewNotificationStream(redisClient, cfg.Notify.StreamMax)
	cache := store.NewLocationCache(store.NewRedisKV(redisClient), cfg.Location.CacheTTL)

	m := metrics.NewCollector()

	publishers := []service.NotificationPublisher{stream}
	var webhook *service.WebhookPublisher
	if cfg.Notify.WebhookURL != "" {
		webhook = service.NewWebhookPublisher(cfg.Notify.WebhookURL, cfg.Notify.Timeout, cfg.Notify.QueueSize, log)
		publishers = append(publishers, webhook)
		log.Info("Notification webhook enabled", zap.String("url", cfg.Notify.WebhookURL))
	}

	var photos service.PhotoStorage
	if cfg.Storage.Enabled {
		ps, err := service.NewMinioPhotoStorage(cfg.Storage)
		if err != nil {
			log.Fatal("Failed to create photo storage", zap.Error(err))
		}
		if err := ps.EnsureBucket(ctx); err != nil {
			log.Warn("Failed to ensure photo bucket", zap.Error(err))
		}
		photos = ps
	}

	authz := service.NewAuthorizer(st)
	notifier := service.NewNotificationService(st, m, log, publishers...)
	jobs := service.NewJobService(st, authz, notifier, m, log)
	assignments := service.NewAssignmentService(st, authz, notifier, log)
	updates := service.NewJobUpdateService(st, authz, notifier, photos, m, log)
	locations := service.NewLocationService(st, authz, cache, m, log)

	auth := httpapi.NewAuthenticator(st.Repos().Profiles, log)
	router := httpapi.NewRouter(m, log)
	router.RegisterJobRoutes(httpapi.NewJobsHandler(auth, jobs, assignments, updates, log))
	router.RegisterLocationRoutes(httpapi.NewLocationsHandler(auth, locations, log))
	router.RegisterNotificationRoutes(httpapi.NewNotificationsHandler(auth, notifier, stream, log))
	router.RegisterOpsRoutes()

	// MQTT 定位上报（可选）
	var broker *mqtt.LocationBroker
	var mqttClient *mqttcommon.Client
	if cfg.MQTT.Enabled && cfg.MQTT.DeviceSecret == "" {
		log.Error("MQTT enabled without MQTT_DEVICE_SECRET, location ingest disabled")
	} else if cfg.MQTT.Enabled {
		c, err := mqttcommon.NewClient(&cfg.MQTT.MQTTConfig, log)
		if err != nil {
			log.Warn("MQTT enabled but connection failed, location ingest disabled", zap.Error(err))
		} else {
			mqttClient = c
			broker = mqtt.NewLocationBroker(c, locations, st.Repos().Profiles, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, cfg.MQTT.DeviceSecret, log)
			go func() {
				if err := broker.Start(ctx); err != nil {
					log.Error("Location broker failed", zap.Error(err))
				}
			}()
		}
	}

	srv := service.NewServer(ctx, cfg.HTTP.Addr, router, service.ServerTimeouts{
		ReadHeader: cfg.HTTP.ReadHeaderTimeout,
		Read:       cfg.HTTP.ReadTimeout,
		Write:      cfg.HTTP.WriteTimeout,
		Idle:       cfg.HTTP.IdleTimeout,
	}, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if broker != nil {
		broker.Stop()
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if webhook != nil {
		if err := webhook.Close(shutdownCtx); err != nil {
			log.Warn("Notification webhook queue dropped on shutdown", zap.Error(err))
		}
	}
	_ = rediscommon.Close(redisClient)
	_ = database.Close(db)
}
