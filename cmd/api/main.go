package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-platform/internal/audio"
	"voice-platform/internal/audit"
	"voice-platform/internal/auth"
	"voice-platform/internal/calls"
	"voice-platform/internal/config"
	"voice-platform/internal/conversation"
	"voice-platform/internal/numbers"
	"voice-platform/internal/publisher"
	"voice-platform/internal/speech"
	"voice-platform/internal/storage"
	"voice-platform/internal/telephony"
	"voice-platform/internal/voice"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, utils.DriverPgx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.Migrate(rootCtx, db, log); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	carrier, err := newCarrier(cfg)
	if err != nil {
		log.Error("carrier init failed", "provider", cfg.Carrier.Provider, "err", err)
		os.Exit(1)
	}

	speechCfg := speech.Config{APIKey: cfg.Speech.CartesiaAPIKey, Voice: cfg.Voice.TTSVoice, Language: cfg.Voice.Language}
	stt, err := speech.NewCartesiaSTT(speechCfg, log)
	if err != nil {
		log.Error("stt init failed", "err", err)
		os.Exit(1)
	}
	tts, err := speech.NewCartesiaTTS(speechCfg)
	if err != nil {
		log.Error("tts init failed", "err", err)
		os.Exit(1)
	}

	engine, err := conversation.NewGemini(rootCtx, conversation.GeminiConfig{
		APIKey:       cfg.LLM.GeminiAPIKey,
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
	}, log)
	if err != nil {
		log.Error("conversation engine init failed", "err", err)
		os.Exit(1)
	}

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	sinks := calls.MultiSink{Sinks: []calls.EventSink{auditSvc}, Logger: log}

	var pub publisher.Publisher
	if cfg.MQTT.Broker != "" {
		mqttPub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      1,
		})
		if err != nil {
			log.Error("mqtt init failed", "broker", cfg.MQTT.Broker, "err", err)
			os.Exit(1)
		}
		pub = mqttPub
		sinks.Sinks = append(sinks.Sinks, publisher.NewCallEventSink(pub, cfg.MQTT.TopicPrefix))
	}

	callRepo := calls.NewPostgresRepo(db)
	deps := calls.ManagerDeps{
		Repo:    callRepo,
		Carrier: carrier,
		Engine:  engine,
		STT:     stt,
		TTS:     tts,
		Events:  sinks,
		Logger:  log,
	}
	if g := calls.NewRedisCapacityGate(rdb, cfg.Voice.TenantCallLimit, 0); g != nil {
		deps.Gate = g
	}
	manager := calls.NewManager(calls.ManagerConfig{
		MaxConcurrent: cfg.Voice.MaxConcurrentCalls,
		Recording:     cfg.Voice.RecordingEnabled,
		Bridge: audio.BridgeConfig{
			Voice:            cfg.Voice.TTSVoice,
			Language:         cfg.Voice.Language,
			BargeInThreshold: cfg.Voice.BargeInThreshold,
		},
	}, deps)

	numberSvc := numbers.NewService(numbers.NewPostgresRepo(db), carrier, cfg.Voice.DefaultTenantID, log)
	dispatcher := telephony.NewDispatcher(telephony.DispatcherConfig{
		WebhookSecret: cfg.Carrier.TelnyxWebhookSecret,
		PublicBaseURL: cfg.App.PublicBaseURL,
		Greeting:      cfg.Voice.Greeting,
	}, telephony.DispatcherDeps{
		Carrier: carrier,
		Calls:   manager,
		Tenants: numberSvc,
		Logger:  log,
	})

	voiceSvc := voice.NewService(voice.Deps{
		Carrier:  carrier,
		Calls:    manager,
		Numbers:  numberSvc,
		Webhooks: dispatcher,
		History:  callRepo,
		Logger:   log,
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:        cfg,
		auth:       authManager,
		voice:      voiceSvc,
		audit:      auditSvc,
		manager:    manager,
		callRepo:   callRepo,
		dispatcher: dispatcher,
		db:         db,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Media sockets are long-lived; the handler manages its own deadlines.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "carrier", carrier.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_calls", manager.ActiveCount())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	manager.ShutdownAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			log.Warn("mqtt close failed", "err", err)
		}
	}
}

func newCarrier(cfg config.Config) (telephony.Carrier, error) {
	if cfg.Carrier.Provider == "twilio" {
		return telephony.NewTwilioCarrier(telephony.TwilioConfig{
			AccountSID: cfg.Carrier.TwilioAccountSID,
			AuthToken:  cfg.Carrier.TwilioAuthToken,
			VoiceURL:   cfg.TwilioVoiceURL(),
			StatusURL:  cfg.TwilioStatusURL(),
		})
	}
	return telephony.NewTelnyxClient(telephony.TelnyxConfig{
		APIKey:       cfg.Carrier.TelnyxAPIKey,
		ConnectionID: cfg.Carrier.TelnyxConnectionID,
	})
}
