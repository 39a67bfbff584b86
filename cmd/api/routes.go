package main

import (
	"context"
	"database/sql"
	"time"

	"voice-platform/internal/audit"
	"voice-platform/internal/auth"
	"voice-platform/internal/calls"
	"voice-platform/internal/config"
	"voice-platform/internal/httpapi"
	"voice-platform/internal/media"
	"voice-platform/internal/reporting"
	"voice-platform/internal/telephony"
	"voice-platform/internal/voice"
	"voice-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg        config.Config
	auth       *auth.Manager
	voice      *voice.Service
	audit      *audit.Service
	manager    *calls.Manager
	callRepo   *calls.PostgresRepo
	dispatcher *telephony.Dispatcher
	db         *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	health := httpapi.Health{Checks: map[string]httpapi.Checker{
		"postgres": func(ctx context.Context) error { return utils.HealthCheck(ctx, d.db, 2*time.Second) },
		"carrier":  d.voice.Ready,
	}}
	r.GET("/healthz", health.Live)
	r.GET("/readyz", health.Ready)

	// Carrier webhooks (public, signature-checked inside the handlers).
	wh := telephony.WebhookHandler{Processor: d.voice}
	if d.cfg.Carrier.Provider == "twilio" {
		wh.Twilio = d.dispatcher
		wh.TwilioAuthToken = d.cfg.Carrier.TwilioAuthToken
		wh.PublicBaseURL = d.cfg.App.PublicBaseURL
	}
	r.POST("/webhooks/telnyx", wh.Telnyx)
	r.POST("/webhooks/twilio/voice", wh.TwilioVoice)
	r.POST("/webhooks/twilio/status", wh.TwilioStatus)

	// Carrier media stream. The call control ID must belong to a live call.
	mh := media.NewHandler(d.manager, 0)
	r.GET("/media/:call_control_id", mh.Serve)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	httpapi.Register(v1, httpapi.Handlers{
		Auth:    d.auth,
		Voice:   d.voice,
		Audit:   d.audit,
		Reports: reporting.NewService(d.callRepo),
	})
}
