package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// WebhookProcessor is the entry point the Telnyx webhook route calls.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte, headers map[string]string) (Response, error)
}

// WebhookHandler converts carrier webhooks to dispatcher calls and writes the
// acknowledgment. No business logic here.
type WebhookHandler struct {
	Processor WebhookProcessor

	// Twilio is optional; set when the Twilio carrier is active.
	Twilio *Dispatcher
	// TwilioAuthToken enables X-Twilio-Signature validation.
	TwilioAuthToken string
	// PublicBaseURL rebuilds the URL Twilio signed.
	PublicBaseURL string
}

func (h WebhookHandler) Telnyx(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Processor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook processor not configured"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Warn("webhook body read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	res, err := h.Processor.HandleWebhook(c.Request.Context(), body, flattenHeaders(c.Request.Header))
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	case errors.Is(err, ErrMalformedEvent):
		log.Warn("webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	case err != nil:
		log.Error("webhook handling failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook failed"})
		return
	}

	if res.Empty() {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h WebhookHandler) TwilioVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, ok := h.twilioForm(c)
	if !ok {
		return
	}
	in := h.Twilio.HandleTwilioVoice(c.Request.Context(), form)
	twiml, err := RenderTwiML(in)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h WebhookHandler) TwilioStatus(c *gin.Context) {
	form, ok := h.twilioForm(c)
	if !ok {
		return
	}
	h.Twilio.HandleTwilioStatus(c.Request.Context(), form)
	c.Status(http.StatusNoContent)
}

func (h WebhookHandler) twilioForm(c *gin.Context) (TwilioVoiceForm, bool) {
	log := logger.FromGin(c)

	if h.Twilio == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "twilio not enabled"})
		return TwilioVoiceForm{}, false
	}
	form, params, err := ParseTwilioVoiceForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return TwilioVoiceForm{}, false
	}
	fullURL := strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
	if err := VerifyTwilioSignature(h.TwilioAuthToken, fullURL, params, c.GetHeader("X-Twilio-Signature")); err != nil {
		log.Warn("twilio signature rejected", "url", fullURL)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return TwilioVoiceForm{}, false
	}
	return form, true
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
