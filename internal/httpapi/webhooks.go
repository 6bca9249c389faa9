package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/internal/pipeline"
	"voiceagent-platform/internal/telephony"
	"voiceagent-platform/internal/tenancy"
	"voiceagent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerWebhookSecret = "X-Webhook-Secret"
	maxWebhookBody      = 1 << 20

	sourceVoice  = "voice"
	sourceTwilio = "twilio"
)

// CallProcessor runs one normalized event through the call pipeline.
type CallProcessor interface {
	Process(ctx context.Context, ev telephony.CallEvent) (pipeline.Result, error)
}

// Webhooks serves the provider-facing endpoints.
//
// Status codes are the redelivery contract with the provider: 4xx for
// events that will never succeed, 429 and 5xx for events worth retrying.
type Webhooks struct {
	Normalizer *telephony.Normalizer
	Processor  CallProcessor
	// Secret, when set, must match the X-Webhook-Secret header.
	Secret  string
	Metrics *metrics.Metrics
}

// RequireSecret rejects deliveries without the shared secret. It is a
// no-op when no secret is configured.
func (h Webhooks) RequireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(headerWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			h.Metrics.Webhook(sourceOf(c), "unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

// Voice accepts a JSON end-of-call or status payload.
func (h Webhooks) Voice(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.Metrics.Webhook(sourceVoice, "invalid")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	ev, err := h.Normalizer.Normalize(raw)
	if err != nil {
		h.respond(c, sourceVoice, pipeline.Result{}, err)
		return
	}
	res, err := h.Processor.Process(c.Request.Context(), ev)
	h.respond(c, sourceVoice, res, err)
}

// TwilioStatus accepts a form-encoded Twilio status callback.
func (h Webhooks) TwilioStatus(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	form, err := telephony.ParseTwilioStatusCallback(c.Request)
	if err != nil {
		h.respond(c, sourceTwilio, pipeline.Result{}, err)
		return
	}
	ev, err := h.Normalizer.FromTwilio(form)
	if err != nil {
		h.respond(c, sourceTwilio, pipeline.Result{}, err)
		return
	}
	res, err := h.Processor.Process(c.Request.Context(), ev)
	h.respond(c, sourceTwilio, res, err)
}

func (h Webhooks) respond(c *gin.Context, source string, res pipeline.Result, err error) {
	if err == nil {
		h.Metrics.Webhook(source, "ok")
		c.JSON(http.StatusOK, gin.H{"success": true, "callId": res.Call.ID})
		return
	}

	status, outcome, msg := classify(err)
	h.Metrics.Webhook(source, outcome)
	log := logger.From(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error("webhook processing failed", "source", source, "err", err)
		_ = c.Error(err)
	} else {
		log.Warn("webhook rejected", "source", source, "status", status, "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func classify(err error) (status int, outcome, msg string) {
	switch {
	case errors.Is(err, telephony.ErrInvalidPayload), errors.Is(err, calls.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid", "invalid payload"
	case errors.Is(err, tenancy.ErrTenantNotResolved):
		return http.StatusBadRequest, "unresolved", "tenant not resolved"
	case errors.Is(err, calls.ErrTenantMismatch):
		return http.StatusConflict, "conflict", "call belongs to another tenant"
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusTooManyRequests, "busy", "tenant busy, retry later"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout", "processing timed out, retry later"
	default:
		return http.StatusInternalServerError, "error", "internal error"
	}
}

func sourceOf(c *gin.Context) string {
	if c.FullPath() == "/webhooks/twilio/status" {
		return sourceTwilio
	}
	return sourceVoice
}
