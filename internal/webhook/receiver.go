// Package webhook accepts signed notifications pushed by the AutoSMS service.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/autosms-go/internal/autosms"
	"github.com/noah-isme/autosms-go/internal/common"
	"github.com/noah-isme/autosms-go/internal/obs"
	"github.com/noah-isme/autosms-go/internal/signer"
)

// SignatureHeader carries the HMAC of the webhook body.
const SignatureHeader = "X-Webhook-Signature"

const (
	msgEmptyPayload     = "Empty payload"
	msgMissingSignature = "Missing signature"
	msgInvalidSignature = "Invalid signature"
	msgInvalidJSON      = "Invalid JSON"
	msgDuplicate        = "Duplicate webhook"
)

// Event is a parsed webhook payload. Raw always holds the verified body.
type Event struct {
	Event       string               `json:"event"`
	Order       *autosms.Order       `json:"order,omitempty"`
	Transaction *autosms.Transaction `json:"transaction,omitempty"`
	Raw         json.RawMessage      `json:"-"`
}

// Callback handles a verified event. Its result is echoed back to the sender.
type Callback func(ctx context.Context, evt Event) (any, error)

// Response is the status and JSON body a webhook request resolves to.
type Response struct {
	Status int
	Body   map[string]any
}

// ReplayStore remembers payloads already processed. *redis.Client satisfies it.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Receiver validates webhook requests against a shared secret. A Receiver
// with an empty Secret rejects every signed request.
type Receiver struct {
	Secret    string
	Replay    ReplayStore
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle runs raw through the validation states and, when every check passes,
// invokes callback exactly once before returning.
func (rc Receiver) Handle(ctx context.Context, raw []byte, signature string, callback Callback) Response {
	ctx, span := otel.Tracer("webhook.Receiver").Start(ctx, "Webhook.Handle")
	defer span.End()

	res := rc.handle(ctx, raw, signature, callback)
	span.SetAttributes(attribute.Int("http.status_code", res.Status))
	if obs.WebhookTotal != nil {
		obs.WebhookTotal.WithLabelValues(outcomeLabel(res)).Inc()
	}
	return res
}

func (rc Receiver) handle(ctx context.Context, raw []byte, signature string, callback Callback) Response {
	if len(raw) == 0 {
		return errorResponse(http.StatusBadRequest, msgEmptyPayload)
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		recordSignature("missing")
		rc.Logger.Warn().Msg("webhook_signature_missing")
		return errorResponse(http.StatusUnauthorized, msgMissingSignature)
	}
	if !signer.Verify(raw, rc.Secret, signature) {
		recordSignature("invalid")
		rc.Logger.Warn().Bool("secret_configured", rc.Secret != "").Msg("webhook_signature_invalid")
		return errorResponse(http.StatusUnauthorized, msgInvalidSignature)
	}
	recordSignature("valid")
	if !json.Valid(raw) {
		return errorResponse(http.StatusBadRequest, msgInvalidJSON)
	}
	evt := parseEvent(raw)

	var replayKey string
	if rc.Replay != nil {
		key := "autosms:webhook:" + common.Sha256Hex(string(raw))
		fresh, err := rc.Replay.SetNX(ctx, key, "1", rc.replayTTL()).Result()
		if err != nil {
			rc.Logger.Error().Err(err).Msg("webhook_replay_check_failed")
			return errorResponse(http.StatusInternalServerError, "replay protection failed")
		}
		if !fresh {
			rc.Logger.Info().Str("event", evt.Event).Msg("webhook_replay_prevented")
			return errorResponse(http.StatusConflict, msgDuplicate)
		}
		replayKey = key
	}

	result, err := invoke(ctx, callback, evt)
	if err != nil {
		rc.Logger.Error().Err(err).Str("event", evt.Event).Msg("webhook_callback_failed")
		if replayKey != "" {
			// let the sender's retry through
			if delErr := rc.Replay.Del(context.WithoutCancel(ctx), replayKey).Err(); delErr != nil {
				rc.Logger.Error().Err(delErr).Msg("webhook_replay_release_failed")
			}
		}
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return Response{Status: http.StatusOK, Body: map[string]any{"success": true, "result": result}}
}

func (rc Receiver) replayTTL() time.Duration {
	if rc.ReplayTTL <= 0 {
		return 24 * time.Hour
	}
	return rc.ReplayTTL
}

// parseEvent decodes the well-known fields. Payloads that are valid JSON but
// do not match the Event shape are still delivered through Raw.
func parseEvent(raw []byte) Event {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		evt = Event{}
	}
	evt.Raw = append(json.RawMessage(nil), raw...)
	return evt
}

func invoke(ctx context.Context, callback Callback, evt Event) (result any, err error) {
	if callback == nil {
		return nil, nil
	}
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("webhook callback panic: %v", p)
		}
	}()
	return callback(ctx, evt)
}

func errorResponse(status int, msg string) Response {
	return Response{Status: status, Body: map[string]any{"error": msg}}
}

func recordSignature(result string) {
	if obs.SignatureChecksTotal != nil {
		obs.SignatureChecksTotal.WithLabelValues("webhook", result).Inc()
	}
}

func outcomeLabel(res Response) string {
	switch res.Status {
	case http.StatusOK:
		return "success"
	case http.StatusConflict:
		return "duplicate"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadRequest:
		return "bad_request"
	default:
		return "error"
	}
}
