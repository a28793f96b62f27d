package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/noah-isme/autosms-go/internal/poller"
	"github.com/noah-isme/autosms-go/internal/webhook"
)

// WebhookResult is echoed back to the webhook sender.
type WebhookResult struct {
	OrderID string `json:"order_id,omitempty"`
	State   string `json:"state,omitempty"`
	Applied bool   `json:"applied"`
}

// eventState maps a pushed event onto a checkout state. An empty result means
// the event does not settle anything.
func eventState(evt webhook.Event) string {
	switch strings.ToLower(strings.TrimSpace(evt.Event)) {
	case "payment.verified", "payment.received", "order.paid":
		return StatePaid
	case "order.cancelled", "order.canceled":
		return StateCancelled
	case "order.expired":
		return StateTimeout
	}
	if evt.Order != nil {
		switch strings.ToLower(evt.Order.PaymentStatus) {
		case "paid", "verified", "completed":
			return StatePaid
		}
		switch strings.ToLower(evt.Order.Status) {
		case "cancelled", "canceled":
			return StateCancelled
		case "expired":
			return StateTimeout
		}
	}
	return ""
}

// HandleWebhook settles a tracked order from a verified webhook event. It is a
// webhook.Callback. Events for unknown orders, and events the order's current
// state does not allow, are acknowledged without changes. A failed store
// write is returned so the sender retries.
func (s *Service) HandleWebhook(ctx context.Context, evt webhook.Event) (any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if evt.Order == nil || evt.Order.ID == "" {
		return WebhookResult{}, nil
	}
	orderID := evt.Order.ID.String()
	state := eventState(evt)
	if state == "" {
		return WebhookResult{OrderID: orderID}, nil
	}
	st, err := s.Store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrStatusNotFound) {
			return WebhookResult{OrderID: orderID}, nil
		}
		return nil, err
	}
	if !canTransition(st.State, state) {
		return WebhookResult{OrderID: orderID, State: st.State}, nil
	}
	st, applied, err := s.settle(ctx, orderID, state, evt.Transaction)
	if err != nil {
		return nil, err
	}
	if !applied {
		return WebhookResult{OrderID: orderID, State: st.State}, nil
	}
	s.Poller.Stop(poller.Key{OrderID: orderID, Phone: st.Phone})
	s.Logger.Info().Str("order_id", orderID).Str("event", evt.Event).Str("state", state).Msg("checkout_webhook_applied")
	return WebhookResult{OrderID: orderID, State: state, Applied: true}, nil
}
