// Package checkout serves the browser checkout flow: it renders the order
// form and exposes the JSON endpoints the page calls while the customer
// transfers the money.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/autosms-go/internal/autosms"
	"github.com/noah-isme/autosms-go/internal/common"
	"github.com/noah-isme/autosms-go/internal/poller"
)

// API is the subset of the AutoSMS client the checkout flow needs.
type API interface {
	CreateOrder(ctx context.Context, req autosms.CreateOrderRequest) (*autosms.CreateOrderResult, error)
	VerifyOrderPayment(ctx context.Context, orderID, phone string) (*autosms.PaymentVerification, error)
	CancelOrder(ctx context.Context, orderID string) (json.RawMessage, error)
}

// Service coordinates order creation, background polling and status reads.
type Service struct {
	API             API
	Poller          *poller.Poller
	Store           StatusStore
	Locker          Locker
	Logger          zerolog.Logger
	PollInterval    time.Duration
	PollMaxAttempts int

	// mu serialises transitions when no Locker is configured.
	mu sync.Mutex
}

// Create registers the order remotely, records it as pending and starts a
// poll that settles the status.
func (s *Service) Create(ctx context.Context, req autosms.CreateOrderRequest) (*autosms.CreateOrderResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	res, err := s.API.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Success || res.Order == nil || res.Order.ID == "" {
		msg := res.Message
		if msg == "" {
			msg = "order was not accepted"
		}
		return nil, common.NewAppError("ORDER_REJECTED", msg, http.StatusUnprocessableEntity, nil)
	}

	orderID := res.Order.ID.String()
	phone := autosms.NormalizePhone(req.CustomerPhone)
	st := Status{
		OrderID:   orderID,
		Phone:     phone,
		State:     StatePending,
		Amount:    res.Order.TotalAmount,
		Currency:  res.Order.Currency,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.Store.Put(ctx, st); err != nil {
		return nil, err
	}

	// the poll outlives the request that started it
	pollCtx := context.WithoutCancel(ctx)
	_, err = s.Poller.Start(pollCtx, poller.Request{
		OrderID:     orderID,
		Phone:       phone,
		Interval:    s.PollInterval,
		MaxAttempts: s.PollMaxAttempts,
		OnSuccess: func(_ *autosms.Order, tx *autosms.Transaction) {
			s.settle(pollCtx, orderID, StatePaid, tx)
		},
		OnTimeout: func() {
			s.settle(pollCtx, orderID, StateTimeout, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info().Str("order_id", orderID).Msg("checkout_order_created")
	return res, nil
}

// Verify runs one verification outside the poll. A verified payment settles
// the order and stops its poll. An empty phone falls back to the one the
// order was created with.
func (s *Service) Verify(ctx context.Context, orderID, phone string) (*autosms.PaymentVerification, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	st, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(phone) == "" {
		phone = st.Phone
	}
	res, err := s.API.VerifyOrderPayment(ctx, orderID, phone)
	if err != nil {
		return nil, err
	}
	if res.Verified() {
		if _, _, err := s.settle(ctx, orderID, StatePaid, res.Transaction); err != nil {
			return nil, err
		}
		s.Poller.Stop(poller.Key{OrderID: orderID, Phone: st.Phone})
	}
	return res, nil
}

// Status returns the stored status of orderID.
func (s *Service) Status(ctx context.Context, orderID string) (Status, error) {
	if err := s.ready(); err != nil {
		return Status{}, err
	}
	return s.Store.Get(ctx, orderID)
}

// Cancel cancels the order remotely and stops its poll.
func (s *Service) Cancel(ctx context.Context, orderID string) (json.RawMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	st, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if st.State == StatePaid {
		return nil, common.NewAppError("ORDER_PAID", "order is already paid", http.StatusConflict, nil)
	}
	raw, err := s.API.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.settle(ctx, orderID, StateCancelled, nil); err != nil {
		return nil, err
	}
	s.Poller.Stop(poller.Key{OrderID: orderID, Phone: st.Phone})
	return raw, nil
}

// Locker serialises status transitions of one order across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

const transitionLockTTL = 5 * time.Second

// canTransition reports whether an order may move from one state to another.
// Paid is final; a late payment still overrides a timeout or cancellation.
func canTransition(from, to string) bool {
	switch {
	case from == StatePaid:
		return false
	case to == StatePaid, from == StatePending, from == "":
		return true
	case from == StateTimeout:
		return to == StateCancelled
	default:
		return false
	}
}

// settle moves orderID to state when the transition is allowed and returns
// the resulting status and whether it changed. Store failures are returned
// and leave the order untouched.
func (s *Service) settle(ctx context.Context, orderID, state string, tx *autosms.Transaction) (Status, bool, error) {
	var (
		st      Status
		applied bool
	)
	apply := func(ctx context.Context) error {
		var err error
		st, err = s.Store.Get(ctx, orderID)
		if err != nil {
			if !errors.Is(err, ErrStatusNotFound) {
				return err
			}
			st = Status{OrderID: orderID}
		}
		if !canTransition(st.State, state) {
			return nil
		}
		st.State = state
		if tx != nil {
			st.Transaction = tx
		}
		st.UpdatedAt = time.Now().UTC()
		if err := s.Store.Put(ctx, st); err != nil {
			return err
		}
		applied = true
		return nil
	}

	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, "order:"+orderID, transitionLockTTL, apply)
	} else {
		s.mu.Lock()
		err = apply(ctx)
		s.mu.Unlock()
	}
	if err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID).Str("state", state).Msg("checkout_status_store_failed")
		return Status{}, false, err
	}
	if applied {
		s.Logger.Info().Str("order_id", orderID).Str("state", state).Msg("checkout_order_settled")
	} else {
		s.Logger.Debug().Str("order_id", orderID).Str("state", st.State).Str("wanted", state).Msg("checkout_transition_skipped")
	}
	return st, applied, nil
}

func (s *Service) ready() error {
	if s == nil || s.API == nil || s.Poller == nil || s.Store == nil {
		return errors.New("checkout service not configured")
	}
	return nil
}
