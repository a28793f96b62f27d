// Package poller repeatedly asks the AutoSMS API whether an order has been
// paid, until it is, the attempt budget runs out or the poll is stopped.
package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/autosms-go/internal/autosms"
	"github.com/noah-isme/autosms-go/internal/obs"
)

const (
	// DefaultInterval separates two verification attempts.
	DefaultInterval = 5 * time.Second
	// DefaultMaxAttempts bounds a poll that never sees a payment.
	DefaultMaxAttempts = 60
)

// Verifier checks one order payment. *autosms.Client satisfies it.
type Verifier interface {
	VerifyOrderPayment(ctx context.Context, orderID, phone string) (*autosms.PaymentVerification, error)
}

// State is the position of a poll.
type State int

const (
	// Idle is reported for keys without a poll.
	Idle State = iota
	Active
	Succeeded
	TimedOut
	Stopped
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed_out"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Key identifies a poll.
type Key struct {
	OrderID string
	Phone   string
}

// Request describes a poll to start. Zero Interval and MaxAttempts fall back
// to the poller defaults.
type Request struct {
	OrderID     string
	Phone       string
	Interval    time.Duration
	MaxAttempts int
	OnSuccess   func(order *autosms.Order, tx *autosms.Transaction)
	OnTimeout   func()
}

// Option customises a Poller.
type Option func(*Poller)

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(p *Poller) {
		if s != nil {
			p.scheduler = s
		}
	}
}

// WithLogger sets the logger for poll lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// WithDefaults overrides the interval and attempt budget used when a Request
// leaves them unset.
func WithDefaults(interval time.Duration, maxAttempts int) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
	}
}

// Poller owns a registry of running polls, at most one per Key.
type Poller struct {
	verifier    Verifier
	scheduler   Scheduler
	logger      zerolog.Logger
	interval    time.Duration
	maxAttempts int

	mu    sync.Mutex
	polls map[Key]*Poll
}

// New builds a Poller around verifier.
func New(verifier Verifier, opts ...Option) *Poller {
	p := &Poller{
		verifier:    verifier,
		scheduler:   RealScheduler{},
		logger:      zerolog.Nop(),
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		polls:       make(map[Key]*Poll),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll is a handle on one started poll. It stays readable after the poll
// leaves the registry.
type Poll struct {
	owner       *Poller
	key         Key
	ctx         context.Context
	interval    time.Duration
	maxAttempts int
	onSuccess   func(*autosms.Order, *autosms.Transaction)
	onTimeout   func()

	// guarded by Poller.mu
	state    State
	attempts int
	timer    Timer

	done chan struct{}
}

// Key returns the poll's key.
func (pl *Poll) Key() Key { return pl.key }

// Done is closed once the poll reaches a terminal state and its callback
// has returned.
func (pl *Poll) Done() <-chan struct{} { return pl.done }

// Start begins polling for req. An active poll with the same key is stopped
// first. The first attempt runs one interval after Start. Cancelling ctx
// stops the poll at its next tick.
func (p *Poller) Start(ctx context.Context, req Request) (*Poll, error) {
	key := Key{OrderID: strings.TrimSpace(req.OrderID), Phone: autosms.NormalizePhone(req.Phone)}
	if key.OrderID == "" || key.Phone == "" {
		return nil, errors.New("poller: order id and phone are required")
	}
	if !autosms.ValidPhone(key.Phone) {
		return nil, &autosms.ValidationError{Fields: map[string]string{"phone_number": "must be 8-15 digits with an optional leading +"}}
	}
	if p.verifier == nil {
		return nil, errors.New("poller: verifier not configured")
	}
	pl := &Poll{
		owner:       p,
		key:         key,
		ctx:         ctx,
		interval:    req.Interval,
		maxAttempts: req.MaxAttempts,
		onSuccess:   req.OnSuccess,
		onTimeout:   req.OnTimeout,
		state:       Active,
		done:        make(chan struct{}),
	}
	if pl.interval <= 0 {
		pl.interval = p.interval
	}
	if pl.maxAttempts <= 0 {
		pl.maxAttempts = p.maxAttempts
	}

	p.mu.Lock()
	previous := p.polls[key]
	if previous != nil {
		p.stopLocked(previous)
	}
	p.polls[key] = pl
	pl.timer = p.scheduler.AfterFunc(pl.interval, func() { p.tick(pl) })
	p.mu.Unlock()

	if previous != nil {
		p.logger.Info().Str("order_id", key.OrderID).Msg("poll_replaced")
		close(previous.done)
		recordOutcome("replaced")
	} else if obs.ActivePolls != nil {
		obs.ActivePolls.Inc()
	}
	p.logger.Debug().Str("order_id", key.OrderID).Dur("interval", pl.interval).
		Int("max_attempts", pl.maxAttempts).Msg("poll_started")
	return pl, nil
}

// Stop ends the poll for key. A request already in flight completes but its
// outcome is discarded. Stopping an unknown key is a no-op; the return value
// reports whether a poll was stopped.
func (p *Poller) Stop(key Key) bool {
	p.mu.Lock()
	pl := p.polls[key]
	if pl == nil {
		p.mu.Unlock()
		return false
	}
	p.stopLocked(pl)
	delete(p.polls, key)
	p.mu.Unlock()

	p.ended(pl, "stopped")
	return true
}

// StopAll stops every active poll and returns how many there were.
func (p *Poller) StopAll() int {
	p.mu.Lock()
	stopped := make([]*Poll, 0, len(p.polls))
	for key, pl := range p.polls {
		p.stopLocked(pl)
		delete(p.polls, key)
		stopped = append(stopped, pl)
	}
	p.mu.Unlock()

	for _, pl := range stopped {
		p.ended(pl, "stopped")
	}
	return len(stopped)
}

// State reports the registry position of key: Active while a poll runs,
// Idle otherwise.
func (p *Poller) State(key Key) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.polls[key]; ok {
		return pl.state
	}
	return Idle
}

// Active returns the keys currently being polled.
func (p *Poller) Active() []Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]Key, 0, len(p.polls))
	for key := range p.polls {
		keys = append(keys, key)
	}
	return keys
}

// Attempts returns the attempt count of the active poll for key, or 0.
func (p *Poller) Attempts(key Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.polls[key]; ok {
		return pl.attempts
	}
	return 0
}

// State returns the poll's current or terminal state.
func (pl *Poll) State() State {
	pl.owner.mu.Lock()
	defer pl.owner.mu.Unlock()
	return pl.state
}

// Attempts returns how many verification attempts the poll has started.
func (pl *Poll) Attempts() int {
	pl.owner.mu.Lock()
	defer pl.owner.mu.Unlock()
	return pl.attempts
}

func (p *Poller) stopLocked(pl *Poll) {
	pl.state = Stopped
	if pl.timer != nil {
		pl.timer.Stop()
	}
}

func (p *Poller) current(pl *Poll) bool {
	return p.polls[pl.key] == pl && pl.state == Active
}

func (p *Poller) tick(pl *Poll) {
	p.mu.Lock()
	if !p.current(pl) {
		p.mu.Unlock()
		return
	}
	if pl.ctx.Err() != nil {
		p.stopLocked(pl)
		delete(p.polls, pl.key)
		p.mu.Unlock()
		p.ended(pl, "cancelled")
		return
	}
	pl.attempts++
	attempt := pl.attempts
	p.mu.Unlock()

	if obs.PollAttemptsTotal != nil {
		obs.PollAttemptsTotal.Inc()
	}
	res, err := p.verifier.VerifyOrderPayment(pl.ctx, pl.key.OrderID, pl.key.Phone)
	if err != nil {
		// transport and status failures count as "not paid yet"
		p.logger.Debug().Err(err).Str("order_id", pl.key.OrderID).Int("attempt", attempt).Msg("poll_attempt_failed")
	}

	p.mu.Lock()
	if !p.current(pl) {
		p.mu.Unlock()
		p.logger.Debug().Str("order_id", pl.key.OrderID).Int("attempt", attempt).Msg("poll_outcome_discarded")
		return
	}
	switch {
	case err == nil && res.Verified():
		pl.state = Succeeded
		delete(p.polls, pl.key)
		p.mu.Unlock()
		p.logger.Info().Str("order_id", pl.key.OrderID).Int("attempts", attempt).Msg("poll_succeeded")
		if pl.onSuccess != nil {
			pl.onSuccess(res.Order, res.Transaction)
		}
		p.ended(pl, "succeeded")
	case attempt >= pl.maxAttempts:
		pl.state = TimedOut
		delete(p.polls, pl.key)
		p.mu.Unlock()
		p.logger.Info().Str("order_id", pl.key.OrderID).Int("attempts", attempt).Msg("poll_timed_out")
		if pl.onTimeout != nil {
			pl.onTimeout()
		}
		p.ended(pl, "timed_out")
	default:
		pl.timer = p.scheduler.AfterFunc(pl.interval, func() { p.tick(pl) })
		p.mu.Unlock()
	}
}

func (p *Poller) ended(pl *Poll, outcome string) {
	close(pl.done)
	recordOutcome(outcome)
	if obs.ActivePolls != nil {
		obs.ActivePolls.Dec()
	}
}

func recordOutcome(outcome string) {
	if obs.PollOutcomesTotal != nil {
		obs.PollOutcomesTotal.WithLabelValues(outcome).Inc()
	}
}
