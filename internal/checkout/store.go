package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/autosms-go/internal/autosms"
)

// Order states reported to the browser.
const (
	StatePending   = "pending"
	StatePaid      = "paid"
	StateTimeout   = "timeout"
	StateCancelled = "cancelled"
)

// DefaultStatusTTL bounds how long a checkout status is kept.
const DefaultStatusTTL = 24 * time.Hour

// Status is what the checkout page knows about an order.
type Status struct {
	OrderID     string               `json:"order_id"`
	Phone       string               `json:"-"`
	State       string               `json:"state"`
	Amount      autosms.Amount       `json:"amount"`
	Currency    string               `json:"currency,omitempty"`
	Transaction *autosms.Transaction `json:"transaction,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// ErrStatusNotFound is returned for unknown or expired orders.
var ErrStatusNotFound = errors.New("checkout: order status not found")

// StatusStore keeps order statuses between browser requests.
type StatusStore interface {
	Put(ctx context.Context, st Status) error
	Get(ctx context.Context, orderID string) (Status, error)
}

// RedisStatusStore stores statuses as JSON values with a TTL.
type RedisStatusStore struct {
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// storedStatus keeps the phone, which is never sent to the browser.
type storedStatus struct {
	Status
	Phone string `json:"phone"`
}

func (s RedisStatusStore) key(orderID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "autosms:checkout:"
	}
	return prefix + orderID
}

func (s RedisStatusStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultStatusTTL
	}
	return s.TTL
}

// Put implements StatusStore.
func (s RedisStatusStore) Put(ctx context.Context, st Status) error {
	raw, err := json.Marshal(storedStatus{Status: st, Phone: st.Phone})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := s.Client.Set(ctx, s.key(st.OrderID), raw, s.ttl()).Err(); err != nil {
		return fmt.Errorf("store status: %w", err)
	}
	return nil
}

// Get implements StatusStore.
func (s RedisStatusStore) Get(ctx context.Context, orderID string) (Status, error) {
	raw, err := s.Client.Get(ctx, s.key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, ErrStatusNotFound
	}
	if err != nil {
		return Status{}, fmt.Errorf("load status: %w", err)
	}
	var stored storedStatus
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	stored.Status.Phone = stored.Phone
	return stored.Status, nil
}

// MemoryStatusStore keeps statuses in process memory.
type MemoryStatusStore struct {
	mu       sync.Mutex
	statuses map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

type memoryEntry struct {
	status  Status
	expires time.Time
}

// NewMemoryStatusStore builds a store whose entries expire after ttl.
func NewMemoryStatusStore(ttl time.Duration) *MemoryStatusStore {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &MemoryStatusStore{statuses: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// Put implements StatusStore.
func (m *MemoryStatusStore) Put(_ context.Context, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, entry := range m.statuses {
		if now.After(entry.expires) {
			delete(m.statuses, id)
		}
	}
	m.statuses[st.OrderID] = memoryEntry{status: st, expires: now.Add(m.ttl)}
	return nil
}

// Get implements StatusStore.
func (m *MemoryStatusStore) Get(_ context.Context, orderID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.statuses[orderID]
	if !ok || m.now().After(entry.expires) {
		return Status{}, ErrStatusNotFound
	}
	return entry.status, nil
}
