// Package memory provides in-memory implementations of aiquota.Storage and
// billing.Store. It is intended for tests and single-instance development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

var (
	_ aiquota.Storage = (*Storage)(nil)
	_ billing.Store   = (*Storage)(nil)
)

// Storage keeps every table in maps guarded by one RWMutex.
type Storage struct {
	mu sync.RWMutex

	usage         map[string]*aiquota.Usage // userID:windowKey
	customers     map[string]*billing.Customer
	subscriptions map[string]*billing.SubscriptionRow
	tiers         map[string]aiquota.Tier
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		usage:         make(map[string]*aiquota.Usage),
		customers:     make(map[string]*billing.Customer),
		subscriptions: make(map[string]*billing.SubscriptionRow),
		tiers:         make(map[string]aiquota.Tier),
	}
}

// GetUsage implements aiquota.Storage
func (s *Storage) GetUsage(_ context.Context, userID, windowKey string) (*aiquota.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage, ok := s.usage[usageKey(userID, windowKey)]
	if !ok {
		return nil, nil
	}
	usageCopy := *usage
	return &usageCopy, nil
}

// ConsumeUsage implements aiquota.Storage. The check and increment happen
// under one write lock.
func (s *Storage) ConsumeUsage(_ context.Context, req *aiquota.ConsumeRequest) (*aiquota.ConsumeOutcome, error) {
	if !req.Kind.Valid() {
		return nil, aiquota.ErrInvalidKind
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(req.UserID, req.WindowKey)
	usage, ok := s.usage[key]
	if !ok {
		usage = &aiquota.Usage{UserID: req.UserID, WindowKey: req.WindowKey}
		s.usage[key] = usage
	}

	counter := &usage.ChatUsed
	if req.Kind == aiquota.KindSuggestion {
		counter = &usage.SuggestionUsed
	}

	allowed := req.Limit == aiquota.Unlimited || *counter < req.Limit
	if allowed {
		*counter++
	}
	usage.UpdatedAt = time.Now().UTC()

	return &aiquota.ConsumeOutcome{Allowed: allowed, Usage: *usage}, nil
}

// GetCustomerByUser implements billing.Store
func (s *Storage) GetCustomerByUser(_ context.Context, userID string) (*billing.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", billing.ErrCustomerNotFound, userID)
	}
	cCopy := *c
	return &cCopy, nil
}

// GetCustomerByID implements billing.Store
func (s *Storage) GetCustomerByID(_ context.Context, customerID string) (*billing.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.CustomerID == customerID {
			cCopy := *c
			return &cCopy, nil
		}
	}
	return nil, fmt.Errorf("%w: customer %s", billing.ErrCustomerNotFound, customerID)
}

// UpsertCustomer implements billing.Store
func (s *Storage) UpsertCustomer(_ context.Context, customer *billing.Customer) error {
	if customer == nil || customer.UserID == "" || customer.CustomerID == "" {
		return fmt.Errorf("invalid billing customer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cCopy := *customer
	s.customers[customer.UserID] = &cCopy
	return nil
}

// UpsertSubscription implements billing.Store
func (s *Storage) UpsertSubscription(_ context.Context, row *billing.SubscriptionRow) error {
	if row == nil || row.ID == "" {
		return fmt.Errorf("invalid subscription row")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rowCopy := *row
	s.subscriptions[row.ID] = &rowCopy
	return nil
}

// ListSubscriptions implements billing.Store
func (s *Storage) ListSubscriptions(_ context.Context, userID string) ([]billing.SubscriptionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []billing.SubscriptionRow
	for _, row := range s.subscriptions {
		if row.UserID == userID {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

// CancelCustomerSubscriptions implements billing.Store
func (s *Storage) CancelCustomerSubscriptions(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, row := range s.subscriptions {
		if row.CustomerID == customerID {
			row.Status = billing.StatusCanceled
			row.Tier = aiquota.TierFree
			row.UpdatedAt = now
		}
	}
	return nil
}

// GetUserTier implements billing.Store
func (s *Storage) GetUserTier(_ context.Context, userID string) (aiquota.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tier, ok := s.tiers[userID]; ok {
		return tier, nil
	}
	return aiquota.TierFree, nil
}

// SetUserTier implements billing.Store
func (s *Storage) SetUserTier(_ context.Context, userID string, tier aiquota.Tier) error {
	if userID == "" {
		return aiquota.ErrInvalidUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers[userID] = tier
	return nil
}

func usageKey(userID, windowKey string) string {
	return userID + ":" + windowKey
}
