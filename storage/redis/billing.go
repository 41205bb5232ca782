package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

var _ billing.Store = (*Storage)(nil)

// Billing keys carry no TTL.
//
//	customer:user:<user>     hash {customer_id, updated_at}
//	customer:id:<customer>   string user id
//	sub:<id>                 hash of one subscription row
//	subs:user:<user>         set of subscription ids
//	subs:customer:<customer> set of subscription ids
//	tier:<user>              string tier
const (
	fieldCustomerID        = "customer_id"
	fieldUserID            = "user_id"
	fieldStatus            = "status"
	fieldPriceID           = "price_id"
	fieldTier              = "tier"
	fieldCancelAtPeriodEnd = "cancel_at_period_end"
	fieldCurrentPeriodEnd  = "current_period_end"
)

// GetCustomerByUser implements billing.Store
func (s *Storage) GetCustomerByUser(ctx context.Context, userID string) (*billing.Customer, error) {
	fields, err := s.client.HGetAll(ctx, s.customerUserKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get billing customer: %w", err)
	}
	if fields[fieldCustomerID] == "" {
		return nil, fmt.Errorf("%w: user %s", billing.ErrCustomerNotFound, userID)
	}
	return &billing.Customer{
		UserID:     userID,
		CustomerID: fields[fieldCustomerID],
		UpdatedAt:  parseMillis(fields[fieldUpdatedAt]),
	}, nil
}

// GetCustomerByID implements billing.Store
func (s *Storage) GetCustomerByID(ctx context.Context, customerID string) (*billing.Customer, error) {
	userID, err := s.client.Get(ctx, s.customerIDKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: customer %s", billing.ErrCustomerNotFound, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing customer: %w", err)
	}
	return s.GetCustomerByUser(ctx, userID)
}

// UpsertCustomer implements billing.Store. A user re-linked to a new customer
// drops the old reverse mapping.
func (s *Storage) UpsertCustomer(ctx context.Context, customer *billing.Customer) error {
	if customer == nil || customer.UserID == "" || customer.CustomerID == "" {
		return fmt.Errorf("invalid billing customer")
	}

	userKey := s.customerUserKey(customer.UserID)
	previous, err := s.client.HGet(ctx, userKey, fieldCustomerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to upsert billing customer: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != customer.CustomerID {
			pipe.Del(ctx, s.customerIDKey(previous))
		}
		pipe.HSet(ctx, userKey,
			fieldCustomerID, customer.CustomerID,
			fieldUpdatedAt, time.Now().UTC().UnixMilli())
		pipe.Set(ctx, s.customerIDKey(customer.CustomerID), customer.UserID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert billing customer: %w", err)
	}
	return nil
}

// UpsertSubscription implements billing.Store. The row is re-indexed when its
// user or customer changed.
func (s *Storage) UpsertSubscription(ctx context.Context, row *billing.SubscriptionRow) error {
	if row == nil || row.ID == "" {
		return fmt.Errorf("invalid subscription row")
	}

	subKey := s.subscriptionKey(row.ID)
	prev, err := s.client.HMGet(ctx, subKey, fieldUserID, fieldCustomerID).Result()
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	prevUser, _ := prev[0].(string)
	prevCustomer, _ := prev[1].(string)

	periodEnd := ""
	if row.CurrentPeriodEnd != nil {
		periodEnd = strconv.FormatInt(row.CurrentPeriodEnd.UTC().UnixMilli(), 10)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prevUser != "" && prevUser != row.UserID {
			pipe.SRem(ctx, s.userSubsKey(prevUser), row.ID)
		}
		if prevCustomer != "" && prevCustomer != row.CustomerID {
			pipe.SRem(ctx, s.customerSubsKey(prevCustomer), row.ID)
		}
		pipe.HSet(ctx, subKey,
			fieldUserID, row.UserID,
			fieldCustomerID, row.CustomerID,
			fieldStatus, row.Status,
			fieldPriceID, row.PriceID,
			fieldTier, string(row.Tier),
			fieldCancelAtPeriodEnd, strconv.FormatBool(row.CancelAtPeriodEnd),
			fieldCurrentPeriodEnd, periodEnd,
			fieldUpdatedAt, time.Now().UTC().UnixMilli())
		if row.UserID != "" {
			pipe.SAdd(ctx, s.userSubsKey(row.UserID), row.ID)
		}
		if row.CustomerID != "" {
			pipe.SAdd(ctx, s.customerSubsKey(row.CustomerID), row.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// ListSubscriptions implements billing.Store
func (s *Storage) ListSubscriptions(ctx context.Context, userID string) ([]billing.SubscriptionRow, error) {
	ids, err := s.client.SMembers(ctx, s.userSubsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.subscriptionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	rows := make([]billing.SubscriptionRow, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rows = append(rows, subscriptionFromHash(ids[i], fields))
	}
	return rows, nil
}

// CancelCustomerSubscriptions implements billing.Store
func (s *Storage) CancelCustomerSubscriptions(ctx context.Context, customerID string) error {
	ids, err := s.client.SMembers(ctx, s.customerSubsKey(customerID)).Result()
	if err != nil {
		return fmt.Errorf("failed to cancel subscriptions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC().UnixMilli()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HSet(ctx, s.subscriptionKey(id),
				fieldStatus, billing.StatusCanceled,
				fieldTier, string(aiquota.TierFree),
				fieldUpdatedAt, now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel subscriptions: %w", err)
	}
	return nil
}

// GetUserTier implements billing.Store
func (s *Storage) GetUserTier(ctx context.Context, userID string) (aiquota.Tier, error) {
	tier, err := s.client.Get(ctx, s.tierKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return aiquota.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user tier: %w", err)
	}
	return aiquota.ParseTier(tier), nil
}

// SetUserTier implements billing.Store
func (s *Storage) SetUserTier(ctx context.Context, userID string, tier aiquota.Tier) error {
	if userID == "" {
		return aiquota.ErrInvalidUserID
	}
	if err := s.client.Set(ctx, s.tierKey(userID), string(tier), 0).Err(); err != nil {
		return fmt.Errorf("failed to set user tier: %w", err)
	}
	return nil
}

func subscriptionFromHash(id string, fields map[string]string) billing.SubscriptionRow {
	row := billing.SubscriptionRow{
		ID:         id,
		UserID:     fields[fieldUserID],
		CustomerID: fields[fieldCustomerID],
		Status:     fields[fieldStatus],
		PriceID:    fields[fieldPriceID],
		Tier:       aiquota.ParseTier(fields[fieldTier]),
		UpdatedAt:  parseMillis(fields[fieldUpdatedAt]),
	}
	row.CancelAtPeriodEnd, _ = strconv.ParseBool(fields[fieldCancelAtPeriodEnd])
	if v := fields[fieldCurrentPeriodEnd]; v != "" {
		end := parseMillis(v)
		row.CurrentPeriodEnd = &end
	}
	return row
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *Storage) customerUserKey(userID string) string {
	return s.config.KeyPrefix + "customer:user:" + userID
}

func (s *Storage) customerIDKey(customerID string) string {
	return s.config.KeyPrefix + "customer:id:" + customerID
}

func (s *Storage) subscriptionKey(id string) string {
	return s.config.KeyPrefix + "sub:" + id
}

func (s *Storage) userSubsKey(userID string) string {
	return s.config.KeyPrefix + "subs:user:" + userID
}

func (s *Storage) customerSubsKey(customerID string) string {
	return s.config.KeyPrefix + "subs:customer:" + customerID
}

func (s *Storage) tierKey(userID string) string {
	return s.config.KeyPrefix + "tier:" + userID
}
