// Package quota enforces the per-user daily message allowance and the admin
// bonus grants layered on top of it.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yieldera/advisor/internal/audit"
	"github.com/yieldera/advisor/internal/store"
)

const (
	counterTTL = 24 * time.Hour
	bonusTTL   = 30 * 24 * time.Hour
	dateLayout = "2006-01-02"

	// MinGrant and MaxGrant bound a single admin grant.
	MinGrant = 1
	MaxGrant = 100

	// Unlimited is reported as Limit and Remaining for exempt callers.
	Unlimited = -1
)

var (
	// ErrQuotaExceeded matches every *ExceededError.
	ErrQuotaExceeded = errors.New("daily message limit reached")
	// ErrUnauthorized is returned when an admin operation is attempted by a non-admin role.
	ErrUnauthorized = errors.New("unauthorized: admin access required")
	// ErrInvalidGrant is returned for grants outside [MinGrant, MaxGrant].
	ErrInvalidGrant = fmt.Errorf("invalid quota amount (%d-%d)", MinGrant, MaxGrant)
)

// ExceededError reports a rejected admission.
type ExceededError struct {
	Limit int
	Used  int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("Daily limit reached. You have used your %d free messages for today.", e.Limit)
}

// Is lets errors.Is(err, ErrQuotaExceeded) match.
func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Usage is the outcome of an admission.
type Usage struct {
	Allowed   bool   `json:"-"`
	Exempt    bool   `json:"exempt,omitempty"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Used      int64  `json:"used"`
	Bonus     int64  `json:"bonus"`
	Store     string `json:"store"`
}

// Grant is the outcome of an admin grant.
type Grant struct {
	UserID        string    `json:"user_id"`
	BonusMessages int       `json:"bonus_messages"`
	GrantedAt     time.Time `json:"granted_at"`
}

// UserUsage is one row of the usage report.
type UserUsage struct {
	UserID       string `json:"user_id"`
	MessagesUsed int64  `json:"messages_used"`
	Limit        int64  `json:"limit"`
	Bonus        int64  `json:"bonus"`
}

// Stats is the daily usage report.
type Stats struct {
	Date              string      `json:"date"`
	UsersAtLimit      []UserUsage `json:"users_at_limit"`
	TotalUsersTracked int         `json:"total_users_tracked"`
}

// Config configures a Controller.
type Config struct {
	DailyLimit int
	AdminRoles []string
	StoreName  func() string
	Now        func() time.Time
	Audit      audit.Sink
	Logger     *slog.Logger
}

// Controller admits requests against the daily allowance. It is safe for
// concurrent use; all shared state lives in the counter store.
type Controller struct {
	counters   store.Counters
	dailyLimit int
	adminRoles []string
	storeName  func() string
	now        func() time.Time
	audit      audit.Sink
	logger     *slog.Logger
}

// New creates a Controller over counters.
func New(counters store.Counters, cfg Config) *Controller {
	c := &Controller{
		counters:   counters,
		dailyLimit: cfg.DailyLimit,
		adminRoles: cfg.AdminRoles,
		storeName:  cfg.StoreName,
		now:        cfg.Now,
		audit:      cfg.Audit,
		logger:     cfg.Logger,
	}
	if len(c.adminRoles) == 0 {
		c.adminRoles = []string{"admin", "administrator"}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.audit == nil {
		c.audit = audit.Nop{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.storeName == nil {
		if named, ok := counters.(interface{ Name() string }); ok {
			c.storeName = named.Name
		} else {
			c.storeName = func() string { return "unknown" }
		}
	}
	return c
}

// CounterKey is the daily counter key for userID on date (YYYY-MM-DD).
func CounterKey(userID, date string) string {
	return "rate_limit:" + userID + ":" + date
}

// BonusKey is the bonus allowance key for userID.
func BonusKey(userID string) string {
	return "quota_boost:" + userID
}

func (c *Controller) today() string {
	return c.now().Format(dateLayout)
}

// IsAdmin reports whether role is one of the admin roles, ignoring case.
func (c *Controller) IsAdmin(role string) bool {
	role = strings.TrimSpace(role)
	for _, r := range c.adminRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// RequireAdmin returns ErrUnauthorized unless role is an admin role.
func (c *Controller) RequireAdmin(role string) error {
	if !c.IsAdmin(role) {
		return ErrUnauthorized
	}
	return nil
}

// Admit consumes one message from userID's allowance for today. The
// increment is the consumption, so a rejected attempt still counts.
func (c *Controller) Admit(ctx context.Context, userID, role string) (Usage, error) {
	if c.IsAdmin(role) {
		return Usage{
			Allowed:   true,
			Exempt:    true,
			Limit:     Unlimited,
			Remaining: Unlimited,
			Store:     c.storeName(),
		}, nil
	}

	count, err := c.counters.Incr(ctx, CounterKey(userID, c.today()), counterTTL)
	if err != nil {
		return Usage{}, fmt.Errorf("increment quota counter: %w", err)
	}
	bonus, err := c.counters.Value(ctx, BonusKey(userID))
	if err != nil {
		c.logger.Warn("Failed to read quota bonus, assuming none", "user_id", userID, "error", err)
		bonus = 0
	}

	limit := c.dailyLimit + int(bonus)
	if count > int64(limit) {
		c.audit.Log(audit.New(userID, audit.QuotaExceeded, map[string]any{
			"messages_used": count,
			"limit":         limit,
		}))
		return Usage{}, &ExceededError{Limit: limit, Used: count}
	}

	return Usage{
		Allowed:   true,
		Limit:     limit,
		Remaining: max(0, limit-int(count)),
		Used:      count,
		Bonus:     bonus,
		Store:     c.storeName(),
	}, nil
}

// Grant sets userID's bonus allowance to n for the next 30 days, replacing
// any previous grant.
func (c *Controller) Grant(ctx context.Context, userID string, n int) (Grant, error) {
	if n < MinGrant || n > MaxGrant {
		return Grant{}, ErrInvalidGrant
	}
	if err := c.counters.Put(ctx, BonusKey(userID), int64(n), bonusTTL); err != nil {
		return Grant{}, fmt.Errorf("store quota bonus: %w", err)
	}

	g := Grant{UserID: userID, BonusMessages: n, GrantedAt: c.now()}
	c.audit.Log(audit.New(userID, audit.QuotaGranted, map[string]any{"bonus_messages": n}))
	c.logger.Info("Quota bonus granted", "user_id", userID, "bonus_messages", n)
	return g, nil
}

// UsageStats reports today's users whose count has reached their limit.
func (c *Controller) UsageStats(ctx context.Context) (Stats, error) {
	today := c.today()
	stats := Stats{Date: today, UsersAtLimit: []UserUsage{}}

	keys, err := c.counters.Keys(ctx, CounterKey("*", today))
	if err != nil {
		return stats, fmt.Errorf("list quota counters: %w", err)
	}

	prefix, suffix := "rate_limit:", ":"+today
	for _, key := range keys {
		userID := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
		count, err := c.counters.Value(ctx, key)
		if err != nil {
			return stats, fmt.Errorf("read quota counter: %w", err)
		}
		bonus, err := c.counters.Value(ctx, BonusKey(userID))
		if err != nil {
			return stats, fmt.Errorf("read quota bonus: %w", err)
		}
		limit := int64(c.dailyLimit) + bonus
		if count >= limit {
			stats.UsersAtLimit = append(stats.UsersAtLimit, UserUsage{
				UserID:       userID,
				MessagesUsed: count,
				Limit:        limit,
				Bonus:        bonus,
			})
		}
	}
	stats.TotalUsersTracked = len(keys)
	return stats, nil
}
