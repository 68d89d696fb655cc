package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the outcome of a check or of the whole readiness probe.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Response is the aggregated readiness result.
type Response struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Check is a single readiness dependency.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// Checker runs all registered checks.
type Checker struct {
	checks []Check
}

// NewChecker creates a Checker with the given checks.
func NewChecker(checks ...Check) *Checker {
	return &Checker{checks: checks}
}

// Add registers a check.
func (c *Checker) Add(check Check) {
	c.checks = append(c.checks, check)
}

// RunAll runs every check. The overall status is unhealthy if any check fails.
func (c *Checker) RunAll(ctx context.Context) Response {
	results := make(map[string]CheckResult, len(c.checks))
	overall := StatusHealthy

	for _, check := range c.checks {
		if err := check.Check(ctx); err != nil {
			results[check.Name()] = CheckResult{Status: StatusUnhealthy, Message: err.Error()}
			overall = StatusUnhealthy
		} else {
			results[check.Name()] = CheckResult{Status: StatusHealthy, Message: "OK"}
		}
	}

	return Response{
		Status:    overall,
		Checks:    results,
		Timestamp: time.Now(),
	}
}

// RedisCheck pings the session store.
type RedisCheck struct {
	client  redis.Cmdable
	timeout time.Duration
}

// NewRedisCheck creates a RedisCheck. A non-positive timeout means 5s.
func NewRedisCheck(client redis.Cmdable, timeout time.Duration) *RedisCheck {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisCheck{client: client, timeout: timeout}
}

func (h *RedisCheck) Name() string { return "redis" }

// Check runs PING against Redis.
func (h *RedisCheck) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.client.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Discoverer is satisfied by the identity provider client.
type Discoverer interface {
	Discover(ctx context.Context) error
}

// DiscoveryCheck reports whether identity provider metadata is available,
// retrying discovery when startup discovery failed.
type DiscoveryCheck struct {
	client  Discoverer
	timeout time.Duration
}

// NewDiscoveryCheck creates a DiscoveryCheck. A non-positive timeout means 5s.
func NewDiscoveryCheck(client Discoverer, timeout time.Duration) *DiscoveryCheck {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DiscoveryCheck{client: client, timeout: timeout}
}

func (h *DiscoveryCheck) Name() string { return "oidc_discovery" }

// Check runs discovery, which is a no-op once it has succeeded.
func (h *DiscoveryCheck) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.client.Discover(checkCtx); err != nil {
		return fmt.Errorf("identity provider discovery failed: %w", err)
	}
	return nil
}
