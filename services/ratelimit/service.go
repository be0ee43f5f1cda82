package ratelimit

import (
	"context"
	"time"

	"go.uber.org/fx"

	"presencegate/pkg/rediskey"
)

// Rejection reasons and advisory flags.
const (
	ReasonCooldownActive = "COOLDOWN_ACTIVE"
	ReasonHourlyLimit    = "HOURLY_LIMIT_REACHED"
	FlagApproachingLimit = "APPROACHING_HOURLY_LIMIT"
)

const approachingFraction = 0.8

type Config struct {
	CooldownRich time.Duration
	CooldownScan time.Duration
	HourlyCap    int64
	BurstWindow  time.Duration
}

// Result is the outcome of a rate-limit check. RetryAfter is only set for
// cooldown rejections so callers can report the remaining wait.
type Result struct {
	Allowed    bool
	Reason     string
	Flags      []string
	RetryAfter time.Duration
	Count      int64
}

type Service struct {
	counter Counter
	cfg     Config
}

type ServiceParams struct {
	fx.In
	Counter Counter
	Config  Config
}

func NewService(p ServiceParams) *Service {
	return &Service{counter: p.Counter, cfg: p.Config}
}

// CooldownFor returns the cooldown window for a claim flow. The scan flow is
// the once-a-day path; the rich flow uses the short anti-retry window.
func (s *Service) CooldownFor(flow string) time.Duration {
	if flow == "scan" {
		return s.cfg.CooldownScan
	}
	return s.cfg.CooldownRich
}

// CheckCooldown rejects when the last accepted claim for the same
// (user, target) pair is still inside the window.
func (s *Service) CheckCooldown(lastAccepted *time.Time, now time.Time, window time.Duration) Result {
	if lastAccepted == nil {
		return Result{Allowed: true}
	}

	elapsed := now.Sub(*lastAccepted)
	if elapsed >= window {
		return Result{Allowed: true}
	}

	return Result{
		Reason:     ReasonCooldownActive,
		RetryAfter: window - elapsed,
	}
}

// ReserveHourly claims a slot in the user's hourly cap. The atomic increment
// is itself the check, so two concurrent claims at the boundary cannot both
// pass. A denied reservation hands its slot straight back; callers release an
// allowed one with ReleaseHourly when the claim is not ultimately granted.
func (s *Service) ReserveHourly(ctx context.Context, userID string, now time.Time) (Result, error) {
	key := rediskey.BuildUserHourlyKey(userID, hourBucket(now))
	count, err := s.counter.Incr(ctx, key, 2*time.Hour)
	if err != nil {
		return Result{}, err
	}

	if count > s.cfg.HourlyCap {
		// Best effort; an uncorrected slot expires with the bucket.
		_, _ = s.counter.Decr(ctx, key)
		return Result{Reason: ReasonHourlyLimit, Count: count}, nil
	}

	res := Result{Allowed: true, Count: count}
	if float64(count) >= approachingFraction*float64(s.cfg.HourlyCap) {
		res.Flags = append(res.Flags, FlagApproachingLimit)
	}
	return res, nil
}

// ReleaseHourly returns a reserved slot so rejected claims do not count
// against the cap.
func (s *Service) ReleaseHourly(ctx context.Context, userID string, now time.Time) error {
	_, err := s.counter.Decr(ctx, rediskey.BuildUserHourlyKey(userID, hourBucket(now)))
	return err
}

// RecordAccepted bumps the per-target counter once a claim is granted; the
// user's own slot was reserved up front.
func (s *Service) RecordAccepted(ctx context.Context, tagID string, now time.Time) error {
	_, err := s.counter.Incr(ctx, rediskey.BuildTagHourlyKey(tagID, hourBucket(now)), 2*time.Hour)
	return err
}

// RecordAttempt counts every claim, accepted or not, on the burst window and
// returns the running total. The behavior analyzer consumes the count.
func (s *Service) RecordAttempt(ctx context.Context, userID string, now time.Time) (int64, error) {
	key := rediskey.BuildUserBurstKey(userID, burstBucket(now, s.cfg.BurstWindow))
	return s.counter.Incr(ctx, key, 2*s.cfg.BurstWindow)
}

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

func burstBucket(t time.Time, window time.Duration) string {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return time.Unix(t.Unix()-t.Unix()%int64(window.Seconds()), 0).UTC().Format("20060102150405")
}
