package claim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"presencegate/pkg/errutil"
	"presencegate/services/audit"
	"presencegate/services/behavior"
	"presencegate/services/catalog"
	"presencegate/services/challenge"
	"presencegate/services/presence"
	"presencegate/services/ratelimit"
	"presencegate/services/session"
	"presencegate/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemCounter() *memCounter {
	return &memCounter{counts: map[string]int64{}}
}

func (c *memCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) Decr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]--
	return c.counts[key], nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t,
		&challenge.Challenge{}, &catalog.Target{}, &audit.Record{},
		&session.ActivityLog{}, &session.RevokedSession{},
		&VisitRecord{}, &Balance{}, &KnownDevice{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	challenges := challenge.NewService(challenge.ServiceParams{DB: db, Node: node, Config: challenge.Config{TTL: time.Minute}})
	targets := catalog.NewService(catalog.ServiceParams{DB: db})
	limits := ratelimit.NewService(ratelimit.ServiceParams{
		Counter: newMemCounter(),
		Config: ratelimit.Config{
			CooldownRich: 5 * time.Minute,
			CooldownScan: 24 * time.Hour,
			HourlyCap:    20,
			BurstWindow:  5 * time.Minute,
		},
	})
	trail := audit.NewService(audit.ServiceParams{DB: db, Node: node})
	sessions := session.NewService(session.ServiceParams{DB: db, Config: session.Config{
		MaxDistinctIPsDay: 5, MaxLoginIPsHour: 3, MaxAge: 24 * time.Hour, RevokeScore: 70,
	}})

	return NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Policy: presence.DefaultPolicy(),
		Behavior: behavior.Config{
			HistorySize:      20,
			MinIntervals:     5,
			RegularityCV:     0.1,
			BurstMax:         10,
			MaxTravelKmh:     100,
			JumpDistance:     500,
			JumpWindow:       60 * time.Second,
			MaxJumpsPerDay:   3,
			SameCoordSamples: 5,
		},
		Challenges: challenges,
		Targets:    targets,
		Limits:     limits,
		Audit:      trail,
		Sessions:   sessions,
	})
}

func seedTarget(t *testing.T, svc *Service, tagID string, lat, lon float64) {
	t.Helper()
	require.NoError(t, svc.targets.Upsert(context.Background(), &catalog.Target{
		TagID:        tagID,
		Name:         "venue " + tagID,
		Latitude:     lat,
		Longitude:    lon,
		IsActive:     true,
		RewardPoints: 10,
		RewardXP:     5,
		RadiusMeters: 50,
	}))
}

func walkSamples(lat, lon float64, now time.Time) []presence.Sample {
	samples := make([]presence.Sample, 3)
	for i := range samples {
		samples[i] = presence.Sample{
			Latitude:       lat,
			Longitude:      lon,
			AccuracyMeters: 10,
			CapturedAtMs:   now.Add(time.Duration(i-2) * 2 * time.Second).UnixMilli(),
		}
	}
	return samples
}

func deviceAttrs() presence.Attributes {
	return presence.Attributes{
		UserAgent:        "Mozilla/5.0 (Linux; Android 14) Chrome/126.0",
		ScreenResolution: "1080x2400",
		Timezone:         "Europe/Madrid",
		Language:         "es-ES",
		Platform:         "Linux armv8l",
	}
}

func submit(t *testing.T, svc *Service, userID, tagID string, lat, lon float64) *Decision {
	t.Helper()
	ctx := context.Background()

	ch, err := svc.IssueChallenge(ctx, userID)
	require.NoError(t, err)

	d, err := svc.SubmitClaim(ctx, ClaimRequest{
		UserID:           userID,
		TagID:            tagID,
		ChallengeID:      ch.ID,
		Nonce:            ch.Nonce,
		Samples:          walkSamples(lat, lon, time.Now()),
		DeviceAttributes: deviceAttrs(),
	})
	require.NoError(t, err)
	return d
}

func TestSubmitClaimHappyPath(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTarget(t, svc, "tag-1", 36.4273, -5.1483)

	d := submit(t, svc, "user-1", "tag-1", 36.4273, -5.1483)

	require.True(t, d.Accepted)
	require.Equal(t, 100, d.Confidence)
	require.Empty(t, d.Flags)
	require.NotNil(t, d.Reward)
	require.Equal(t, int64(10), d.Reward.Points)
	require.Equal(t, int64(5), d.Reward.XP)
	require.NotNil(t, d.NewTotals)
	require.Equal(t, int64(10), d.NewTotals.Points)

	visits, err := svc.visits.Find(ctx, &VisitRecord{UserID: "user-1", TagID: "tag-1"})
	require.NoError(t, err)
	require.Len(t, visits, 1)

	recs, err := svc.trail.Recent(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.True(t, recs[0].Accepted)
	require.Equal(t, visits[0].ID, recs[0].VisitID)
	require.Equal(t, visits[0].AuditID, recs[0].ID)

	device, err := svc.devices.FindOne(ctx, &KnownDevice{UserID: "user-1"})
	require.NoError(t, err)
	require.NotNil(t, device)
	require.Equal(t, presence.Fingerprint(deviceAttrs()), device.FingerprintID)
}

func TestSubmitClaimCooldownSecondRejected(t *testing.T) {
	svc := newTestService(t)
	seedTarget(t, svc, "tag-1", 36.4273, -5.1483)

	first := submit(t, svc, "user-1", "tag-1", 36.4273, -5.1483)
	require.True(t, first.Accepted)

	second := submit(t, svc, "user-1", "tag-1", 36.4273, -5.1483)
	require.False(t, second.Accepted)
	require.Equal(t, ratelimit.ReasonCooldownActive, second.Reason)
	require.Positive(t, second.RetryAfterSeconds)
}

func TestSubmitClaimUnknownTag(t *testing.T) {
	svc := newTestService(t)

	d := submit(t, svc, "user-1", "tag-missing", 36.4273, -5.1483)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonNotFound, d.Reason)
}

func TestSubmitClaimInactiveTag(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.targets.Upsert(context.Background(), &catalog.Target{
		TagID: "tag-off", Latitude: 36.4273, Longitude: -5.1483, IsActive: false, RadiusMeters: 50,
	}))

	d := submit(t, svc, "user-1", "tag-off", 36.4273, -5.1483)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonNotFound, d.Reason)
}

func TestSubmitClaimInvalidChallenge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTarget(t, svc, "tag-1", 36.4273, -5.1483)

	d, err := svc.SubmitClaim(ctx, ClaimRequest{
		UserID:      "user-1",
		TagID:       "tag-1",
		ChallengeID: "missing",
		Nonce:       "nonce",
		Samples:     walkSamples(36.4273, -5.1483, time.Now()),
	})
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, "INVALID_CHALLENGE", d.Reason)
	require.Zero(t, d.Confidence)
}

func TestSubmitClaimExpiredChallengeStillAudited(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTarget(t, svc, "tag-1", 36.4273, -5.1483)

	ch, err := svc.IssueChallenge(ctx, "user-1")
	require.NoError(t, err)

	stale := time.Now().Add(-5 * time.Second)
	require.NoError(t, svc.db.Model(&challenge.Challenge{}).Where("id = ?", ch.ID).Update("expires_at", stale).Error)

	d, err := svc.SubmitClaim(ctx, ClaimRequest{
		UserID:      "user-1",
		TagID:       "tag-1",
		ChallengeID: ch.ID,
		Nonce:       ch.Nonce,
		Samples:     walkSamples(36.4273, -5.1483, time.Now()),
	})
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, "CHALLENGE_EXPIRED", d.Reason)

	recs, err := svc.trail.Recent(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.False(t, recs[0].Accepted)
	require.Equal(t, "CHALLENGE_EXPIRED", recs[0].Reason)
}

func TestSubmitClaimTooFar(t *testing.T) {
	svc := newTestService(t)
	seedTarget(t, svc, "tag-1", 36.4273, -5.1483)

	// ~220m north of the target, radius 50m.
	d := submit(t, svc, "user-1", "tag-1", 36.4293, -5.1483)
	require.False(t, d.Accepted)
	require.Equal(t, presence.ReasonTooFar, d.Reason)
	require.Greater(t, d.DistanceMeters, 50.0)
}

func TestSubmitClaimImpossibleJourney(t *testing.T) {
	svc := newTestService(t)
	seedTarget(t, svc, "tag-a", 36.4273, -5.1483)
	// Second venue ~2km away.
	seedTarget(t, svc, "tag-b", 36.4453, -5.1483)

	first := submit(t, svc, "user-1", "tag-a", 36.4273, -5.1483)
	require.True(t, first.Accepted)

	second := submit(t, svc, "user-1", "tag-b", 36.4453, -5.1483)
	require.False(t, second.Accepted)
	require.Equal(t, behavior.ReasonImpossibleJourney, second.Reason)
}

func TestSubmitClaimAbsentFingerprintLowersConfidence(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTarget(t, svc, "tag-1", 36.4273, -5.1483)

	ch, err := svc.IssueChallenge(ctx, "user-1")
	require.NoError(t, err)

	d, err := svc.SubmitClaim(ctx, ClaimRequest{
		UserID:      "user-1",
		TagID:       "tag-1",
		ChallengeID: ch.ID,
		Nonce:       ch.Nonce,
		Samples:     walkSamples(36.4273, -5.1483, time.Now()),
	})
	require.NoError(t, err)
	require.True(t, d.Accepted)
	require.Equal(t, 80, d.Confidence)
	require.Contains(t, d.Flags, presence.FlagLowFingerprint)
}

func TestSubmitClaimNewDeviceFlagged(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTarget(t, svc, "tag-a", 36.4273, -5.1483)
	// Same venue, second tag, so no cooldown and no travel between claims.
	seedTarget(t, svc, "tag-b", 36.4273, -5.1483)

	first := submit(t, svc, "user-1", "tag-a", 36.4273, -5.1483)
	require.True(t, first.Accepted)

	other := deviceAttrs()
	other.UserAgent = "Mozilla/5.0 (Windows NT 10.0) Firefox/128.0"
	other.Platform = "Win32"
	other.Timezone = "America/New_York"
	other.Language = "en-US"
	other.ScreenResolution = "2560x1440"

	ch, err := svc.IssueChallenge(ctx, "user-1")
	require.NoError(t, err)

	d, err := svc.SubmitClaim(ctx, ClaimRequest{
		UserID:           "user-1",
		TagID:            "tag-b",
		ChallengeID:      ch.ID,
		Nonce:            ch.Nonce,
		Samples:          walkSamples(36.4273, -5.1483, time.Now()),
		DeviceAttributes: other,
	})
	require.NoError(t, err)
	require.Contains(t, d.Flags, presence.FlagNewDevice)
	require.Contains(t, d.Flags, presence.FlagDeviceMismatch)
	require.Equal(t, 50, d.Confidence)
	require.True(t, d.Accepted)
}

func TestSubmitClaimBalanceAccumulates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTarget(t, svc, "tag-a", 36.4273, -5.1483)
	seedTarget(t, svc, "tag-b", 36.4273, -5.1483)

	first := submit(t, svc, "user-1", "tag-a", 36.4273, -5.1483)
	require.True(t, first.Accepted)

	second := submit(t, svc, "user-1", "tag-b", 36.4273, -5.1483)
	require.True(t, second.Accepted)
	require.Equal(t, int64(20), second.NewTotals.Points)
	require.Equal(t, int64(10), second.NewTotals.XP)

	bal, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(20), bal.Points)
	require.Equal(t, int64(10), bal.XP)
}

func TestSubmitClaimMalformedRequest(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SubmitClaim(context.Background(), ClaimRequest{UserID: "user-1"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusBadRequest, be.Status())
}

func TestGetBalanceUnknownUser(t *testing.T) {
	svc := newTestService(t)

	bal, err := svc.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	require.Zero(t, bal.Points)
	require.Zero(t, bal.XP)
}

func TestCommitRewardSerializesCooldownWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTarget(t, svc, "tag-1", 36.4273, -5.1483)

	target, err := svc.targets.Resolve(ctx, "tag-1")
	require.NoError(t, err)
	now := time.Now()

	// Two claims with distinct challenges that both cleared the cooldown
	// read race on the visit window index; only one commit may land.
	winner := &Decision{Accepted: true, Confidence: 100}
	require.NoError(t, svc.commitReward(ctx, ClaimRequest{
		UserID: "user-1", TagID: "tag-1", ChallengeID: "ch-winner",
	}, target, winner, &audit.Record{ID: "rec-winner"}, now))

	loser := &Decision{Accepted: true, Confidence: 100}
	err = svc.commitReward(ctx, ClaimRequest{
		UserID: "user-1", TagID: "tag-1", ChallengeID: "ch-loser",
	}, target, loser, &audit.Record{ID: "rec-loser"}, now)
	require.Error(t, err)

	bal, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 10, bal.Points)
	require.EqualValues(t, 5, bal.XP)
}

func TestSubmitClaimRejectionReleasesHourlySlot(t *testing.T) {
	svc := newTestService(t)
	svc.limits = ratelimit.NewService(ratelimit.ServiceParams{
		Counter: newMemCounter(),
		Config: ratelimit.Config{
			CooldownRich: 5 * time.Minute,
			CooldownScan: 24 * time.Hour,
			HourlyCap:    1,
			BurstWindow:  5 * time.Minute,
		},
	})
	seedTarget(t, svc, "tag-1", 36.4273, -5.1483)

	// The rejected claim reserved the only slot and must hand it back.
	far := submit(t, svc, "user-1", "tag-1", 36.4293, -5.1483)
	require.False(t, far.Accepted)

	good := submit(t, svc, "user-1", "tag-1", 36.4273, -5.1483)
	require.True(t, good.Accepted)
}

func TestMergeDeduplicatesFlags(t *testing.T) {
	flags := merge([]string{"STALE"}, []string{"LOW_ACCURACY", "STALE"})
	require.Equal(t, []string{"STALE", "LOW_ACCURACY"}, flags)

	flags = merge(nil, []string{"NEAR_BOUNDARY"})
	require.Equal(t, []string{"NEAR_BOUNDARY"}, flags)
}

func TestMinConfidenceTakesLowest(t *testing.T) {
	require.Equal(t, 40, minConfidence(100, 85, 40, 70))
	require.Equal(t, 100, minConfidence())
	require.Equal(t, 0, minConfidence(100, 0))
}
