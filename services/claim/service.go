package claim

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"presencegate/pkg/db/option"
	"presencegate/pkg/errutil"
	"presencegate/pkg/repository"
	"presencegate/services/audit"
	"presencegate/services/behavior"
	"presencegate/services/catalog"
	"presencegate/services/challenge"
	"presencegate/services/presence"
	"presencegate/services/ratelimit"
	"presencegate/services/session"
)

const (
	ReasonNotFound           = "NOT_FOUND"
	ReasonLowConfidence      = "LOW_CONFIDENCE"
	ReasonServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Fingerprint attribute score below this raises LOW_FINGERPRINT_CONFIDENCE.
const minAttributeScore = 40

const (
	penaltyLowFingerprint = 20
	penaltyNewDevice      = 20
	penaltyDeviceMismatch = 30
)

const recentDeviceLimit = 10

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	policy presence.Policy
	bcfg   behavior.Config

	challenges *challenge.Service
	targets    *catalog.Service
	limits     *ratelimit.Service
	trail      *audit.Service
	sessions   *session.Service

	visits   repository.Repository[VisitRecord]
	balances repository.Repository[Balance]
	devices  repository.Repository[KnownDevice]
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Policy     presence.Policy
	Behavior   behavior.Config
	Challenges *challenge.Service
	Targets    *catalog.Service
	Limits     *ratelimit.Service
	Audit      *audit.Service
	Sessions   *session.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		policy:     p.Policy,
		bcfg:       p.Behavior,
		challenges: p.Challenges,
		targets:    p.Targets,
		limits:     p.Limits,
		trail:      p.Audit,
		sessions:   p.Sessions,
		visits:     repository.ProvideStore[VisitRecord](p.DB),
		balances:   repository.ProvideStore[Balance](p.DB),
		devices:    repository.ProvideStore[KnownDevice](p.DB),
	}
}

// IssueChallenge hands out a fresh single-use challenge for the user.
func (s *Service) IssueChallenge(ctx context.Context, userID string) (*challenge.Challenge, error) {
	return s.challenges.Issue(ctx, userID)
}

// GetBalance returns the user's reward totals, zero-valued for unknown users.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	bal, err := s.balances.FindOne(ctx, &Balance{UserID: userID})
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return &Balance{UserID: userID}, nil
	}
	return bal, nil
}

// SubmitClaim runs the full validation pipeline and, on acceptance, grants
// the reward atomically. Adversarial input comes back as a rejected Decision,
// not an error; an error means the request shape itself is malformed.
func (s *Service) SubmitClaim(ctx context.Context, req ClaimRequest) (*Decision, error) {
	span := trace.SpanFromContext(ctx)
	log := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("user_id", req.UserID),
		zap.String("tag_id", req.TagID),
	)

	if req.UserID == "" || req.TagID == "" || req.ChallengeID == "" || req.Nonce == "" {
		return nil, errutil.BadRequest("user_id, tag_id, challenge_id and nonce are required", nil)
	}

	now := time.Now()

	burst, err := s.limits.RecordAttempt(ctx, req.UserID, now)
	if err != nil {
		log.Error("failed to record claim attempt", zap.Error(err))
		return s.finalize(ctx, log, req, unavailable()), nil
	}

	// Step 1: single-use challenge.
	if err := s.challenges.Consume(ctx, req.ChallengeID, req.Nonce, now); err != nil {
		if reason := challenge.Reason(err); reason != "" {
			return s.finalize(ctx, log, req, rejected(reason, nil, 0)), nil
		}
		log.Error("failed to consume challenge", zap.Error(err))
		return s.finalize(ctx, log, req, unavailable()), nil
	}

	// Step 2: target lookup.
	target, err := s.targets.Resolve(ctx, req.TagID)
	if err != nil {
		log.Error("failed to resolve target", zap.Error(err))
		return s.finalize(ctx, log, req, unavailable()), nil
	}
	if target == nil {
		return s.finalize(ctx, log, req, rejected(ReasonNotFound, nil, 0)), nil
	}

	// Step 3: cooldown and hourly cap, before any geometry.
	lastAccepted, err := s.lastAcceptedAt(ctx, req.UserID, req.TagID)
	if err != nil {
		log.Error("failed to query last visit", zap.Error(err))
		return s.finalize(ctx, log, req, unavailable()), nil
	}
	if res := s.limits.CheckCooldown(lastAccepted, now, s.limits.CooldownFor(req.Flow)); !res.Allowed {
		d := rejected(res.Reason, res.Flags, 0)
		d.RetryAfterSeconds = int64(res.RetryAfter.Seconds())
		return s.finalize(ctx, log, req, d), nil
	}

	capRes, err := s.limits.ReserveHourly(ctx, req.UserID, now)
	if err != nil {
		log.Error("failed to reserve hourly slot", zap.Error(err))
		return s.finalize(ctx, log, req, unavailable()), nil
	}
	if !capRes.Allowed {
		return s.finalize(ctx, log, req, rejected(capRes.Reason, capRes.Flags, 0)), nil
	}

	// The slot is held until the claim is granted; every rejection from
	// here on hands it back so failed attempts do not consume the cap.
	granted := false
	defer func() {
		if granted {
			return
		}
		if rErr := s.limits.ReleaseHourly(ctx, req.UserID, now); rErr != nil {
			log.Warn("failed to release hourly slot", zap.Error(rErr))
		}
	}()

	flags := append([]string{}, capRes.Flags...)

	// Step 4: trajectory (runs per-sample validation internally).
	trajectory := presence.ValidateTrajectory(req.Samples, now, s.policy)
	flags = merge(flags, trajectory.Flags)
	if trajectory.Fatal {
		return s.finalize(ctx, log, req, rejected(trajectory.Reason, flags, 0)), nil
	}

	// Step 5: proximity against the resolved target.
	last := presence.LastSample(req.Samples)
	radius := s.policy.RadiusFor(req.Flow, target.RadiusMeters)
	proximity := presence.ValidateProximity(last, target.Latitude, target.Longitude, radius)
	flags = merge(flags, proximity.Flags)
	if proximity.Fatal {
		d := rejected(proximity.Reason, flags, 0)
		d.DistanceMeters = proximity.DistanceMeters
		return s.finalize(ctx, log, req, d), nil
	}

	// Step 6: behavioral history.
	history, prev, err := s.claimHistory(ctx, req.UserID)
	if err != nil {
		log.Error("failed to load claim history", zap.Error(err))
		return s.finalize(ctx, log, req, unavailable()), nil
	}
	behave := behavior.Analyze(behavior.Input{
		History:    history,
		Previous:   prev,
		Current:    behavior.ClaimEvent{At: now, TagID: req.TagID, Latitude: target.Latitude, Longitude: target.Longitude},
		Samples:    req.Samples,
		BurstCount: burst,
		Flow:       req.Flow,
	}, s.bcfg)
	flags = merge(flags, behave.Flags)
	if behave.Fatal {
		return s.finalize(ctx, log, req, rejected(behave.Reason, flags, 0)), nil
	}

	// Step 7: device fingerprint, never fatal on its own.
	device, err := s.scoreFingerprint(ctx, req.UserID, req.DeviceAttributes)
	if err != nil {
		log.Error("failed to score device fingerprint", zap.Error(err))
		return s.finalize(ctx, log, req, unavailable()), nil
	}
	flags = merge(flags, device.Flags)

	// Step 8: a single severe signal dominates.
	confidence := minConfidence(trajectory.Confidence, proximity.Confidence, behave.Confidence, device.Confidence)

	decision := &Decision{
		Accepted:       confidence >= presence.AcceptThreshold,
		Flags:          flags,
		Confidence:     confidence,
		DistanceMeters: proximity.DistanceMeters,
	}
	if !decision.Accepted {
		decision.Reason = ReasonLowConfidence
		return s.finalize(ctx, log, req, decision), nil
	}

	// Steps 10–11: audit first, then the atomic reward grant.
	rec, err := s.appendAudit(ctx, req, decision)
	if err != nil {
		return reject(decision, ReasonServiceUnavailable), nil
	}

	if err := s.commitReward(ctx, req, target, decision, rec, now); err != nil {
		// A concurrent claim that cleared the earlier cooldown read may
		// have landed first; the visit unique index decides the winner.
		if last, lastErr := s.lastAcceptedAt(ctx, req.UserID, req.TagID); lastErr == nil && last != nil {
			if res := s.limits.CheckCooldown(last, now, s.limits.CooldownFor(req.Flow)); !res.Allowed {
				log.Warn("concurrent claim already holds the cooldown window", zap.Error(err))
				d := reject(decision, res.Reason)
				d.RetryAfterSeconds = int64(res.RetryAfter.Seconds())
				return d, nil
			}
		}
		log.Error("failed to commit reward", zap.Error(err))
		return reject(decision, ReasonServiceUnavailable), nil
	}
	granted = true

	if err := s.limits.RecordAccepted(ctx, req.TagID, now); err != nil {
		// Reward is already committed; the tag counter under-counts one.
		log.Error("failed to record accepted claim counters", zap.Error(err))
	}

	s.recordActivity(ctx, log, req, decision)

	log.Info("claim accepted",
		zap.Int("confidence", decision.Confidence),
		zap.Float64("distance_meters", decision.DistanceMeters))
	return decision, nil
}

func (s *Service) finalize(ctx context.Context, log *zap.Logger, req ClaimRequest, d *Decision) *Decision {
	if _, err := s.appendAudit(ctx, req, d); err != nil {
		log.Error("failed to append audit record", zap.Error(err))
		return reject(d, ReasonServiceUnavailable)
	}
	s.recordActivity(ctx, log, req, d)
	log.Info("claim rejected", zap.String("reason", d.Reason), zap.Int("confidence", d.Confidence))
	return d
}

func (s *Service) appendAudit(ctx context.Context, req ClaimRequest, d *Decision) (*audit.Record, error) {
	flagBytes, _ := json.Marshal(d.Flags)

	fingerprintID := ""
	if req.DeviceAttributes != (presence.Attributes{}) {
		fingerprintID = presence.Fingerprint(req.DeviceAttributes)
	}

	rec := &audit.Record{
		UserID:         req.UserID,
		TagID:          req.TagID,
		ChallengeID:    req.ChallengeID,
		FingerprintID:  fingerprintID,
		Accepted:       d.Accepted,
		Reason:         d.Reason,
		Confidence:     d.Confidence,
		Flags:          datatypes.JSON(flagBytes),
		DistanceMeters: d.DistanceMeters,
	}
	if len(req.Samples) > 0 {
		lastSample := presence.LastSample(req.Samples)
		rec.SampleLat = lastSample.Latitude
		rec.SampleLon = lastSample.Longitude
		rec.SampleCapturedAt = lastSample.CapturedAtMs
	}

	if err := s.trail.Append(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) commitReward(ctx context.Context, req ClaimRequest, target *catalog.Target, d *Decision, rec *audit.Record, now time.Time) error {
	visitID := s.node.Generate().String()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		visitTx := s.visits.WithTrx(tx)
		balanceTx := s.balances.WithTrx(tx)

		if err := visitTx.Create(ctx, &VisitRecord{
			ID:            visitID,
			UserID:        req.UserID,
			TagID:         req.TagID,
			WindowBucket:  cooldownBucket(now, s.limits.CooldownFor(req.Flow)),
			ChallengeID:   req.ChallengeID,
			AuditID:       rec.ID,
			PointsAwarded: target.RewardPoints,
			XPAwarded:     target.RewardXP,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		bal, err := balanceTx.FindOne(ctx, &Balance{UserID: req.UserID})
		if err != nil {
			return err
		}
		if bal == nil {
			if err := balanceTx.Create(ctx, &Balance{
				UserID:    req.UserID,
				Points:    target.RewardPoints,
				XP:        target.RewardXP,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		} else {
			updates := map[string]any{
				"points":     gorm.Expr("points + ?", target.RewardPoints),
				"xp":         gorm.Expr("xp + ?", target.RewardXP),
				"updated_at": now,
			}
			if err := balanceTx.Update(ctx, bal.UserID, updates); err != nil {
				return err
			}
		}

		if err := s.rememberDevice(ctx, tx, req, now); err != nil {
			return err
		}

		return s.trail.LinkVisit(ctx, tx, rec.ID, visitID)
	})
	if err != nil {
		return err
	}

	bal, err := s.GetBalance(ctx, req.UserID)
	if err != nil {
		return err
	}

	d.Reward = &Reward{Points: target.RewardPoints, XP: target.RewardXP}
	d.NewTotals = &Totals{Points: bal.Points, XP: bal.XP}
	return nil
}

func (s *Service) rememberDevice(ctx context.Context, tx *gorm.DB, req ClaimRequest, now time.Time) error {
	if req.DeviceAttributes == (presence.Attributes{}) {
		return nil
	}

	fingerprintID := presence.Fingerprint(req.DeviceAttributes)
	devTx := s.devices.WithTrx(tx)

	existing, err := devTx.FindOne(ctx, &KnownDevice{UserID: req.UserID, FingerprintID: fingerprintID})
	if err != nil {
		return err
	}
	if existing != nil {
		return devTx.Update(ctx, existing.ID, map[string]any{
			"seen_count": gorm.Expr("seen_count + 1"),
			"last_seen":  now,
		})
	}

	attrBytes, _ := json.Marshal(req.DeviceAttributes)
	return devTx.Create(ctx, &KnownDevice{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		FingerprintID: fingerprintID,
		Attributes:    datatypes.JSON(attrBytes),
		SeenCount:     1,
		FirstSeen:     now,
		LastSeen:      now,
	})
}

// scoreFingerprint compares the submitted attributes with devices seen on the
// user's accepted claims.
func (s *Service) scoreFingerprint(ctx context.Context, userID string, attrs presence.Attributes) (presence.Verdict, error) {
	confidence := 100
	var flags []string

	penalize := func(flag string, weight int) {
		flags = append(flags, flag)
		confidence -= weight
	}

	if presence.AttributeConfidence(attrs) < minAttributeScore {
		penalize(presence.FlagLowFingerprint, penaltyLowFingerprint)
	}

	known, err := s.devices.Find(ctx, &KnownDevice{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "last_seen", OrderBy: "desc", Allow: map[string]bool{"last_seen": true}}),
		option.WithLimit(recentDeviceLimit),
	)
	if err != nil {
		return presence.Verdict{}, err
	}

	if len(known) > 0 && attrs != (presence.Attributes{}) {
		fingerprintID := presence.Fingerprint(attrs)
		seen := false
		for _, dev := range known {
			if dev.FingerprintID == fingerprintID {
				seen = true
				break
			}
		}
		if !seen {
			penalize(presence.FlagNewDevice, penaltyNewDevice)

			var lastAttrs presence.Attributes
			if err := json.Unmarshal(known[0].Attributes, &lastAttrs); err == nil {
				if !presence.Similar(attrs, lastAttrs, s.policy.SimilarityThreshold) {
					penalize(presence.FlagDeviceMismatch, penaltyDeviceMismatch)
				}
			}
		}
	}

	if confidence < 0 {
		confidence = 0
	}
	return presence.Verdict{
		Valid:      confidence >= presence.AcceptThreshold,
		Confidence: confidence,
		Flags:      flags,
	}, nil
}

func (s *Service) lastAcceptedAt(ctx context.Context, userID, tagID string) (*time.Time, error) {
	rows, err := s.visits.Find(ctx, &VisitRecord{UserID: userID, TagID: tagID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(1),
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0].CreatedAt, nil
}

// claimHistory maps the user's newest audit records to chronological claim
// events plus the most recent accepted one.
func (s *Service) claimHistory(ctx context.Context, userID string) ([]behavior.ClaimEvent, *behavior.ClaimEvent, error) {
	recs, err := s.trail.Recent(ctx, userID, s.bcfg.HistorySize)
	if err != nil {
		return nil, nil, err
	}

	events := make([]behavior.ClaimEvent, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		events = append(events, behavior.ClaimEvent{
			At:        r.CreatedAt,
			TagID:     r.TagID,
			Latitude:  r.SampleLat,
			Longitude: r.SampleLon,
			Accepted:  r.Accepted,
		})
	}

	var prev *behavior.ClaimEvent
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Accepted {
			prev = &events[i]
			break
		}
	}
	return events, prev, nil
}

// recordActivity leaves a session activity row; advisory only, a failure
// never alters the decision.
func (s *Service) recordActivity(ctx context.Context, log *zap.Logger, req ClaimRequest, d *Decision) {
	if s.sessions == nil || req.SessionID == "" {
		return
	}

	flagBytes, _ := json.Marshal(d.Flags)
	fingerprintID := ""
	if req.DeviceAttributes != (presence.Attributes{}) {
		fingerprintID = presence.Fingerprint(req.DeviceAttributes)
	}

	if err := s.sessions.Record(ctx, &session.ActivityLog{
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Action:        session.ActionClaim,
		IP:            req.IP,
		UserAgent:     req.DeviceAttributes.UserAgent,
		FingerprintID: fingerprintID,
		Suspicious:    !d.Accepted,
		Flags:         datatypes.JSON(flagBytes),
	}); err != nil {
		log.Warn("failed to record claim activity", zap.Error(err))
	}
}

// cooldownBucket aligns a commit time to its cooldown window so the unique
// visit index admits at most one grant per (user, tag) window. A disabled
// window degrades to nanosecond buckets, leaving only the challenge unique.
func cooldownBucket(now time.Time, window time.Duration) int64 {
	if window <= 0 {
		return now.UnixNano()
	}
	return now.Unix() / int64(window.Seconds())
}

// merge appends src flags not already present in dst.
func merge(dst, src []string) []string {
	for _, f := range src {
		dup := false
		for _, have := range dst {
			if have == f {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, f)
		}
	}
	return dst
}

func minConfidence(values ...int) int {
	min := 100
	for _, v := range values {
		if v < min {
			min = v
		}
	}
	return min
}

func rejected(reason string, flags []string, confidence int) *Decision {
	return &Decision{
		Reason:     reason,
		Flags:      append([]string{}, flags...),
		Confidence: confidence,
	}
}

func unavailable() *Decision {
	return &Decision{Reason: ReasonServiceUnavailable}
}

// reject downgrades an in-flight decision after a store failure.
func reject(d *Decision, reason string) *Decision {
	d.Accepted = false
	d.Reason = reason
	d.Reward = nil
	d.NewTotals = nil
	return d
}

var Module = fx.Module("claim.service",
	fx.Provide(NewService),
)
