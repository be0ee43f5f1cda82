package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"presencegate/pkg/db/option"
	"presencegate/pkg/repository"
	"presencegate/services/presence"
)

const (
	FlagSessionRevoked     = "SESSION_REVOKED"
	FlagFingerprintChanged = "FINGERPRINT_CHANGED"
	FlagIPChanged          = "IP_CHANGED"
	FlagManyIPs            = "MANY_IPS"
	FlagMultipleLocations  = "MULTIPLE_LOCATIONS"
	FlagStaleSession       = "STALE_SESSION"
)

const (
	scoreFingerprintChanged = 40
	scoreIPChanged          = 25
	scoreManyIPs            = 30
	scoreMultipleLocations  = 35
	scoreStaleSession       = 15
)

type Config struct {
	MaxDistinctIPsDay int
	MaxLoginIPsHour   int
	MaxAge            time.Duration
	RevokeScore       int
}

// Result is an advisory anomaly score for one session. Trusted=false tells
// the caller the session should be revoked; this service never blocks claims
// on its own.
type Result struct {
	Trusted bool     `json:"trusted"`
	Score   int      `json:"score"`
	Flags   []string `json:"flags"`
}

type Service struct {
	cfg     Config
	logs    repository.Repository[ActivityLog]
	revoked repository.Repository[RevokedSession]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		cfg:     p.Config,
		logs:    repository.ProvideStore[ActivityLog](p.DB),
		revoked: repository.ProvideStore[RevokedSession](p.DB),
	}
}

// Record appends one activity-log row, filling in the ID and timestamp.
func (s *Service) Record(ctx context.Context, log *ActivityLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	return s.logs.Create(ctx, log)
}

// Validate scores the session against the user's recent activity and appends
// a validate row either way.
func (s *Service) Validate(ctx context.Context, userID, sessionID, ip string, attrs presence.Attributes) (*Result, error) {
	now := time.Now()

	revoked, err := s.revoked.FindOne(ctx, &RevokedSession{SessionID: sessionID})
	if err != nil {
		zap.L().Error("failed to query revoked sessions", zap.Error(err))
		return nil, err
	}
	if revoked != nil {
		res := &Result{Trusted: false, Score: 100, Flags: []string{FlagSessionRevoked}}
		if err := s.appendValidateLog(ctx, userID, sessionID, ip, attrs, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	history, err := s.logs.Find(ctx, &ActivityLog{UserID: userID},
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.GTE, Value: now.Add(-24 * time.Hour)}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		zap.L().Error("failed to query activity logs", zap.Error(err))
		return nil, err
	}

	res := s.score(history, sessionID, ip, attrs, now)

	if err := s.appendValidateLog(ctx, userID, sessionID, ip, attrs, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) score(history []*ActivityLog, sessionID, ip string, attrs presence.Attributes, now time.Time) *Result {
	score := 0
	var flags []string

	add := func(flag string, weight int) {
		flags = append(flags, flag)
		score += weight
	}

	fingerprintID := ""
	if attrs != (presence.Attributes{}) {
		fingerprintID = presence.Fingerprint(attrs)
	}

	var (
		sessionStart  time.Time
		lastSessionFP string
		lastSessionIP string
	)
	dayIPs := map[string]bool{}
	loginIPsHour := map[string]bool{}

	for _, row := range history {
		if row.IP != "" {
			dayIPs[row.IP] = true
		}
		if row.Action == ActionLogin && row.IP != "" && now.Sub(row.CreatedAt) <= time.Hour {
			loginIPsHour[row.IP] = true
		}
		if row.SessionID != sessionID {
			continue
		}
		if sessionStart.IsZero() || row.CreatedAt.Before(sessionStart) {
			sessionStart = row.CreatedAt
		}
		if row.FingerprintID != "" {
			lastSessionFP = row.FingerprintID
		}
		if row.IP != "" {
			lastSessionIP = row.IP
		}
	}

	if fingerprintID != "" && lastSessionFP != "" && fingerprintID != lastSessionFP {
		add(FlagFingerprintChanged, scoreFingerprintChanged)
	}
	if ip != "" && lastSessionIP != "" && ip != lastSessionIP {
		add(FlagIPChanged, scoreIPChanged)
	}

	if ip != "" {
		dayIPs[ip] = true
	}
	if s.cfg.MaxDistinctIPsDay > 0 && len(dayIPs) > s.cfg.MaxDistinctIPsDay {
		add(FlagManyIPs, scoreManyIPs)
	}
	if s.cfg.MaxLoginIPsHour > 0 && len(loginIPsHour) >= s.cfg.MaxLoginIPsHour {
		add(FlagMultipleLocations, scoreMultipleLocations)
	}
	if s.cfg.MaxAge > 0 && !sessionStart.IsZero() && now.Sub(sessionStart) > s.cfg.MaxAge {
		add(FlagStaleSession, scoreStaleSession)
	}

	return &Result{
		Trusted: score < s.cfg.RevokeScore,
		Score:   score,
		Flags:   flags,
	}
}

func (s *Service) appendValidateLog(ctx context.Context, userID, sessionID, ip string, attrs presence.Attributes, res *Result) error {
	flagBytes, _ := json.Marshal(res.Flags)

	fingerprintID := ""
	if attrs != (presence.Attributes{}) {
		fingerprintID = presence.Fingerprint(attrs)
	}

	return s.Record(ctx, &ActivityLog{
		UserID:        userID,
		SessionID:     sessionID,
		Action:        ActionValidate,
		IP:            ip,
		UserAgent:     attrs.UserAgent,
		FingerprintID: fingerprintID,
		Suspicious:    !res.Trusted,
		Flags:         datatypes.JSON(flagBytes),
	})
}

// Revoke marks the session untrusted and logs the action. Revoking an
// already-revoked session is a no-op.
func (s *Service) Revoke(ctx context.Context, userID, sessionID, reason string) error {
	existing, err := s.revoked.FindOne(ctx, &RevokedSession{SessionID: sessionID})
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if err := s.revoked.Create(ctx, &RevokedSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Reason:    reason,
		RevokedAt: time.Now(),
	}); err != nil {
		zap.L().Error("failed to revoke session", zap.Error(err))
		return err
	}

	flagBytes, _ := json.Marshal([]string{reason})
	return s.Record(ctx, &ActivityLog{
		UserID:    userID,
		SessionID: sessionID,
		Action:    ActionRevoke,
		Flags:     datatypes.JSON(flagBytes),
	})
}
