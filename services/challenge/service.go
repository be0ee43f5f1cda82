package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"presencegate/pkg/repository"
	"presencegate/pkg/util"
)

const nonceBytes = 32

// Consume failure modes. All of them are fatal to the enclosing claim.
var (
	ErrNotFound      = errors.New("challenge not found")
	ErrReplayed      = errors.New("challenge already used")
	ErrNonceMismatch = errors.New("challenge nonce mismatch")
	ErrExpired       = errors.New("challenge expired")
)

// Reason maps a consume failure to its rejection reason string.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "INVALID_CHALLENGE"
	case errors.Is(err, ErrReplayed):
		return "CHALLENGE_REPLAY"
	case errors.Is(err, ErrNonceMismatch):
		return "NONCE_MISMATCH"
	case errors.Is(err, ErrExpired):
		return "CHALLENGE_EXPIRED"
	default:
		return ""
	}
}

type Config struct {
	TTL           time.Duration
	PruneInterval time.Duration
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  Config

	challenges repository.Repository[Challenge]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		cfg:        p.Config,
		challenges: repository.ProvideStore[Challenge](p.DB),
	}
}

// Issue creates and persists a fresh challenge for the user.
func (s *Service) Issue(ctx context.Context, userID string) (*Challenge, error) {
	nonce, err := util.GenerateNonce(nonceBytes)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ch := &Challenge{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	if err := s.challenges.Create(ctx, ch); err != nil {
		zap.L().Error("failed to persist challenge", zap.Error(err))
		return nil, err
	}

	return ch, nil
}

// Consume marks a challenge used exactly once. The conditional update on the
// used flag is the serialization point: of two concurrent consumers, exactly
// one observes RowsAffected == 1.
func (s *Service) Consume(ctx context.Context, id, nonce string, now time.Time) error {
	ch, err := s.challenges.FindOne(ctx, &Challenge{ID: id})
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrNotFound
	}
	if ch.Used {
		return ErrReplayed
	}
	if ch.Nonce != nonce {
		return ErrNonceMismatch
	}
	if now.After(ch.ExpiresAt) {
		return ErrExpired
	}

	res := s.db.WithContext(ctx).Model(&Challenge{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{"used": true, "used_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReplayed
	}

	return nil
}

// PruneExpired deletes unused challenges past their expiry and returns the
// number of rows removed.
func (s *Service) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("used = ? AND expires_at < ?", false, now).
		Delete(&Challenge{})
	return res.RowsAffected, res.Error
}
