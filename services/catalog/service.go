package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"presencegate/pkg/rediskey"
	"presencegate/pkg/repository"
)

const cacheTTL = time.Minute

type Service struct {
	db    *gorm.DB
	cache *redis.Client

	targets repository.Repository[Target]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Cache *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		cache:   p.Cache,
		targets: repository.ProvideStore[Target](p.DB),
	}
}

// Resolve looks up the target bound to a tag. Inactive and unknown tags both
// resolve to nil; the caller treats them the same way. The redis cache is
// best-effort and never fails the lookup.
func (s *Service) Resolve(ctx context.Context, tagID string) (*Target, error) {
	key := rediskey.BuildTargetTagKey(tagID)

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Bytes()
		if err == nil {
			var cached Target
			if err := json.Unmarshal(raw, &cached); err == nil {
				if !cached.IsActive {
					return nil, nil
				}
				return &cached, nil
			}
		} else if err != redis.Nil {
			zap.L().Debug("target cache read failed", zap.String("tag_id", tagID), zap.Error(err))
		}
	}

	target, err := s.targets.FindOne(ctx, &Target{TagID: tagID})
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}

	if s.cache != nil {
		if raw, err := json.Marshal(target); err == nil {
			if err := s.cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
				zap.L().Debug("target cache write failed", zap.String("tag_id", tagID), zap.Error(err))
			}
		}
	}

	if !target.IsActive {
		return nil, nil
	}

	return target, nil
}

// Upsert creates or replaces a target and invalidates its cache entry. Used
// by the seeding/admin collaborator, not by the claim path.
func (s *Service) Upsert(ctx context.Context, target *Target) error {
	if err := s.db.WithContext(ctx).Save(target).Error; err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, rediskey.BuildTargetTagKey(target.TagID)).Err(); err != nil {
			zap.L().Debug("target cache invalidation failed", zap.String("tag_id", target.TagID), zap.Error(err))
		}
	}

	return nil
}
