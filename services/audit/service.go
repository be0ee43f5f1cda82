package audit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"presencegate/pkg/db/option"
	"presencegate/pkg/db/pagination"
	"presencegate/pkg/errutil"
	"presencegate/pkg/repository"
)

type Service struct {
	node    *snowflake.Node
	records repository.Repository[Record]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:    p.Node,
		records: repository.ProvideStore[Record](p.DB),
	}
}

func sortByCreatedAt(order string) option.QueryOption {
	return option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: order,
		Allow:   map[string]bool{"created_at": true},
	})
}

// Append writes one chained record for the user. The caller must treat an
// error here as fatal for the claim: a decision that cannot be audited must
// not stand.
func (s *Service) Append(ctx context.Context, rec *Record) error {
	last, err := s.lastEntry(ctx, rec.UserID)
	if err != nil {
		zap.L().Error("failed to query audit chain head", zap.Error(err))
		return err
	}

	rec.ID = s.node.Generate().String()
	rec.CreatedAt = time.Now()
	rec.PreviousHash = genesisHash
	if last != nil {
		rec.PreviousHash = last.Hash
	}
	rec.Hash = rec.GenerateHash()

	if err := s.records.Create(ctx, rec); err != nil {
		zap.L().Error("failed to append audit record", zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) lastEntry(ctx context.Context, userID string) (*Record, error) {
	rows, err := s.records.Find(ctx, &Record{UserID: userID},
		sortByCreatedAt("desc"), option.WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// List pages through the user's records newest-first with an opaque cursor.
func (s *Service) List(ctx context.Context, userID string, page pagination.Pagination) ([]*Record, *pagination.PageInfo, error) {
	limit := page.Clamp()

	opts := []option.QueryOption{
		sortByCreatedAt("desc"),
		option.WithLimit(limit + 1),
	}
	if page.Cursor != "" {
		cur, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		at, err := time.Parse(time.RFC3339Nano, cur.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field: "created_at", Operator: option.LT, Value: at,
		}))
	}

	rows, err := s.records.Find(ctx, &Record{UserID: userID}, opts...)
	if err != nil {
		zap.L().Error("failed to list audit records", zap.Error(err))
		return nil, nil, err
	}

	return pagination.BuildPage(rows, limit, func(r *Record) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt.Format(time.RFC3339Nano), ID: r.ID}
	})
}

// Recent returns the user's newest records, newest first.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]*Record, error) {
	return s.records.Find(ctx, &Record{UserID: userID},
		sortByCreatedAt("desc"), option.WithLimit(limit))
}

// LinkVisit backfills the visit ID on an accepted record inside the reward
// transaction. The visit ID sits outside the hash, so the chain stays intact.
func (s *Service) LinkVisit(ctx context.Context, tx *gorm.DB, auditID, visitID string) error {
	return s.records.WithTrx(tx).Update(ctx, auditID, map[string]any{
		"visit_id": visitID,
	})
}

// VerifyChain replays the user's records oldest-first and reports whether
// every hash and back-link still holds.
func (s *Service) VerifyChain(ctx context.Context, userID string) (bool, error) {
	entries, err := s.records.Find(ctx, &Record{UserID: userID}, sortByCreatedAt("asc"))
	if err != nil {
		zap.L().Error("failed to query audit records", zap.Error(err))
		return false, err
	}

	lastHash := genesisHash
	for _, entry := range entries {
		if entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			return false, nil
		}
		lastHash = entry.Hash
	}
	return true, nil
}

var Module = fx.Module("audit.service",
	fx.Provide(NewService),
)
