package audit

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"presencegate/pkg/db/option"
	"presencegate/pkg/db/pagination"
	"presencegate/pkg/repository"
	"presencegate/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	withTrxFn func(tx *gorm.DB) repository.Repository[T]
	findFn    func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	createFn  func(ctx context.Context, resource *T) error
	updateFn  func(ctx context.Context, resourceID string, resource any) error
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	if m.withTrxFn != nil {
		return m.withTrxFn(tx)
	}
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) { return 0, nil }

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Record{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestAppendStartsAtGenesis(t *testing.T) {
	svc := newTestService(t)

	rec := &Record{UserID: "user-1", TagID: "tag-1", Accepted: true, Confidence: 100}
	require.NoError(t, svc.Append(context.Background(), rec))

	require.NotEmpty(t, rec.ID)
	require.Equal(t, genesisHash, rec.PreviousHash)
	require.Equal(t, rec.GenerateHash(), rec.Hash)
}

func TestAppendChainsToPrevious(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := &Record{UserID: "user-1", TagID: "tag-1", Accepted: true, Confidence: 100}
	require.NoError(t, svc.Append(ctx, first))

	second := &Record{UserID: "user-1", TagID: "tag-2", Accepted: false, Reason: "COOLDOWN_ACTIVE"}
	require.NoError(t, svc.Append(ctx, second))

	require.Equal(t, first.Hash, second.PreviousHash)

	// Another user's chain starts over.
	other := &Record{UserID: "user-2", TagID: "tag-1", Accepted: true}
	require.NoError(t, svc.Append(ctx, other))
	require.Equal(t, genesisHash, other.PreviousHash)
}

func TestRecentNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, tag := range []string{"tag-1", "tag-2", "tag-3"} {
		require.NoError(t, svc.Append(ctx, &Record{UserID: "user-1", TagID: tag}))
		time.Sleep(2 * time.Millisecond)
	}

	rows, err := svc.Recent(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "tag-3", rows[0].TagID)
	require.Equal(t, "tag-2", rows[1].TagID)
}

func TestListFollowsCursor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, tag := range []string{"tag-1", "tag-2", "tag-3"} {
		require.NoError(t, svc.Append(ctx, &Record{UserID: "user-1", TagID: tag}))
		time.Sleep(2 * time.Millisecond)
	}

	first, info, err := svc.List(ctx, "user-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "tag-3", first[0].TagID)
	require.Equal(t, "tag-2", first[1].TagID)
	require.NotNil(t, info)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	rest, info, err := svc.List(ctx, "user-1", pagination.Pagination{Cursor: info.NextCursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "tag-1", rest[0].TagID)
	require.False(t, info.HasMore)
}

func TestListRejectsBadCursor(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.List(context.Background(), "user-1", pagination.Pagination{Cursor: "not-base64!"})
	require.Error(t, err)
}

func TestVerifyChainValid(t *testing.T) {
	first := &Record{
		ID: "rec-1", UserID: "user-1", TagID: "tag-1", Accepted: true,
		Confidence: 100, Flags: datatypes.JSON(`[]`),
		PreviousHash: genesisHash, CreatedAt: time.Now(),
	}
	first.Hash = first.GenerateHash()

	second := &Record{
		ID: "rec-2", UserID: "user-1", TagID: "tag-2", Accepted: false,
		Reason: "TOO_FAR_FROM_POI", Flags: datatypes.JSON(`[]`),
		PreviousHash: first.Hash, CreatedAt: time.Now().Add(time.Minute),
	}
	second.Hash = second.GenerateHash()

	svc := &Service{records: &repoMock[Record]{
		findFn: func(ctx context.Context, _ *Record, opts ...option.QueryOption) ([]*Record, error) {
			return []*Record{first, second}, nil
		},
	}}

	ok, err := svc.VerifyChain(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	first := &Record{
		ID: "rec-1", UserID: "user-1", TagID: "tag-1", Accepted: true,
		Confidence: 100, PreviousHash: genesisHash, CreatedAt: time.Now(),
	}
	first.Hash = first.GenerateHash()
	// Reward inflated after the fact.
	first.Confidence = 25

	svc := &Service{records: &repoMock[Record]{
		findFn: func(ctx context.Context, _ *Record, opts ...option.QueryOption) ([]*Record, error) {
			return []*Record{first}, nil
		},
	}}

	ok, err := svc.VerifyChain(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	first := &Record{ID: "rec-1", UserID: "user-1", PreviousHash: genesisHash, CreatedAt: time.Now()}
	first.Hash = first.GenerateHash()

	second := &Record{ID: "rec-2", UserID: "user-1", PreviousHash: "forged", CreatedAt: time.Now().Add(time.Minute)}
	second.Hash = second.GenerateHash()

	svc := &Service{records: &repoMock[Record]{
		findFn: func(ctx context.Context, _ *Record, opts ...option.QueryOption) ([]*Record, error) {
			return []*Record{first, second}, nil
		},
	}}

	ok, err := svc.VerifyChain(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLinkVisitLeavesHashIntact(t *testing.T) {
	db := testutil.NewTestDB(t, &Record{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(ServiceParams{DB: db, Node: node})
	ctx := context.Background()

	rec := &Record{UserID: "user-1", TagID: "tag-1", Accepted: true}
	require.NoError(t, svc.Append(ctx, rec))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.LinkVisit(ctx, tx, rec.ID, "visit-9")
	}))

	stored, err := svc.records.FindOne(ctx, &Record{ID: rec.ID})
	require.NoError(t, err)
	require.Equal(t, "visit-9", stored.VisitID)
	require.Equal(t, rec.Hash, stored.Hash)
}
