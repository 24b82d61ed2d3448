package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	affiliaterepo "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/repository"
	attributiondomain "github.com/rcarraroia/slim-quality-sub008/internal/attribution/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/attribution/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	"github.com/rcarraroia/slim-quality-sub008/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(t0)

	cfg := config.DefaultCommissionConfig()
	cfg.AttributionTTL = 24 * time.Hour

	svc := NewService(ServiceParam{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clk,
		Repo:          repository.Provide(),
		AffiliateRepo: affiliaterepo.Provide(),
		Config:        config.StaticCommissionConfig(cfg),
	}).(*Service)
	return &fixture{svc: svc, db: db, node: node, clock: clk}
}

func (f *fixture) affiliate(t *testing.T, code string) snowflake.ID {
	t.Helper()
	a := &affiliatedomain.Affiliate{
		ID:        f.node.Generate(),
		Code:      code,
		Name:      code,
		Status:    affiliatedomain.StatusActive,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	require.NoError(t, f.db.Create(a).Error)
	return a.ID
}

func TestCaptureThenResolve(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.affiliate(t, "alice")

	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "alice", t0))

	got, err := f.svc.Resolve(ctx, "visitor-1", t0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, alice, *got)

	// Resolve never consumes.
	row, err := f.svc.Get(ctx, "visitor-1")
	require.NoError(t, err)
	assert.False(t, row.Consumed())
	assert.Equal(t, t0.Add(24*time.Hour), row.ExpiresAt.UTC())
}

func TestCaptureUnknownCode(t *testing.T) {
	f := setup(t)
	err := f.svc.Capture(context.Background(), "visitor-1", "nobody", t0)
	assert.ErrorIs(t, err, affiliatedomain.ErrUnknownAffiliate)

	err = f.svc.Capture(context.Background(), " ", "nobody", t0)
	assert.ErrorIs(t, err, attributiondomain.ErrInvalidVisitor)
}

func TestCaptureLastTouchWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.affiliate(t, "alice")
	bob := f.affiliate(t, "bob")

	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "alice", t0))
	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "bob", t0.Add(time.Hour)))

	got, err := f.svc.Resolve(ctx, "visitor-1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, bob, *got)
}

func TestCaptureIgnoresOlderTouch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.affiliate(t, "alice")
	bob := f.affiliate(t, "bob")

	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "bob", t0.Add(time.Hour)))
	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "alice", t0))

	got, err := f.svc.Resolve(ctx, "visitor-1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, bob, *got)
}

func TestResolveExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.affiliate(t, "alice")
	bob := f.affiliate(t, "bob")

	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "alice", t0))

	got, err := f.svc.Resolve(ctx, "visitor-1", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)

	// An expired attribution is replaced by the next touch.
	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "bob", t0.Add(48*time.Hour)))
	got, err = f.svc.Resolve(ctx, "visitor-1", t0.Add(48*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, bob, *got)
}

func TestResolveUsesTouchInForce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.affiliate(t, "alice")
	bob := f.affiliate(t, "bob")

	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "alice", t0))
	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "bob", t0.Add(2*time.Hour)))

	got, err := f.svc.Resolve(ctx, "visitor-1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, alice, *got)

	got, err = f.svc.Resolve(ctx, "visitor-1", t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, bob, *got)

	// Nothing was in force before the first touch.
	got, err = f.svc.Resolve(ctx, "visitor-1", t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)

	// The older touch expires on its own schedule.
	got, err = f.svc.Resolve(ctx, "visitor-1", t0.Add(25*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, bob, *got)

	var touches int64
	require.NoError(t, f.db.Model(&attributiondomain.ReferralTouch{}).Count(&touches).Error)
	assert.Equal(t, int64(2), touches)
}

func TestCaptureAfterConsumeKeepsNoHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.affiliate(t, "alice")
	f.affiliate(t, "bob")

	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "alice", t0))
	require.NoError(t, f.svc.Consume(ctx, "visitor-1", "order-1"))
	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "bob", t0.Add(time.Hour)))

	var touches int64
	require.NoError(t, f.db.Model(&attributiondomain.ReferralTouch{}).Count(&touches).Error)
	assert.Equal(t, int64(1), touches)

	got, err := f.svc.Resolve(ctx, "visitor-1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConsume(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.affiliate(t, "alice")
	f.affiliate(t, "bob")

	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "alice", t0))
	require.NoError(t, f.svc.Consume(ctx, "visitor-1", "order-1"))

	// Same order again is a no-op.
	require.NoError(t, f.svc.Consume(ctx, "visitor-1", "order-1"))
	assert.ErrorIs(t, f.svc.Consume(ctx, "visitor-1", "order-2"), attributiondomain.ErrAlreadyAttributed)

	got, err := f.svc.Resolve(ctx, "visitor-1", t0)
	require.NoError(t, err)
	assert.Nil(t, got)

	// A consumed attribution is never overwritten.
	require.NoError(t, f.svc.Capture(ctx, "visitor-1", "bob", t0.Add(time.Hour)))
	row, err := f.svc.Get(ctx, "visitor-1")
	require.NoError(t, err)
	assert.Equal(t, alice, row.AffiliateID)
	require.NotNil(t, row.OrderRef)
	assert.Equal(t, "order-1", *row.OrderRef)
	assert.NotNil(t, row.ConvertedAt)
}

func TestConsumeErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Consume(ctx, "visitor-1", "order-1"), attributiondomain.ErrAttributionNotFound)
	assert.ErrorIs(t, f.svc.Consume(ctx, "", "order-1"), attributiondomain.ErrInvalidVisitor)
	assert.ErrorIs(t, f.svc.Consume(ctx, "visitor-1", " "), attributiondomain.ErrInvalidOrderRef)

	_, err := f.svc.Get(ctx, "visitor-1")
	assert.ErrorIs(t, err, attributiondomain.ErrAttributionNotFound)
}
