package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	affiliaterepo "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/repository"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	auditrepo "github.com/rcarraroia/slim-quality-sub008/internal/audit/repository"
	auditsvc "github.com/rcarraroia/slim-quality-sub008/internal/audit/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	ledgerrepo "github.com/rcarraroia/slim-quality-sub008/internal/ledger/repository"
	ledgersvc "github.com/rcarraroia/slim-quality-sub008/internal/ledger/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/testutil"
	withdrawaldomain "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	ledger *ledgersvc.Service
	audit  auditdomain.Service
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(t0)
	affRepo := affiliaterepo.Provide()
	audit := auditsvc.NewService(auditsvc.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})

	ledger := ledgersvc.NewService(ledgersvc.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk,
		Repo: ledgerrepo.Provide(), AffiliateRepo: affRepo,
	})
	svc := NewService(ServiceParam{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clk,
		Repo:          repository.Provide(),
		AffiliateRepo: affRepo,
		LedgerSvc:     ledger,
		AuditSvc:      audit,
	}).(*Service)
	return &fixture{svc: svc, ledger: ledger, audit: audit, db: db, node: node, clock: clk}
}

// affiliateWithBalance creates an active affiliate holding one pending
// commission of amount.
func (f *fixture) affiliateWithBalance(t *testing.T, code string, amount int64) snowflake.ID {
	t.Helper()
	a := affiliatedomain.Affiliate{
		ID: f.node.Generate(), Code: code, Name: code,
		Status: affiliatedomain.StatusActive, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.db.Create(&a).Error)
	if amount > 0 {
		f.addPending(t, a.ID, amount)
	}
	return a.ID
}

func (f *fixture) addPending(t *testing.T, affiliateID snowflake.ID, amount int64) snowflake.ID {
	t.Helper()
	c := ledgerdomain.Commission{
		ID:              f.node.Generate(),
		OrderRef:        "ord-" + f.node.Generate().String(),
		AffiliateID:     affiliateID,
		Level:           1,
		BaseAmount:      amount * 10,
		Amount:          amount,
		Status:          ledgerdomain.CommissionStatusPending,
		RuleVersion:     1,
		CreatedAt:       f.clock.Now(),
		StatusChangedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&c).Error)
	return c.ID
}

func (f *fixture) balance(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestRequestApprovePaid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 1_000)

	req, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 600, Note: " payout "})
	require.NoError(t, err)
	assert.Equal(t, withdrawaldomain.StatusRequested, req.Status)
	assert.Equal(t, "payout", req.Note)
	assert.Nil(t, req.ReservationID)
	assert.Equal(t, int64(1_000), f.balance(t, a), "requesting reserves nothing")

	approved, err := f.svc.Approve(ctx, req.ID, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, withdrawaldomain.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReservationID)
	assert.Equal(t, "ops@example.com", approved.DecidedBy)
	assert.NotNil(t, approved.DecidedAt)
	assert.Equal(t, int64(400), f.balance(t, a))

	f.clock.Advance(time.Hour)
	paid, err := f.svc.MarkPaid(ctx, req.ID, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, withdrawaldomain.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, int64(400), f.balance(t, a))

	summary, err := f.ledger.Summary(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(600), summary.Paid)

	_, err = f.svc.MarkPaid(ctx, req.ID, "ops@example.com")
	assert.ErrorIs(t, err, withdrawaldomain.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, req.ID, "ops@example.com", "late")
	assert.ErrorIs(t, err, withdrawaldomain.ErrInvalidTransition)

	// The paid request no longer blocks a new one.
	_, err = f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 400})
	require.NoError(t, err)
}

func TestDecisionsAreAudited(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 1_000)

	req, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 300})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, req.ID, "ops")
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, req.ID, "ops", " bank closed ")
	require.NoError(t, err)

	// Failed decisions leave no entry.
	_, err = f.svc.MarkPaid(ctx, req.ID, "ops")
	require.ErrorIs(t, err, withdrawaldomain.ErrInvalidTransition)

	resp, err := f.audit.List(ctx, auditdomain.ListRequest{
		TargetType: auditdomain.TargetWithdrawal,
		TargetID:   req.ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 3)

	rejected := resp.AuditLogs[0]
	assert.Equal(t, auditdomain.ActionWithdrawalRejected, rejected.Action)
	assert.Equal(t, auditdomain.ActorTypeOperator, rejected.ActorType)
	require.NotNil(t, rejected.ActorID)
	assert.Equal(t, "ops", *rejected.ActorID)
	assert.Equal(t, "approved", rejected.Metadata["from"])
	assert.Equal(t, "rejected", rejected.Metadata["to"])
	assert.Equal(t, "bank closed", rejected.Metadata["reason"])

	approved := resp.AuditLogs[1]
	assert.Equal(t, auditdomain.ActionWithdrawalApproved, approved.Action)
	assert.NotEmpty(t, approved.Metadata["reservation_id"])

	requested := resp.AuditLogs[2]
	assert.Equal(t, auditdomain.ActionWithdrawalRequested, requested.Action)
	assert.Equal(t, auditdomain.ActorTypeSystem, requested.ActorType)
	assert.Nil(t, requested.ActorID)
}

func TestRequestValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 100)

	_, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 0})
	assert.ErrorIs(t, err, withdrawaldomain.ErrInvalidAmount)

	_, err = f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 101})
	assert.ErrorIs(t, err, withdrawaldomain.ErrInsufficientBalance)
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	_, err = f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: snowflake.ID(9), Amount: 1})
	assert.ErrorIs(t, err, affiliatedomain.ErrUnknownAffiliate)
}

func TestOnlyOneOpenRequest(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 1_000)

	first, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 100})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 100})
	assert.ErrorIs(t, err, withdrawaldomain.ErrRequestAlreadyOpen)

	_, err = f.svc.Approve(ctx, first.ID, "ops")
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 100})
	assert.ErrorIs(t, err, withdrawaldomain.ErrRequestAlreadyOpen)

	_, err = f.svc.Reject(ctx, first.ID, "ops", "duplicate account")
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 100})
	assert.NoError(t, err)
}

func TestRejectApprovedReleasesReservation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 500)

	req, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 500})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, req.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.balance(t, a))

	rejected, err := f.svc.Reject(ctx, req.ID, "ops", " bank details invalid ")
	require.NoError(t, err)
	assert.Equal(t, withdrawaldomain.StatusRejected, rejected.Status)
	assert.Equal(t, "bank details invalid", rejected.DecisionReason)
	assert.Equal(t, int64(500), f.balance(t, a))

	_, err = f.svc.Approve(ctx, req.ID, "ops")
	assert.ErrorIs(t, err, withdrawaldomain.ErrInvalidTransition)
}

func TestRejectRequested(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 500)

	req, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 200})
	require.NoError(t, err)
	rejected, err := f.svc.Reject(ctx, req.ID, "ops", "")
	require.NoError(t, err)
	assert.Equal(t, withdrawaldomain.StatusRejected, rejected.Status)
	assert.Nil(t, rejected.ReservationID)
	assert.Equal(t, int64(500), f.balance(t, a))
}

func TestApproveChecksBalanceAgain(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 0)
	commission := f.addPending(t, a, 300)

	req, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 300})
	require.NoError(t, err)
	require.NoError(t, f.ledger.MarkFailed(ctx, []snowflake.ID{commission}))

	_, err = f.svc.Approve(ctx, req.ID, "ops")
	assert.ErrorIs(t, err, withdrawaldomain.ErrInsufficientBalance)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, withdrawaldomain.StatusRequested, got.Status)
}

func TestDecisionGuards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 500)
	req, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 200})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID, " ")
	assert.ErrorIs(t, err, withdrawaldomain.ErrInvalidDecider)
	_, err = f.svc.MarkPaid(ctx, req.ID, "ops")
	assert.ErrorIs(t, err, withdrawaldomain.ErrInvalidTransition)
	_, err = f.svc.Approve(ctx, snowflake.ID(4), "ops")
	assert.ErrorIs(t, err, withdrawaldomain.ErrWithdrawalNotFound)
	_, err = f.svc.Get(ctx, snowflake.ID(4))
	assert.ErrorIs(t, err, withdrawaldomain.ErrWithdrawalNotFound)
}

func TestList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.affiliateWithBalance(t, "a", 500)
	b := f.affiliateWithBalance(t, "b", 500)

	ra, err := f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: a, Amount: 100})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Request(ctx, withdrawaldomain.RequestInput{AffiliateID: b, Amount: 100})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, ra.ID, "ops")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, withdrawaldomain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Withdrawals, 2)

	approved, err := f.svc.List(ctx, withdrawaldomain.ListRequest{Status: withdrawaldomain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved.Withdrawals, 1)
	assert.Equal(t, ra.ID, approved.Withdrawals[0].ID)

	forB, err := f.svc.List(ctx, withdrawaldomain.ListRequest{AffiliateID: &b})
	require.NoError(t, err)
	require.Len(t, forB.Withdrawals, 1)

	_, err = f.svc.List(ctx, withdrawaldomain.ListRequest{Status: "bogus"})
	assert.ErrorIs(t, err, withdrawaldomain.ErrInvalidStatus)
}
