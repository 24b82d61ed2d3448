package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	affiliaterepo "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/repository"
	affiliatesvc "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/service"
	attributiondomain "github.com/rcarraroia/slim-quality-sub008/internal/attribution/domain"
	attributionrepo "github.com/rcarraroia/slim-quality-sub008/internal/attribution/repository"
	attributionsvc "github.com/rcarraroia/slim-quality-sub008/internal/attribution/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	commissiondomain "github.com/rcarraroia/slim-quality-sub008/internal/commission/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/commission/repository"
	rulerepo "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/repository"
	rulesvc "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	ledgerrepo "github.com/rcarraroia/slim-quality-sub008/internal/ledger/repository"
	ledgersvc "github.com/rcarraroia/slim-quality-sub008/internal/ledger/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine      *Service
	affiliates  affiliatedomain.Service
	attribution *attributionsvc.Service
	ledger      *ledgersvc.Service
	db          *gorm.DB
	clock       *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(t0)
	log := zap.NewNop()

	cfg := config.DefaultCommissionConfig()
	cfg.AttributionTTL = 24 * time.Hour
	holder := config.StaticCommissionConfig(cfg)

	affRepo := affiliaterepo.Provide()
	ledger := ledgersvc.NewService(ledgersvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: ledgerrepo.Provide(), AffiliateRepo: affRepo,
	})
	affiliates := affiliatesvc.NewService(affiliatesvc.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: affRepo, Config: holder, Hook: ledger,
	})
	attribution := attributionsvc.NewService(attributionsvc.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: attributionrepo.Provide(), AffiliateRepo: affRepo, Config: holder,
	}).(*attributionsvc.Service)
	rules := rulesvc.NewService(rulesvc.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: rulerepo.Provide(), Config: holder,
	})
	require.NoError(t, rules.SeedFromConfig(context.Background()))

	engine := NewService(ServiceParam{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Repo:           repository.Provide(),
		AttributionSvc: attribution,
		AffiliateSvc:   affiliates,
		AffiliateRepo:  affRepo,
		RuleSvc:        rules,
		LedgerSvc:      ledger,
		Config:         holder,
	}).(*Service)

	return &fixture{
		engine:      engine,
		affiliates:  affiliates,
		attribution: attribution,
		ledger:      ledger,
		db:          db,
		clock:       clk,
	}
}

func (f *fixture) create(t *testing.T, code, parent string, status affiliatedomain.Status) snowflake.ID {
	t.Helper()
	a, err := f.affiliates.Create(context.Background(), affiliatedomain.CreateRequest{
		Code: code, Name: code, Status: status, ParentCode: parent,
	})
	require.NoError(t, err)
	return a.ID
}

func (f *fixture) balance(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), id)
	require.NoError(t, err)
	return b
}

func order(ref, visitor string, value int64) commissiondomain.OrderCompleted {
	return commissiondomain.OrderCompleted{
		OrderRef:    ref,
		OrderValue:  value,
		VisitorID:   visitor,
		CompletedAt: t0.Add(time.Hour),
	}
}

func byLevel(commissions []ledgerdomain.Commission) map[int]ledgerdomain.Commission {
	out := make(map[int]ledgerdomain.Commission, len(commissions))
	for _, c := range commissions {
		out[c.Level] = c
	}
	return out
}

func TestProcessOrderTwoLevels(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "alpha", "", affiliatedomain.StatusActive)
	b := f.create(t, "bravo", "alpha", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "bravo", t0))

	result, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 100_000))
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	require.NotNil(t, result.AffiliateID)
	assert.Equal(t, b, *result.AffiliateID)
	require.Len(t, result.Commissions, 2)

	levels := byLevel(result.Commissions)
	assert.Equal(t, b, levels[1].AffiliateID)
	assert.Equal(t, int64(10_000), levels[1].Amount)
	assert.Equal(t, a, levels[2].AffiliateID)
	assert.Equal(t, int64(5_000), levels[2].Amount)
	for _, c := range result.Commissions {
		assert.Equal(t, ledgerdomain.CommissionStatusPending, c.Status)
		assert.Equal(t, int64(1), c.RuleVersion)
		assert.Equal(t, int64(100_000), c.BaseAmount)
	}

	assert.Equal(t, int64(10_000), f.balance(t, b))
	assert.Equal(t, int64(5_000), f.balance(t, a))

	attr, err := f.attribution.Get(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, attr.OrderRef)
	assert.Equal(t, "o1", *attr.OrderRef)
}

func TestProcessOrderSuspendedBeneficiaryStaysCalculated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "alpha", "", affiliatedomain.StatusActive)
	b := f.create(t, "bravo", "alpha", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "bravo", t0))
	_, err := f.affiliates.UpdateStatus(ctx, b, affiliatedomain.StatusSuspended)
	require.NoError(t, err)

	result, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 100_000))
	require.NoError(t, err)
	levels := byLevel(result.Commissions)
	assert.Equal(t, ledgerdomain.CommissionStatusCalculated, levels[1].Status)
	assert.Equal(t, ledgerdomain.CommissionStatusPending, levels[2].Status)
	assert.Equal(t, int64(0), f.balance(t, b))
	assert.Equal(t, int64(5_000), f.balance(t, a))

	_, err = f.affiliates.UpdateStatus(ctx, b, affiliatedomain.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), f.balance(t, b))
}

func TestProcessOrderReplay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.create(t, "alpha", "", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "alpha", t0))

	first, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 5_000))
	require.NoError(t, err)
	require.Len(t, first.Commissions, 1)

	again, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 9_999_999))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	require.Len(t, again.Commissions, 1)
	assert.Equal(t, first.Commissions[0].ID, again.Commissions[0].ID)
	assert.Equal(t, int64(500), again.Commissions[0].Amount)
	assert.Equal(t, first.AffiliateID, again.AffiliateID)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.Commission{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// The sqlite test database has a single connection, so the workers are
// serialized there; the postgres statements that make the guard hold under
// real concurrency (ON CONFLICT DO NOTHING, FOR UPDATE) are pinned by the
// repository sqlmock tests.
func TestProcessOrderConcurrentDuplicates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "alpha", "", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "alpha", t0))

	const workers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fresh    int
		replayed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 10_000))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Replayed {
				replayed++
			} else {
				fresh++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, workers-1, replayed)
	assert.Equal(t, int64(1_000), f.balance(t, a))
}

func TestProcessOrderWithoutAttribution(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.create(t, "alpha", "", affiliatedomain.StatusActive)

	result, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "stranger", 10_000))
	require.NoError(t, err)
	assert.Nil(t, result.AffiliateID)
	assert.Empty(t, result.Commissions)

	// A later touch does not reopen the processed order.
	require.NoError(t, f.attribution.Capture(ctx, "stranger", "alpha", t0))
	again, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "stranger", 10_000))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Nil(t, again.AffiliateID)
	assert.Empty(t, again.Commissions)
}

func TestProcessOrderExpiredAttribution(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.create(t, "alpha", "", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "alpha", t0))

	late := order("o1", "v1", 10_000)
	late.CompletedAt = t0.Add(25 * time.Hour)
	result, err := f.engine.ProcessOrderCompleted(ctx, late)
	require.NoError(t, err)
	assert.Nil(t, result.AffiliateID)
	assert.Empty(t, result.Commissions)
}

func TestProcessOrderConsumedAttributionCreditsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "alpha", "", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "alpha", t0))

	_, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 10_000))
	require.NoError(t, err)
	second, err := f.engine.ProcessOrderCompleted(ctx, order("o2", "v1", 10_000))
	require.NoError(t, err)
	assert.Nil(t, second.AffiliateID)
	assert.Empty(t, second.Commissions)
	assert.Equal(t, int64(1_000), f.balance(t, a))
}

func TestProcessOrderCreditsTouchInForceAtCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "alpha", "", affiliatedomain.StatusActive)
	b := f.create(t, "bravo", "", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "alpha", t0))
	// The order completed at t0+1h but the event shows up after a newer touch.
	require.NoError(t, f.attribution.Capture(ctx, "v1", "bravo", t0.Add(90*time.Minute)))

	result, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 10_000))
	require.NoError(t, err)
	require.NotNil(t, result.AffiliateID)
	assert.Equal(t, a, *result.AffiliateID)
	require.Len(t, result.Commissions, 1)
	assert.Equal(t, a, result.Commissions[0].AffiliateID)
	assert.Equal(t, int64(1_000), f.balance(t, a))
	assert.Zero(t, f.balance(t, b))
}

func TestProcessOrderCompletedBeforeFirstTouch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "alpha", "", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "alpha", t0.Add(2*time.Hour)))

	result, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 10_000))
	require.NoError(t, err)
	assert.Nil(t, result.AffiliateID)
	assert.Empty(t, result.Commissions)
	assert.Zero(t, f.balance(t, a))

	// The touch stays available for the visitor's next order.
	next := order("o2", "v1", 10_000)
	next.CompletedAt = t0.Add(3 * time.Hour)
	result, err = f.engine.ProcessOrderCompleted(ctx, next)
	require.NoError(t, err)
	require.NotNil(t, result.AffiliateID)
	assert.Equal(t, a, *result.AffiliateID)
}

// lostRace resolves like the real store but loses the consume to another
// order, as a concurrent conversion of the same visitor would.
type lostRace struct {
	*attributionsvc.Service
}

func (l lostRace) ConsumeTx(context.Context, *gorm.DB, string, string) error {
	return attributiondomain.ErrAlreadyAttributed
}

func TestProcessOrderLosingConsumeRaceCreditsNobody(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "alpha", "", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "alpha", t0))
	f.engine.attributionSvc = lostRace{f.attribution}

	result, err := f.engine.ProcessOrderCompleted(ctx, order("o2", "v1", 10_000))
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Nil(t, result.AffiliateID)
	assert.Empty(t, result.Commissions)
	assert.Zero(t, f.balance(t, a))

	again, err := f.engine.ProcessOrderCompleted(ctx, order("o2", "v1", 10_000))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Nil(t, again.AffiliateID)
}

func TestProcessOrderZeroValue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "alpha", "", affiliatedomain.StatusActive)
	require.NoError(t, f.attribution.Capture(ctx, "v1", "alpha", t0))

	result, err := f.engine.ProcessOrderCompleted(ctx, order("o1", "v1", 0))
	require.NoError(t, err)
	require.NotNil(t, result.AffiliateID)
	assert.Equal(t, a, *result.AffiliateID)
	assert.Empty(t, result.Commissions)
}

func TestProcessOrderValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event commissiondomain.OrderCompleted
		want  error
	}{
		{"missing order ref", order(" ", "v1", 10), commissiondomain.ErrInvalidOrderRef},
		{"negative value", order("o1", "v1", -1), commissiondomain.ErrInvalidOrderValue},
		{"missing visitor", order("o1", "", 10), commissiondomain.ErrInvalidVisitor},
		{"missing timestamp", commissiondomain.OrderCompleted{OrderRef: "o1", VisitorID: "v1"}, commissiondomain.ErrInvalidCompletedAt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ProcessOrderCompleted(ctx, tt.event)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&commissiondomain.ProcessedOrder{}).Count(&count).Error)
	assert.Zero(t, count)
}
