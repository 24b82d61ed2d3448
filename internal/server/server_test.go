package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	affiliaterepo "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/repository"
	affiliatesvc "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/service"
	attributionrepo "github.com/rcarraroia/slim-quality-sub008/internal/attribution/repository"
	attributionsvc "github.com/rcarraroia/slim-quality-sub008/internal/attribution/service"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	auditrepo "github.com/rcarraroia/slim-quality-sub008/internal/audit/repository"
	auditsvc "github.com/rcarraroia/slim-quality-sub008/internal/audit/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	commissionrepo "github.com/rcarraroia/slim-quality-sub008/internal/commission/repository"
	commissionsvc "github.com/rcarraroia/slim-quality-sub008/internal/commission/service"
	rulerepo "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/repository"
	rulesvc "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	intakerepo "github.com/rcarraroia/slim-quality-sub008/internal/intake/repository"
	intakesvc "github.com/rcarraroia/slim-quality-sub008/internal/intake/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/intake/window"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	ledgerrepo "github.com/rcarraroia/slim-quality-sub008/internal/ledger/repository"
	ledgersvc "github.com/rcarraroia/slim-quality-sub008/internal/ledger/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/observability"
	"github.com/rcarraroia/slim-quality-sub008/internal/testutil"
	withdrawaldomain "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/domain"
	withdrawalrepo "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/repository"
	withdrawalsvc "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *clock.FakeClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(t0)
	log := zap.NewNop()
	holder := config.StaticCommissionConfig(config.DefaultCommissionConfig())

	affRepo := affiliaterepo.Provide()
	audit := auditsvc.NewService(auditsvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	ledger := ledgersvc.NewService(ledgersvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: ledgerrepo.Provide(), AffiliateRepo: affRepo, AuditSvc: audit,
	})
	affiliates := affiliatesvc.NewService(affiliatesvc.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: affRepo, Config: holder, AuditSvc: audit, Hook: ledger,
	})
	attribution := attributionsvc.NewService(attributionsvc.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: attributionrepo.Provide(), AffiliateRepo: affRepo, Config: holder,
	})
	rules := rulesvc.NewService(rulesvc.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: rulerepo.Provide(), Config: holder, AuditSvc: audit,
	})
	require.NoError(t, rules.SeedFromConfig(context.Background()))

	engine := commissionsvc.NewService(commissionsvc.ServiceParam{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Repo:           commissionrepo.Provide(),
		AttributionSvc: attribution,
		AffiliateSvc:   affiliates,
		AffiliateRepo:  affRepo,
		RuleSvc:        rules,
		LedgerSvc:      ledger,
		Config:         holder,
	})
	w := window.NewMemoryWindow(clk, time.Hour, 100)
	t.Cleanup(func() { _ = w.Close() })
	intake := intakesvc.NewService(intakesvc.ServiceParam{
		DB: db, Log: log, Clock: clk,
		Repo: intakerepo.Provide(), Window: w, Engine: engine,
	})
	withdrawals := withdrawalsvc.NewService(withdrawalsvc.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: withdrawalrepo.Provide(), AffiliateRepo: affRepo, LedgerSvc: ledger,
		AuditSvc: audit,
	})

	srv := NewServer(ServerParams{
		Gin:            NewEngine(observability.Config{}, nil),
		Cfg:            config.Config{Environment: "test"},
		CommissionCfg:  holder,
		Clock:          clk,
		AffiliateSvc:   affiliates,
		AttributionSvc: attribution,
		RuleSvc:        rules,
		LedgerSvc:      ledger,
		WithdrawalSvc:  withdrawals,
		IntakeSvc:      intake,
		AuditSvc:       audit,
	})
	return srv, clk
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorPayload   `json:"error"`
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

type affiliateBody struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Status   string `json:"status"`
	ParentID string `json:"parent_id"`
}

func createAffiliate(t *testing.T, srv *Server, code, parentCode string) affiliateBody {
	t.Helper()
	status, env := doJSON(t, srv, http.MethodPost, "/api/affiliates", gin.H{
		"code":        code,
		"name":        "Affiliate " + code,
		"status":      "active",
		"parent_code": parentCode,
	})
	require.Equal(t, http.StatusOK, status, env.Error)
	var out affiliateBody
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAffiliateRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	root := createAffiliate(t, srv, "ROOT", "")
	child := createAffiliate(t, srv, "CHILD", "ROOT")
	assert.Equal(t, root.ID, child.ParentID)

	status, env := doJSON(t, srv, http.MethodGet, "/api/affiliates/"+child.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var got affiliateBody
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "CHILD", got.Code)

	status, env = doJSON(t, srv, http.MethodGet, "/api/affiliates/"+child.ID+"/ancestors", nil)
	require.Equal(t, http.StatusOK, status)
	var chain struct {
		Ancestors []string `json:"ancestors"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &chain))
	assert.Equal(t, []string{child.ID, root.ID}, chain.Ancestors)

	status, env = doJSON(t, srv, http.MethodGet, "/api/affiliates/"+child.ID+"/ancestors?max_depth=1", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &chain))
	assert.Equal(t, []string{child.ID}, chain.Ancestors)

	status, env = doJSON(t, srv, http.MethodPost, "/api/affiliates/"+root.ID+"/attach", gin.H{"parent_id": child.ID})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, affiliatedomain.ErrCycleDetected.Error(), env.Error.Message)

	status, env = doJSON(t, srv, http.MethodPatch, "/api/affiliates/"+child.ID+"/status", gin.H{"status": "suspended"})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "suspended", got.Status)

	status, env = doJSON(t, srv, http.MethodGet, "/api/affiliates?status=suspended", nil)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Affiliates []affiliateBody `json:"affiliates"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Affiliates, 1)
	assert.Equal(t, child.ID, list.Affiliates[0].ID)
}

func TestOrderToPayoutFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	upline := createAffiliate(t, srv, "UP", "")
	seller := createAffiliate(t, srv, "SELLER", "UP")

	status, env := doJSON(t, srv, http.MethodPost, "/api/attributions", gin.H{
		"visitor_id":     "visitor-1",
		"affiliate_code": "SELLER",
	})
	require.Equal(t, http.StatusOK, status, env.Error)

	event := gin.H{
		"event_id":     "evt-1",
		"order_ref":    "order-1",
		"order_value":  100000,
		"visitor_id":   "visitor-1",
		"completed_at": t0.Add(time.Hour).Format(time.RFC3339),
	}
	status, env = doJSON(t, srv, http.MethodPost, "/api/events/order-completed", event)
	require.Equal(t, http.StatusOK, status, env.Error)
	var ingest struct {
		Outcome string `json:"outcome"`
		Result  struct {
			Commissions []struct {
				AffiliateID string `json:"affiliate_id"`
				Amount      int64  `json:"amount"`
				Status      string `json:"status"`
			} `json:"commissions"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ingest))
	assert.Equal(t, "accepted", ingest.Outcome)
	require.Len(t, ingest.Result.Commissions, 2)
	amounts := map[string]int64{}
	for _, c := range ingest.Result.Commissions {
		amounts[c.AffiliateID] = c.Amount
		assert.Equal(t, string(ledgerdomain.CommissionStatusPending), c.Status)
	}
	assert.Equal(t, map[string]int64{seller.ID: 10000, upline.ID: 5000}, amounts)

	status, env = doJSON(t, srv, http.MethodPost, "/api/events/order-completed", event)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &ingest))
	assert.Equal(t, "duplicate", ingest.Outcome)

	status, env = doJSON(t, srv, http.MethodGet, "/api/attributions/visitor-1", nil)
	require.Equal(t, http.StatusOK, status)
	var attribution struct {
		OrderRef string `json:"order_ref"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &attribution))
	assert.Equal(t, "order-1", attribution.OrderRef)

	status, env = doJSON(t, srv, http.MethodGet, "/api/commissions?affiliate_id="+seller.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var commissions struct {
		Commissions []json.RawMessage `json:"commissions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &commissions))
	assert.Len(t, commissions.Commissions, 1)

	status, env = doJSON(t, srv, http.MethodPost, "/api/withdrawals", gin.H{
		"affiliate_id": seller.ID,
		"amount":       20000,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "insufficient_balance", env.Error.Type)

	status, env = doJSON(t, srv, http.MethodPost, "/api/withdrawals", gin.H{
		"affiliate_id": seller.ID,
		"amount":       4000,
	})
	require.Equal(t, http.StatusOK, status, env.Error)
	var withdrawal struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		DecidedBy string `json:"decided_by"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &withdrawal))
	assert.Equal(t, string(withdrawaldomain.StatusRequested), withdrawal.Status)

	status, _ = doJSON(t, srv, http.MethodPost, "/api/withdrawals", gin.H{
		"affiliate_id": seller.ID,
		"amount":       1000,
	})
	assert.Equal(t, http.StatusConflict, status)

	status, env = doJSON(t, srv, http.MethodPost, "/api/withdrawals/"+withdrawal.ID+"/approve", nil, HeaderActor, "ops@example.com")
	require.Equal(t, http.StatusOK, status, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &withdrawal))
	assert.Equal(t, string(withdrawaldomain.StatusApproved), withdrawal.Status)
	assert.Equal(t, "ops@example.com", withdrawal.DecidedBy)

	status, env = doJSON(t, srv, http.MethodGet, "/api/affiliates/"+seller.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, status)
	var summary ledgerdomain.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, int64(4000), summary.Reserved)
	assert.Equal(t, int64(6000), summary.Available)

	status, env = doJSON(t, srv, http.MethodPost, "/api/withdrawals/"+withdrawal.ID+"/pay", gin.H{"decided_by": "payouts"})
	require.Equal(t, http.StatusOK, status, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &withdrawal))
	assert.Equal(t, string(withdrawaldomain.StatusPaid), withdrawal.Status)

	status, env = doJSON(t, srv, http.MethodPost, "/api/withdrawals/"+withdrawal.ID+"/reject", gin.H{"decided_by": "ops", "reason": "late"})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)

	status, env = doJSON(t, srv, http.MethodGet, "/api/affiliates/"+seller.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, int64(0), summary.Reserved)
	assert.Equal(t, int64(4000), summary.Paid)
	assert.Equal(t, int64(6000), summary.Available)

	status, env = doJSON(t, srv, http.MethodGet, "/api/audit-logs?target_type=withdrawal&target_id="+withdrawal.ID, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var logs struct {
		AuditLogs []struct {
			Action    string         `json:"action"`
			ActorType string         `json:"actor_type"`
			ActorID   string         `json:"actor_id"`
			Metadata  map[string]any `json:"metadata"`
		} `json:"audit_logs"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	require.Len(t, logs.AuditLogs, 3)
	assert.Equal(t, auditdomain.ActionWithdrawalPaid, logs.AuditLogs[0].Action)
	assert.Equal(t, "payouts", logs.AuditLogs[0].ActorID)
	assert.Equal(t, auditdomain.ActionWithdrawalApproved, logs.AuditLogs[1].Action)
	assert.Equal(t, "ops@example.com", logs.AuditLogs[1].ActorID)
	assert.Equal(t, "requested", logs.AuditLogs[1].Metadata["from"])
	assert.Equal(t, auditdomain.ActionWithdrawalRequested, logs.AuditLogs[2].Action)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), logs.AuditLogs[2].ActorType)
	assert.Empty(t, logs.AuditLogs[2].ActorID)
}

func TestAuditLogRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	root := createAffiliate(t, srv, "root", "")
	status, env := doJSON(t, srv, http.MethodPatch, "/api/affiliates/"+root.ID+"/status", gin.H{"status": "suspended"}, HeaderActor, "ops")
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = doJSON(t, srv, http.MethodGet, "/api/audit-logs?target_type=affiliate&target_id="+root.ID, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var logs struct {
		AuditLogs []struct {
			Action    string `json:"action"`
			ActorType string `json:"actor_type"`
			ActorID   string `json:"actor_id"`
		} `json:"audit_logs"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	require.Len(t, logs.AuditLogs, 2)
	assert.Equal(t, auditdomain.ActionAffiliateStatusChanged, logs.AuditLogs[0].Action)
	assert.Equal(t, string(auditdomain.ActorTypeOperator), logs.AuditLogs[0].ActorType)
	assert.Equal(t, "ops", logs.AuditLogs[0].ActorID)
	assert.Equal(t, auditdomain.ActionAffiliateCreated, logs.AuditLogs[1].Action)

	status, env = doJSON(t, srv, http.MethodGet, "/api/audit-logs?action="+auditdomain.ActionRulesSeeded, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	require.Len(t, logs.AuditLogs, 1)

	status, env = doJSON(t, srv, http.MethodGet, "/api/audit-logs?start_at=2026-05-05T00:00:00Z&end_at=2026-05-04T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)

	status, _ = doJSON(t, srv, http.MethodGet, "/api/audit-logs?start_at=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCommissionRuleRoutes(t *testing.T) {
	srv, clk := newTestServer(t)

	status, env := doJSON(t, srv, http.MethodPost, "/api/commission-rules", gin.H{
		"effective_from": clk.Now().Add(time.Hour).Format(time.RFC3339),
		"rules": []gin.H{
			{"level": 1, "type": "percentage", "basis_points": 1500},
			{"level": 2, "type": "fixed", "fixed_amount": 250},
		},
	})
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = doJSON(t, srv, http.MethodGet, "/api/commission-rules", nil)
	require.Equal(t, http.StatusOK, status)
	var versions struct {
		Versions []struct {
			Version int64 `json:"version"`
		} `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &versions))
	assert.Len(t, versions.Versions, 2)

	status, env = doJSON(t, srv, http.MethodPost, "/api/commission-rules", gin.H{
		"rules": []gin.H{{"level": 0, "type": "percentage", "basis_points": 100}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Type)
}

func TestFailCommissions(t *testing.T) {
	srv, _ := newTestServer(t)

	status, env := doJSON(t, srv, http.MethodPost, "/api/commissions/fail", gin.H{"commission_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)

	status, _ = doJSON(t, srv, http.MethodPost, "/api/commissions/fail", gin.H{"commission_ids": []string{"12345"}})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestErrorResponses(t *testing.T) {
	srv, _ := newTestServer(t)

	status, env := doJSON(t, srv, http.MethodGet, "/api/affiliates/123456789", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Type)

	status, _ = doJSON(t, srv, http.MethodGet, "/api/withdrawals/not-an-id", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env = doJSON(t, srv, http.MethodPost, "/api/affiliates", gin.H{"code": "", "name": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, affiliatedomain.ErrInvalidCode.Error(), env.Error.Errors[0].Code)

	status, env = doJSON(t, srv, http.MethodPost, "/api/events/order-completed", gin.H{
		"order_ref":    "o",
		"order_value":  10,
		"visitor_id":   "v",
		"completed_at": t0.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_event_id", env.Error.Errors[0].Code)

	req := httptest.NewRequest(http.MethodPost, "/api/events/order-completed", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	status, _ = doJSON(t, srv, http.MethodGet, "/api/attributions/nobody", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{affiliatedomain.ErrUnknownAffiliate, http.StatusNotFound, "not_found"},
		{affiliatedomain.ErrDepthExceeded, http.StatusConflict, "conflict"},
		{withdrawaldomain.ErrInvalidTransition, http.StatusConflict, "conflict"},
		{ledgerdomain.ErrStaleReservation, http.StatusConflict, "conflict"},
		{fmt.Errorf("approve: %w", ledgerdomain.ErrInsufficientBalance), http.StatusUnprocessableEntity, "insufficient_balance"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{withdrawaldomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
		})
	}

	kind, code := classifyErrorForLog(withdrawaldomain.ErrRequestAlreadyOpen)
	assert.Equal(t, "conflict", kind)
	assert.Equal(t, "request_already_open", code)

	kind, code = classifyErrorForLog(withdrawaldomain.ErrInvalidDecider)
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "invalid_decided_by", code)
}

func TestRateLimitHelpers(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(0.2))
	assert.Equal(t, 3, retryAfterSeconds(2.1))

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/events/order-completed", nil)
	c.Request.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", intakeSource(c))

	c.Request.Header.Set(HeaderSource, "checkout")
	assert.Equal(t, "checkout", intakeSource(c))
}
