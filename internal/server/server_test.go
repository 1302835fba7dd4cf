package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/internal/authorization"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	"github.com/smallbiznis/cashback/internal/config"
	conversiondomain "github.com/smallbiznis/cashback/internal/conversion/domain"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	walletdomain "github.com/smallbiznis/cashback/internal/wallet/domain"
	webhookdomain "github.com/smallbiznis/cashback/internal/webhook/domain"
	webhooklogdomain "github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"github.com/stretchr/testify/require"
)

const (
	testMasterKey = "master-secret"
	testBrandKey  = "brand-key"
	testJWTSecret = "jwt-secret"
)

type fakeAuthenticator struct{}

func (fakeAuthenticator) Authenticate(ctx context.Context, creds webhookdomain.Credentials) (webhookdomain.Identity, error) {
	_ = ctx
	switch creds.APIKey {
	case testMasterKey:
		return webhookdomain.Identity{Kind: webhookdomain.IdentityMaster, Signed: true}, nil
	case testBrandKey:
		return webhookdomain.Identity{
			Kind:   webhookdomain.IdentityBrand,
			Brand:  &branddomain.Brand{BrandID: "brd_acme", Name: "Acme"},
			Signed: true,
		}, nil
	default:
		return webhookdomain.Identity{}, webhookdomain.ErrInvalidAPIKey
	}
}

type memoryIdempotency struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{data: map[string][]byte{}}
}

func (m *memoryIdempotency) Get(ctx context.Context, key string) ([]byte, bool) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memoryIdempotency) Put(ctx context.Context, key string, data []byte) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
}

type loggedWebhook struct {
	start    webhooklogdomain.StartRequest
	complete *webhooklogdomain.CompleteRequest
}

type fakeWebhookLogs struct {
	mu      sync.Mutex
	nextID  snowflake.ID
	entries map[snowflake.ID]*loggedWebhook
	order   []snowflake.ID
}

func newFakeWebhookLogs() *fakeWebhookLogs {
	return &fakeWebhookLogs{entries: map[snowflake.ID]*loggedWebhook{}}
}

func (f *fakeWebhookLogs) Start(ctx context.Context, req webhooklogdomain.StartRequest) (snowflake.ID, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.entries[f.nextID] = &loggedWebhook{start: req}
	f.order = append(f.order, f.nextID)
	return f.nextID, nil
}

func (f *fakeWebhookLogs) Complete(ctx context.Context, id snowflake.ID, req webhooklogdomain.CompleteRequest) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return webhooklogdomain.ErrLogNotFound
	}
	entry.complete = &req
	return nil
}

func (f *fakeWebhookLogs) List(ctx context.Context, req webhooklogdomain.ListRequest) (webhooklogdomain.ListResponse, error) {
	_ = ctx
	_ = req
	return webhooklogdomain.ListResponse{}, nil
}

func (f *fakeWebhookLogs) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	_ = ctx
	_ = retention
	return 0, nil
}

// last returns the most recent log entry.
func (f *fakeWebhookLogs) last(t *testing.T) *loggedWebhook {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.order, "expected a webhook log entry")
	return f.entries[f.order[len(f.order)-1]]
}

type fakeConversions struct {
	calls   int
	lastReq conversiondomain.ProcessConversionRequest
	result  conversiondomain.ProcessConversionResult
	err     error
}

func (f *fakeConversions) ProcessConversion(ctx context.Context, req conversiondomain.ProcessConversionRequest) (conversiondomain.ProcessConversionResult, error) {
	_ = ctx
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

type statusChange struct {
	purchaseID string
	reason     string
	actor      purchasedomain.Actor
	status     purchasedomain.Status
}

type fakePurchases struct {
	purchases map[string]purchasedomain.Purchase
	changes   []statusChange
}

func newFakePurchases(items ...purchasedomain.Purchase) *fakePurchases {
	f := &fakePurchases{purchases: map[string]purchasedomain.Purchase{}}
	for _, p := range items {
		f.purchases[p.PurchaseID] = p
	}
	return f
}

func (f *fakePurchases) Get(ctx context.Context, purchaseID string) (purchasedomain.Purchase, error) {
	_ = ctx
	p, ok := f.purchases[purchaseID]
	if !ok {
		return purchasedomain.Purchase{}, purchasedomain.ErrPurchaseNotFound
	}
	return p, nil
}

func (f *fakePurchases) ListUserPurchases(ctx context.Context, req purchasedomain.ListPurchasesRequest) (purchasedomain.ListPurchasesResponse, error) {
	_ = ctx
	_ = req
	return purchasedomain.ListPurchasesResponse{}, nil
}

func (f *fakePurchases) CashbackSummary(ctx context.Context, userID string) (purchasedomain.CashbackSummary, error) {
	_ = ctx
	_ = userID
	return purchasedomain.CashbackSummary{}, nil
}

func (f *fakePurchases) Confirm(ctx context.Context, purchaseID, reason string, actor purchasedomain.Actor) (purchasedomain.Purchase, error) {
	return f.transition(ctx, purchaseID, reason, actor, purchasedomain.StatusConfirmed)
}

func (f *fakePurchases) Reject(ctx context.Context, purchaseID, reason string, actor purchasedomain.Actor) (purchasedomain.Purchase, error) {
	if strings.TrimSpace(reason) == "" {
		return purchasedomain.Purchase{}, purchasedomain.ErrMissingReason
	}
	return f.transition(ctx, purchaseID, reason, actor, purchasedomain.StatusRejected)
}

func (f *fakePurchases) Refund(ctx context.Context, purchaseID, reason string, actor purchasedomain.Actor) (purchasedomain.Purchase, error) {
	if strings.TrimSpace(reason) == "" {
		return purchasedomain.Purchase{}, purchasedomain.ErrMissingReason
	}
	return f.transition(ctx, purchaseID, reason, actor, purchasedomain.StatusRefunded)
}

func (f *fakePurchases) transition(ctx context.Context, purchaseID, reason string, actor purchasedomain.Actor, to purchasedomain.Status) (purchasedomain.Purchase, error) {
	p, err := f.Get(ctx, purchaseID)
	if err != nil {
		return purchasedomain.Purchase{}, err
	}
	if err := purchasedomain.ValidateTransition(p.Status, to, actor); err != nil {
		return purchasedomain.Purchase{}, err
	}
	p.Status = to
	f.purchases[purchaseID] = p
	f.changes = append(f.changes, statusChange{purchaseID: purchaseID, reason: reason, actor: actor, status: to})
	return p, nil
}

func (f *fakePurchases) ClaimForCredit(ctx context.Context, purchase purchasedomain.Purchase) (purchasedomain.Purchase, error) {
	_ = ctx
	return purchase, nil
}

func (f *fakePurchases) MarkCredited(ctx context.Context, purchase purchasedomain.Purchase, walletTransactionID string) (purchasedomain.Purchase, error) {
	_ = ctx
	_ = walletTransactionID
	return purchase, nil
}

func (f *fakePurchases) ReleaseClaim(ctx context.Context, purchase purchasedomain.Purchase, reason string) (purchasedomain.Purchase, error) {
	_ = ctx
	_ = reason
	return purchase, nil
}

func (f *fakePurchases) ListCreditable(ctx context.Context, exclude []string, limit int) ([]purchasedomain.Purchase, error) {
	_ = ctx
	_ = exclude
	_ = limit
	return nil, nil
}

func (f *fakePurchases) ListStaleClaims(ctx context.Context, olderThan time.Duration, limit int) ([]purchasedomain.Purchase, error) {
	_ = ctx
	_ = olderThan
	_ = limit
	return nil, nil
}

type fakeWallet struct {
	lastUserID string
}

func (f *fakeWallet) CreditCashback(ctx context.Context, req walletdomain.CreditRequest) (walletdomain.Transaction, error) {
	_ = ctx
	_ = req
	return walletdomain.Transaction{}, nil
}

func (f *fakeWallet) CancelCashback(context.Context, string, string) error { return nil }

func (f *fakeWallet) GetBalance(ctx context.Context, userID string) (walletdomain.Wallet, error) {
	_ = ctx
	f.lastUserID = userID
	return walletdomain.Wallet{UserID: userID, Balance: decimal.NewFromInt(15000), Currency: "IDR"}, nil
}

type fakeAuthz struct {
	allowed map[string]map[string]bool
	calls   []authorization.Actor
}

func (f *fakeAuthz) Authorize(ctx context.Context, actor authorization.Actor, object, action string) error {
	_ = ctx
	_ = object
	f.calls = append(f.calls, actor)
	role := actor.Role
	if actor.Subject == authorization.SubjectMaster {
		role = authorization.RoleOwner
	}
	if f.allowed[role][action] {
		return nil
	}
	return authorization.ErrForbidden
}

type testServer struct {
	srv         *Server
	router      *gin.Engine
	conversions *fakeConversions
	purchases   *fakePurchases
	wallet      *fakeWallet
	logs        *fakeWebhookLogs
	idempotency *memoryIdempotency
	authz       *fakeAuthz
}

func testConfig() config.Config {
	return config.Config{
		Environment: config.EnvDevelopment,
		Webhook: config.WebhookConfig{
			MasterKey:    testMasterKey,
			MaxBodyBytes: 4 << 10,
		},
		Auth: config.AuthConfig{
			UserJWTSecret:       testJWTSecret,
			AllowHeaderIdentity: true,
		},
	}
}

func newTestServer(t *testing.T, cfg config.Config, purchases ...purchasedomain.Purchase) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		router:      router,
		conversions: &fakeConversions{},
		purchases:   newFakePurchases(purchases...),
		wallet:      &fakeWallet{},
		logs:        newFakeWebhookLogs(),
		idempotency: newMemoryIdempotency(),
		authz: &fakeAuthz{allowed: map[string]map[string]bool{
			authorization.RoleOwner: {
				authorization.ActionPurchaseConfirm: true,
				authorization.ActionPurchaseRefund:  true,
				authorization.ActionJobRun:          true,
			},
			authorization.RoleSupport: {
				authorization.ActionPurchaseConfirm: true,
			},
		}},
	}
	ts.srv = NewServer(ServerParams{
		Gin:         router,
		Cfg:         cfg,
		AuthzSvc:    ts.authz,
		Purchases:   ts.purchases,
		Conversions: ts.conversions,
		Wallet:      ts.wallet,
		WebhookLogs: ts.logs,
		WebhookAuth: fakeAuthenticator{},
		Idempotency: ts.idempotency,
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *errorPayload   `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	return env
}

func TestUnknownRouteReturnsJSONEnvelope(t *testing.T) {
	ts := newTestServer(t, testConfig())
	registerFallbacks(ts.router)

	resp := ts.do(http.MethodGet, "/api/v1/unknown", "", nil)

	require.Equal(t, http.StatusNotFound, resp.Code)
	env := decodeEnvelope(t, resp)
	require.False(t, env.Success)
	require.Equal(t, "not_found", env.Error.Type)
}
