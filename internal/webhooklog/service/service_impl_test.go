package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/testutil"
	"github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"github.com/smallbiznis/cashback/internal/webhooklog/repository"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	return NewService(Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	}).(*Service), clk
}

func TestStartAndComplete(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("X-Api-Key", "whk_0123456789abcdef")
	headers.Set("Content-Type", "application/json")

	id, err := svc.Start(ctx, domain.StartRequest{
		Type:      domain.TypeConversion,
		Endpoint:  "/api/v1/webhooks/affiliate/conversion",
		Method:    "post",
		Headers:   headers,
		Body:      []byte(`{"click_id":"clk_1"}`),
		SourceIP:  "10.0.0.1",
		UserAgent: "brand-bot/1.0",
	})
	require.NoError(t, err)

	clk.Advance(time.Second)
	require.NoError(t, svc.Complete(ctx, id, domain.CompleteRequest{
		Status:         domain.OutcomeSuccess,
		ResponseStatus: http.StatusOK,
		ResponseBody:   []byte(`{"success":true}`),
		ProcessingTime: 42 * time.Millisecond,
		BrandID:        "brand_a",
		ClickID:        "clk_1",
		PurchaseID:     "pur_1",
	}))

	// Completion happens once.
	err = svc.Complete(ctx, id, domain.CompleteRequest{Status: domain.OutcomeFailed})
	assert.ErrorIs(t, err, domain.ErrLogNotFound)

	resp, err := svc.List(ctx, domain.ListRequest{Type: "conversion"})
	require.NoError(t, err)
	require.Len(t, resp.WebhookLogs, 1)
	entry := resp.WebhookLogs[0]
	assert.Equal(t, domain.OutcomeSuccess, entry.Status)
	assert.Equal(t, "POST", entry.Method)
	assert.Equal(t, "whk_****cdef", entry.Headers["x-api-key"])
	require.NotNil(t, entry.ProcessingTimeMS)
	assert.Equal(t, int64(42), *entry.ProcessingTimeMS)
	require.NotNil(t, entry.PurchaseID)
	assert.Equal(t, "pur_1", *entry.PurchaseID)
	assert.JSONEq(t, `{"click_id":"clk_1"}`, string(entry.Body))
}

func TestStart_WrapsInvalidJSONBody(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, domain.StartRequest{Type: domain.TypeRefund, Endpoint: "/refund", Method: "POST", Body: []byte("not json")})
	require.NoError(t, err)

	resp, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.WebhookLogs, 1)
	assert.JSONEq(t, `"not json"`, string(resp.WebhookLogs[0].Body))

	_, err = svc.Start(ctx, domain.StartRequest{Type: "payout"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := svc.Start(ctx, domain.StartRequest{Type: domain.TypeConfirm, Endpoint: "/confirm", Method: "POST"})
		require.NoError(t, err)
		require.NoError(t, svc.Complete(ctx, id, domain.CompleteRequest{Status: domain.OutcomeUnauthorized, ResponseStatus: 401}))
		clk.Advance(time.Second)
	}
	_, err := svc.Start(ctx, domain.StartRequest{Type: domain.TypeReject, Endpoint: "/reject", Method: "POST"})
	require.NoError(t, err)

	page, err := svc.List(ctx, domain.ListRequest{Status: "unauthorized", Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, page.WebhookLogs, 2)
	assert.True(t, page.HasMore)

	next, err := svc.List(ctx, domain.ListRequest{Status: "unauthorized", Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, next.WebhookLogs, 1)
	assert.False(t, next.HasMore)

	_, err = svc.List(ctx, domain.ListRequest{Status: "exploded"})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestPurge_DeletesOlderThanRetention(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, domain.StartRequest{Type: domain.TypeConversion, Endpoint: "/conversion", Method: "POST"})
	require.NoError(t, err)
	clk.Advance(89 * 24 * time.Hour)
	_, err = svc.Start(ctx, domain.StartRequest{Type: domain.TypeConversion, Endpoint: "/conversion", Method: "POST"})
	require.NoError(t, err)

	clk.Advance(2 * 24 * time.Hour)
	deleted, err := svc.Purge(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	resp, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.WebhookLogs, 1)

	_, err = svc.Purge(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRetention)
}
