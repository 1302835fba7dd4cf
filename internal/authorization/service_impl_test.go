package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/cashback/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuthorizer(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(testutil.OpenDB(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorize_RolePolicies(t *testing.T) {
	svc := newTestAuthorizer(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		actor   Actor
		object  string
		action  string
		allowed bool
	}{
		{"master rotates keys", Actor{Subject: SubjectMaster}, ObjectBrand, ActionBrandKeyRotate, true},
		{"support confirms", Actor{Subject: "user:s1", Role: RoleSupport}, ObjectPurchase, ActionPurchaseConfirm, true},
		{"support cannot refund", Actor{Subject: "user:s1", Role: RoleSupport}, ObjectPurchase, ActionPurchaseRefund, false},
		{"finance refunds", Actor{Subject: "user:f1", Role: RoleFinance}, ObjectPurchase, ActionPurchaseRefund, true},
		{"finance runs jobs", Actor{Subject: "user:f1", Role: "Finance"}, ObjectJob, ActionJobRun, true},
		{"admin cannot rotate keys", Actor{Subject: "user:a1", Role: RoleAdmin}, ObjectBrand, ActionBrandKeyRotate, false},
		{"unknown role", Actor{Subject: "user:x", Role: "guest"}, ObjectWebhookLog, ActionWebhookLogView, false},
		{"action on wrong object", Actor{Subject: "user:a1", Role: RoleAdmin}, ObjectBrand, ActionPurchaseConfirm, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tc.actor, tc.object, tc.action)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestAuthorize_RoleChangeReplacesGrouping(t *testing.T) {
	svc := newTestAuthorizer(t)
	ctx := context.Background()
	actor := Actor{Subject: "user:u1", Role: RoleFinance}

	require.NoError(t, svc.Authorize(ctx, actor, ObjectPurchase, ActionPurchaseRefund))

	actor.Role = RoleSupport
	assert.ErrorIs(t, svc.Authorize(ctx, actor, ObjectPurchase, ActionPurchaseRefund), ErrForbidden)
	assert.NoError(t, svc.Authorize(ctx, actor, ObjectPurchase, ActionPurchaseConfirm))
}

func TestAuthorize_InvalidInput(t *testing.T) {
	svc := newTestAuthorizer(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, Actor{}, ObjectJob, ActionJobRun), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Subject: "user:1", Role: RoleAdmin}, "", ActionJobRun), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Subject: "user:1", Role: RoleAdmin}, ObjectJob, " "), ErrInvalidAction)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Subject: "user:1"}, ObjectJob, ActionJobRun), ErrInvalidRole)
}

func TestNewEnforcer_SeedIsIdempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	countRules := func() int64 {
		var count int64
		require.NoError(t, db.Raw(`SELECT COUNT(*) FROM casbin_rule WHERE ptype = 'p'`).Scan(&count).Error)
		return count
	}

	_, err := NewEnforcer(db)
	require.NoError(t, err)
	before := countRules()
	assert.Positive(t, before)

	_, err = NewEnforcer(db)
	require.NoError(t, err)
	assert.Equal(t, before, countRules())
}
