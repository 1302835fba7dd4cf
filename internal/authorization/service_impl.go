package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/cashback/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPurchase   = "purchase"
	ObjectBrand      = "brand"
	ObjectJob        = "job"
	ObjectWebhookLog = "webhook_log"
)

const (
	ActionPurchaseConfirm = "purchase.confirm"
	ActionPurchaseReject  = "purchase.reject"
	ActionPurchaseRefund  = "purchase.refund"

	ActionBrandAnalyticsView = "brand.analytics.view"
	ActionBrandKeyRotate     = "brand.webhook_key.rotate"

	ActionJobRun = "job.run"

	ActionWebhookLogView = "webhook_log.view"
)

const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleSupport = "support"
	RoleFinance = "finance"
	RoleSystem  = "system"
)

// SubjectMaster is the subject used for requests authenticated with the
// master key.
const SubjectMaster = "master"

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	subject := strings.TrimSpace(actor.Subject)
	if subject == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if subject == SubjectMaster {
		role = RoleOwner
	}
	if role == "" {
		return ErrInvalidRole
	}
	roleName := "role:" + role

	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		logger.WithContext(ctx, s.log).Warn("authorization.denied",
			zap.String("subject", subject),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}

	if shouldLogGrant(action) {
		logger.WithContext(ctx, s.log).Info("authorization.granted",
			zap.String("subject", subject),
			zap.String("role", role),
			zap.String("action", action),
		)
	}
	return nil
}

// ensureGrouping keeps exactly one role link for subject. Roles come from the
// caller's credentials, so a changed role replaces the stored link.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func shouldLogGrant(action string) bool {
	switch action {
	case ActionPurchaseRefund, ActionBrandKeyRotate, ActionJobRun:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Support handles order disputes
		{"role:support", ObjectPurchase, ActionPurchaseConfirm},
		{"role:support", ObjectPurchase, ActionPurchaseReject},
		{"role:support", ObjectWebhookLog, ActionWebhookLogView},

		// Finance owns refunds and reporting
		{"role:finance", ObjectPurchase, ActionPurchaseRefund},
		{"role:finance", ObjectBrand, ActionBrandAnalyticsView},
		{"role:finance", ObjectJob, ActionJobRun},

		// Admin
		{"role:admin", ObjectPurchase, ActionPurchaseConfirm},
		{"role:admin", ObjectPurchase, ActionPurchaseReject},
		{"role:admin", ObjectPurchase, ActionPurchaseRefund},
		{"role:admin", ObjectBrand, ActionBrandAnalyticsView},
		{"role:admin", ObjectJob, ActionJobRun},
		{"role:admin", ObjectWebhookLog, ActionWebhookLogView},

		// Owner
		{"role:owner", ObjectPurchase, ActionPurchaseConfirm},
		{"role:owner", ObjectPurchase, ActionPurchaseReject},
		{"role:owner", ObjectPurchase, ActionPurchaseRefund},
		{"role:owner", ObjectBrand, ActionBrandAnalyticsView},
		{"role:owner", ObjectBrand, ActionBrandKeyRotate},
		{"role:owner", ObjectJob, ActionJobRun},
		{"role:owner", ObjectWebhookLog, ActionWebhookLogView},

		// System (manual settlement triggers)
		{"role:system", ObjectJob, ActionJobRun},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
