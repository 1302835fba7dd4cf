package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"github.com/smallbiznis/cashback/internal/webhooklog/masking"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxStoredBodyBytes = 64 << 10

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("webhooklog.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Start(ctx context.Context, req domain.StartRequest) (snowflake.ID, error) {
	webhookType, ok := domain.ParseType(strings.TrimSpace(string(req.Type)))
	if !ok {
		return 0, domain.ErrInvalidType
	}

	now := s.clock.Now()
	entry := domain.WebhookLog{
		ID:          s.genID.Generate(),
		WebhookType: webhookType,
		Endpoint:    strings.TrimSpace(req.Endpoint),
		Method:      strings.ToUpper(strings.TrimSpace(req.Method)),
		Headers:     datatypes.JSONMap(masking.RedactHeaders(req.Headers)),
		Body:        storedBody(req.Body),
		SourceIP:    strings.TrimSpace(req.SourceIP),
		UserAgent:   strings.TrimSpace(req.UserAgent),
		Status:      domain.OutcomeReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(req.Query) > 0 {
		query := make(map[string]any, len(req.Query))
		for key, values := range req.Query {
			query[key] = strings.Join(values, ",")
		}
		entry.Query = datatypes.JSONMap(query)
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write webhook log", zap.String("webhook_type", string(webhookType)), zap.Error(err))
		return 0, err
	}
	return entry.ID, nil
}

func (s *Service) Complete(ctx context.Context, id snowflake.ID, req domain.CompleteRequest) error {
	if _, ok := domain.ParseOutcome(string(req.Status)); !ok || req.Status == domain.OutcomeReceived {
		return domain.ErrInvalidOutcome
	}

	affected, err := s.repo.Complete(ctx, s.db, id, domain.Completion{
		Status:           req.Status,
		ResponseStatus:   req.ResponseStatus,
		ResponseBody:     []byte(storedBody(req.ResponseBody)),
		ProcessingTimeMS: req.ProcessingTime.Milliseconds(),
		ErrorMessage:     optional(req.Error),
		BrandID:          optional(req.BrandID),
		BrandName:        optional(req.BrandName),
		ClickID:          optional(req.ClickID),
		PurchaseID:       optional(req.PurchaseID),
		At:               s.clock.Now(),
	})
	if err != nil {
		s.log.Warn("failed to complete webhook log", zap.String("webhook_log_id", id.String()), zap.Error(err))
		return err
	}
	if affected == 0 {
		return domain.ErrLogNotFound
	}
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{BrandID: strings.TrimSpace(req.BrandID)}
	if raw := strings.TrimSpace(req.Type); raw != "" {
		webhookType, ok := domain.ParseType(raw)
		if !ok {
			return domain.ListResponse{}, domain.ErrInvalidType
		}
		filter.Type = webhookType
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		outcome, ok := domain.ParseOutcome(raw)
		if !ok {
			return domain.ListResponse{}, domain.ErrInvalidOutcome
		}
		filter.Status = outcome
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}
	filter.Cursor = cursor
	filter.Limit = req.Pagination.Limit()

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, filter.Limit, func(item *domain.WebhookLog) pagination.Cursor {
		return pagination.Cursor{ID: int64(item.ID), CreatedAt: item.CreatedAt}
	})

	logs := make([]domain.WebhookLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, WebhookLogs: logs}, nil
}

func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, domain.ErrInvalidRetention
	}
	cutoff := s.clock.Now().Add(-retention)
	deleted, err := s.repo.DeleteBefore(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.Info("webhooklog.purged", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}

// storedBody keeps JSON payloads as-is and wraps anything else in a JSON
// string so the column stays valid JSON.
func storedBody(body []byte) datatypes.JSON {
	if len(body) == 0 {
		return nil
	}
	if len(body) > maxStoredBodyBytes {
		body = body[:maxStoredBodyBytes]
	}
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	wrapped, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return datatypes.JSON(wrapped)
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
