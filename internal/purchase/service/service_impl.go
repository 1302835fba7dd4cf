package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/events"
	"github.com/smallbiznis/cashback/internal/observability/logger"
	"github.com/smallbiznis/cashback/internal/purchase/domain"
	walletdomain "github.com/smallbiznis/cashback/internal/wallet/domain"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
	Clicks clickdomain.Service
	Brands branddomain.Service
	Clock  clock.Clock
	Wallet walletdomain.Service `optional:"true"`
	Events events.Publisher     `optional:"true"`
	Outbox *events.Outbox       `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   domain.Repository
	clicks clickdomain.Service
	brands branddomain.Service
	clock  clock.Clock
	wallet walletdomain.Service
	events events.Publisher
	outbox *events.Outbox
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("purchase.service"),
		repo:   p.Repo,
		clicks: p.Clicks,
		brands: p.Brands,
		clock:  p.Clock,
		wallet: p.Wallet,
		events: p.Events,
		outbox: p.Outbox,
	}
}

type transitionOptions struct {
	// idempotent returns the current record when it already has the target
	// status instead of failing.
	idempotent          bool
	walletTransactionID *string
}

func (s *Service) Get(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return domain.Purchase{}, domain.ErrInvalidPurchaseID
	}
	purchase, err := s.repo.FindByPurchaseID(ctx, s.db, purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if purchase == nil {
		return domain.Purchase{}, domain.ErrPurchaseNotFound
	}
	return *purchase, nil
}

func (s *Service) ListUserPurchases(ctx context.Context, req domain.ListPurchasesRequest) (domain.ListPurchasesResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.ListPurchasesResponse{}, clickdomain.ErrInvalidUserID
	}

	var status *domain.Status
	if raw := strings.TrimSpace(req.Status); raw != "" {
		parsed, ok := domain.ParseStatus(strings.ToLower(raw))
		if !ok {
			return domain.ListPurchasesResponse{}, domain.ErrInvalidStatus
		}
		status = &parsed
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListPurchasesResponse{}, err
	}

	limit := req.Pagination.Limit()
	items, err := s.repo.ListByUser(ctx, s.db, userID, status, cursor, limit)
	if err != nil {
		return domain.ListPurchasesResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(p *domain.Purchase) pagination.Cursor {
		return pagination.Cursor{ID: int64(p.ID), CreatedAt: p.CreatedAt}
	})

	purchases := make([]domain.Purchase, 0, len(items))
	for _, item := range items {
		purchases = append(purchases, *item)
	}
	return domain.ListPurchasesResponse{PageInfo: pageInfo, Purchases: purchases}, nil
}

func (s *Service) CashbackSummary(ctx context.Context, userID string) (domain.CashbackSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CashbackSummary{}, clickdomain.ErrInvalidUserID
	}

	summary, err := s.repo.SummarizeUser(ctx, s.db, userID)
	if err != nil {
		return domain.CashbackSummary{}, err
	}
	clicks, err := s.clicks.CountUserClicks(ctx, userID)
	if err != nil {
		return domain.CashbackSummary{}, err
	}

	rate := decimal.Zero
	if clicks > 0 {
		rate = decimal.NewFromInt(summary.PurchaseCount).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(clicks)).
			Round(2)
	}

	return domain.CashbackSummary{
		TotalEarned:    summary.Pending.Add(summary.Credited),
		Pending:        summary.Pending,
		Credited:       summary.Credited,
		TotalClicks:    clicks,
		TotalPurchases: summary.PurchaseCount,
		ConversionRate: rate,
	}, nil
}

func (s *Service) Confirm(ctx context.Context, purchaseID, reason string, actor domain.Actor) (domain.Purchase, error) {
	return s.transitionByID(ctx, purchaseID, domain.StatusConfirmed, reason, actor, transitionOptions{idempotent: true})
}

func (s *Service) Reject(ctx context.Context, purchaseID, reason string, actor domain.Actor) (domain.Purchase, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Purchase{}, domain.ErrMissingReason
	}
	return s.transitionByID(ctx, purchaseID, domain.StatusRejected, reason, actor, transitionOptions{idempotent: true})
}

func (s *Service) Refund(ctx context.Context, purchaseID, reason string, actor domain.Actor) (domain.Purchase, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Purchase{}, domain.ErrMissingReason
	}
	return s.transitionByID(ctx, purchaseID, domain.StatusRefunded, reason, actor, transitionOptions{idempotent: true})
}

func (s *Service) ClaimForCredit(ctx context.Context, purchase domain.Purchase) (domain.Purchase, error) {
	if !purchase.CreditableAt(s.clock.Now()) {
		return domain.Purchase{}, domain.ErrInvalidTransition
	}
	return s.apply(ctx, purchase, domain.StatusCrediting, "settlement claim", domain.ActorSystem, transitionOptions{})
}

func (s *Service) MarkCredited(ctx context.Context, purchase domain.Purchase, walletTransactionID string) (domain.Purchase, error) {
	walletTransactionID = strings.TrimSpace(walletTransactionID)
	if walletTransactionID == "" {
		return domain.Purchase{}, errors.New("wallet transaction id is required")
	}
	return s.apply(ctx, purchase, domain.StatusCredited, "cashback credited to wallet", domain.ActorSystem, transitionOptions{
		walletTransactionID: &walletTransactionID,
	})
}

func (s *Service) ReleaseClaim(ctx context.Context, purchase domain.Purchase, reason string) (domain.Purchase, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "settlement claim released"
	}
	return s.apply(ctx, purchase, domain.StatusConfirmed, reason, domain.ActorSystem, transitionOptions{})
}

func (s *Service) ListCreditable(ctx context.Context, exclude []string, limit int) ([]domain.Purchase, error) {
	now := s.clock.Now()
	items, err := s.repo.ListCreditable(ctx, s.db, now, exclude, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Purchase, 0, len(items))
	for _, item := range items {
		if item.CreditableAt(now) {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *Service) ListStaleClaims(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Purchase, error) {
	items, err := s.repo.ListStaleClaims(ctx, s.db, s.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Purchase, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) transitionByID(ctx context.Context, purchaseID string, to domain.Status, reason string, actor domain.Actor, opts transitionOptions) (domain.Purchase, error) {
	current, err := s.Get(ctx, purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if opts.idempotent && current.Status == to {
		return current, nil
	}
	return s.apply(ctx, current, to, reason, actor, opts)
}

// apply performs the compare-and-set for one transition starting from the
// caller's view of the record.
func (s *Service) apply(ctx context.Context, current domain.Purchase, to domain.Status, reason string, actor domain.Actor, opts transitionOptions) (domain.Purchase, error) {
	if err := domain.ValidateTransition(current.Status, to, actor); err != nil {
		return domain.Purchase{}, err
	}

	now := s.clock.Now()
	history := make(datatypes.JSONSlice[domain.StatusHistoryEntry], 0, len(current.StatusHistory)+1)
	history = append(history, current.StatusHistory...)
	history = append(history, domain.StatusHistoryEntry{
		Status:    to,
		Timestamp: now,
		Reason:    strings.TrimSpace(reason),
		Actor:     actor,
	})

	update := domain.TransitionUpdate{
		PurchaseID:             current.PurchaseID,
		From:                   current.Status,
		To:                     to,
		ExpectedVersion:        current.Version,
		History:                history,
		At:                     now,
		WalletTransactionID:    opts.walletTransactionID,
		ReconciliationRequired: current.ReconciliationRequired,
	}
	switch {
	case to == domain.StatusConfirmed && current.Status == domain.StatusPending:
		update.VerifiedAt = &now
	case to == domain.StatusCredited:
		update.CreditedAt = &now
	case to == domain.StatusRefunded && current.Status == domain.StatusCredited:
		update.ReconciliationRequired = true
	}

	next := current
	next.Status = to
	next.StatusHistory = history
	next.Version = current.Version + 1
	next.UpdatedAt = now
	next.ReconciliationRequired = update.ReconciliationRequired
	if update.VerifiedAt != nil {
		next.VerifiedAt = update.VerifiedAt
	}
	if update.CreditedAt != nil {
		next.CreditedAt = update.CreditedAt
	}
	if update.WalletTransactionID != nil {
		next.WalletTransactionID = update.WalletTransactionID
	}

	// the events commit with the status change
	pending := s.transitionEvents(current, next, reason, actor)
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.repo.Transition(ctx, tx, update)
		if err != nil {
			return err
		}
		affected = n
		if n == 0 {
			return nil
		}
		return s.outbox.Add(ctx, tx, pending)
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	if affected == 0 {
		return s.resolveLostUpdate(ctx, current.PurchaseID, to, actor, opts)
	}

	s.afterTransition(ctx, current, next, reason, actor, pending)
	return next, nil
}

// resolveLostUpdate explains a compare-and-set that matched no row.
func (s *Service) resolveLostUpdate(ctx context.Context, purchaseID string, to domain.Status, actor domain.Actor, opts transitionOptions) (domain.Purchase, error) {
	latest, err := s.repo.FindByPurchaseID(ctx, s.db, purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if latest == nil {
		return domain.Purchase{}, domain.ErrPurchaseNotFound
	}
	if opts.idempotent && latest.Status == to {
		return *latest, nil
	}
	if !domain.CanTransition(latest.Status, to, actor) {
		return domain.Purchase{}, domain.ErrInvalidTransition
	}
	return domain.Purchase{}, domain.ErrConcurrentUpdate
}

// transitionEvents builds the notifications for one status change. Claim
// bookkeeping produces none.
func (s *Service) transitionEvents(prev, next domain.Purchase, reason string, actor domain.Actor) []events.Event {
	if isClaimChange(prev, next) {
		return nil
	}
	payload := map[string]any{
		"purchase_id": next.PurchaseID,
		"brand_id":    next.BrandID,
		"user_id":     derefString(next.UserID),
		"from":        string(prev.Status),
		"to":          string(next.Status),
		"actor":       string(actor),
		"reason":      reason,
	}

	var out []events.Event
	switch next.Status {
	case domain.StatusCredited:
		payload["amount"] = next.ActualCashback.StringFixed(2)
		payload["currency"] = next.Currency
		payload["wallet_transaction_id"] = derefString(next.WalletTransactionID)
		out = append(out, events.New(events.CashbackCredited, next.PurchaseID, next.UpdatedAt, payload))
	case domain.StatusRefunded:
		if prev.Status == domain.StatusCredited {
			payload["amount"] = next.ActualCashback.StringFixed(2)
			payload["currency"] = next.Currency
			payload["wallet_transaction_id"] = derefString(next.WalletTransactionID)
			out = append(out, events.New(events.CashbackReversalRequired, next.PurchaseID, next.UpdatedAt, payload))
		}
		out = append(out, events.New(events.PurchaseStatusChanged, next.PurchaseID, next.UpdatedAt, payload))
	default:
		out = append(out, events.New(events.PurchaseStatusChanged, next.PurchaseID, next.UpdatedAt, payload))
	}
	return out
}

func isClaimChange(prev, next domain.Purchase) bool {
	return next.Status == domain.StatusCrediting ||
		prev.Status == domain.StatusCrediting && next.Status == domain.StatusConfirmed
}

func (s *Service) afterTransition(ctx context.Context, prev, next domain.Purchase, reason string, actor domain.Actor, pending []events.Event) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("purchase_id", next.PurchaseID),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(next.Status)),
		zap.String("actor", string(actor)),
	)

	if isClaimChange(prev, next) {
		log.Debug("purchase.claim.changed")
		return
	}
	log.Info("purchase.status.changed")

	if next.Status == domain.StatusRefunded && prev.Status == domain.StatusCredited {
		log.Warn("purchase.refund.reconciliation_required",
			zap.String("amount", next.ActualCashback.StringFixed(2)),
		)
		if s.brands != nil {
			s.brands.ReverseCashback(ctx, next.BrandID, next.ActualCashback)
		}
		if s.wallet != nil {
			if err := s.wallet.CancelCashback(ctx, next.PurchaseID, reason); err != nil {
				log.Error("purchase.refund.cashback_cancel_failed", zap.Error(err))
			}
		}
	}

	if s.events == nil {
		return
	}
	for _, event := range pending {
		s.events.Publish(ctx, event)
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
