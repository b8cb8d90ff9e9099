package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"schooldesk/internal/cache"
	"schooldesk/internal/ledger"
	"schooldesk/internal/models"
	"schooldesk/internal/notifications"
	"schooldesk/internal/observability"
	"schooldesk/internal/payment"
	"schooldesk/internal/repository"

	"gorm.io/gorm"
)

// VerifyPurchaseInput is the gateway callback payload. SchoolID is only read for admins.
type VerifyPurchaseInput struct {
	SchoolID  uint   `json:"school_id"`
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// PurchaseResult reports the credited entry. Duplicate is true when the
// payment had already been credited.
type PurchaseResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Duplicate   bool                `json:"duplicate"`
}

type PaymentService struct {
	verifier    *payment.Verifier
	ledger      *ledger.Ledger
	schools     repository.SchoolRepository
	notifier    *notifications.Notifier
	packageSize int64
}

func NewPaymentService(verifier *payment.Verifier, l *ledger.Ledger, schools repository.SchoolRepository, notifier *notifications.Notifier, packageSize int64) *PaymentService {
	if packageSize <= 0 {
		packageSize = 99
	}
	return &PaymentService{verifier: verifier, ledger: l, schools: schools, notifier: notifier, packageSize: packageSize}
}

// VerifyPurchase checks the gateway signature and credits one coin package.
// Verifying the same payment again returns the original entry.
func (s *PaymentService) VerifyPurchase(ctx context.Context, actor *models.User, in VerifyPurchaseInput) (*PurchaseResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.PaymentID = strings.TrimSpace(in.PaymentID)
	if in.OrderID == "" || in.PaymentID == "" || strings.TrimSpace(in.Signature) == "" {
		return nil, models.NewValidationError("order_id, payment_id and signature are required")
	}

	var schoolID uint
	switch {
	case actor.Role == models.RoleSchool && actor.SchoolID != nil:
		schoolID = *actor.SchoolID
	case actor.IsAdmin():
		if in.SchoolID == 0 {
			return nil, models.NewValidationError("school_id is required")
		}
		schoolID = in.SchoolID
	default:
		return nil, models.NewForbiddenError("only school users or admins can buy coins")
	}
	if _, err := activeSchool(ctx, s.schools, schoolID); err != nil {
		return nil, err
	}

	if err := s.verifier.Verify(in.OrderID, in.PaymentID, in.Signature); err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, models.NewConfigurationMissingError("payment verification (PAYMENT_KEY_SECRET)")
		}
		observability.GlobalLogger.WarnContext(ctx, "payment signature rejected",
			slog.Uint64("school_id", uint64(schoolID)),
			slog.String("order_id", in.OrderID),
		)
		return nil, models.NewValidationError("invalid payment signature")
	}

	result := &PurchaseResult{}
	err := s.ledger.Execute(ctx, func(tx *gorm.DB) error {
		existing, err := s.ledger.FindByReference(ctx, tx, models.TransactionPurchase, in.PaymentID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.SchoolID != schoolID {
				return models.NewValidationError("payment was already credited to another school")
			}
			result.Transaction = existing
			result.Duplicate = true
			return nil
		}
		entry, err := s.ledger.Apply(ctx, tx, ledger.Entry{
			SchoolID:    schoolID,
			Type:        models.TransactionPurchase,
			Coins:       s.packageSize,
			ReferenceID: in.PaymentID,
			Description: "coin package, order " + in.OrderID,
		})
		if err != nil {
			return err
		}
		result.Transaction = entry
		result.Duplicate = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		cache.Invalidate(ctx, cache.SchoolBalanceKey(schoolID))
		balance := result.Transaction.CoinsAfter
		if err := s.notifier.PublishSchool(ctx, schoolID, notifications.Event{
			Type:    notifications.EventBalanceChanged,
			Balance: &balance,
		}); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to publish balance event", slog.String("error", err.Error()))
		}
	}
	return result, nil
}
