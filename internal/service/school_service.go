package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"schooldesk/internal/cache"
	"schooldesk/internal/ledger"
	"schooldesk/internal/models"
	"schooldesk/internal/notifications"
	"schooldesk/internal/observability"
	"schooldesk/internal/repository"
)

type SchoolService struct {
	schools  repository.SchoolRepository
	ledger   *ledger.Ledger
	notifier *notifications.Notifier
}

// UpdateSchoolInput holds the administrative fields; nil leaves a field unchanged.
type UpdateSchoolInput struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

type GrantInput struct {
	Coins       int64  `json:"coins"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
}

// BalanceView is a school's current balance.
type BalanceView struct {
	SchoolID uint  `json:"school_id"`
	Coins    int64 `json:"coins"`
}

func NewSchoolService(schools repository.SchoolRepository, l *ledger.Ledger, notifier *notifications.Notifier) *SchoolService {
	return &SchoolService{schools: schools, ledger: l, notifier: notifier}
}

func (s *SchoolService) GetBalance(ctx context.Context, actor *models.User, schoolID uint) (*BalanceView, error) {
	if err := requireSchoolAccess(actor, schoolID); err != nil {
		return nil, err
	}
	var view BalanceView
	err := cache.Aside(ctx, cache.SchoolBalanceKey(schoolID), &view, cache.BalanceTTL, func() error {
		coins, err := s.ledger.Balance(ctx, schoolID)
		if err != nil {
			return err
		}
		view = BalanceView{SchoolID: schoolID, Coins: coins}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *SchoolService) History(ctx context.Context, actor *models.User, schoolID uint, limit, offset int) ([]models.Transaction, int64, error) {
	if err := requireSchoolAccess(actor, schoolID); err != nil {
		return nil, 0, err
	}
	if _, err := s.schools.GetByID(ctx, schoolID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.History(ctx, schoolID, limit, offset)
}

func (s *SchoolService) Reconcile(ctx context.Context, actor *models.User, schoolID uint) (*ledger.Reconciliation, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rec, err := s.ledger.Reconcile(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	if !rec.Balanced {
		observability.GlobalLogger.WarnContext(ctx, "ledger out of balance",
			slog.Uint64("school_id", uint64(schoolID)),
			slog.Int64("balance", rec.Balance),
			slog.Int64("ledger_sum", rec.LedgerSum),
			slog.Int("broken_entries", len(rec.BrokenIDs)),
		)
	}
	return rec, nil
}

// Grant credits coins to a school outside the payment flow.
func (s *SchoolService) Grant(ctx context.Context, actor *models.User, schoolID uint, in GrantInput) (*models.Transaction, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Coins <= 0 {
		return nil, models.NewValidationError("coins must be positive")
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = fmt.Sprintf("granted by admin %d", actor.ID)
	}
	entry, err := s.ledger.Grant(ctx, schoolID, in.Coins, in.ReferenceID, description)
	if err != nil {
		return nil, err
	}
	s.balanceChanged(ctx, schoolID, entry.CoinsAfter)
	return entry, nil
}

func (s *SchoolService) balanceChanged(ctx context.Context, schoolID uint, balance int64) {
	cache.Invalidate(ctx, cache.SchoolBalanceKey(schoolID))
	err := s.notifier.PublishSchool(ctx, schoolID, notifications.Event{
		Type:    notifications.EventBalanceChanged,
		Balance: &balance,
	})
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to publish balance event", slog.String("error", err.Error()))
	}
}

func (s *SchoolService) UpdateSchool(ctx context.Context, actor *models.User, schoolID uint, in UpdateSchoolInput) (*models.School, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > 160 {
			return nil, models.NewValidationError("name must be between 1 and 160 characters")
		}
		in.Name = &name
	}
	return s.schools.UpdateProfile(ctx, schoolID, in.Name, in.IsActive)
}

// CreateSchool registers a school with a zero balance.
func (s *SchoolService) CreateSchool(ctx context.Context, actor *models.User, name string) (*models.School, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 160 {
		return nil, models.NewValidationError("name must be between 1 and 160 characters")
	}
	school := &models.School{Name: name, IsActive: true}
	if err := s.schools.Create(ctx, school); err != nil {
		return nil, err
	}
	return school, nil
}

func (s *SchoolService) ListSchools(ctx context.Context, actor *models.User, limit, offset int) ([]models.School, int64, error) {
	if err := requireStaff(actor); err != nil {
		return nil, 0, err
	}
	return s.schools.List(ctx, limit, offset)
}
