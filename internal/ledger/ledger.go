// Package ledger maintains school coin balances and their append-only
// transaction log. Every balance change goes through Apply, which writes the
// new balance with a compare-and-swap on the previous value and records a
// Transaction snapshotting both, inside the caller's database transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schooldesk/internal/models"
	"schooldesk/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ErrBalanceConflict reports that a school's balance changed between read and write.
var ErrBalanceConflict = errors.New("ledger: balance changed concurrently")

// DefaultMaxRetries bounds how many times Execute reruns a conflicting unit of work.
const DefaultMaxRetries = 5

// Entry describes one balance change.
type Entry struct {
	SchoolID    uint
	Type        models.TransactionType
	Coins       int64
	ReferenceID string
	Description string
}

// Ledger applies entries and answers balance queries.
type Ledger struct {
	db         *gorm.DB
	maxRetries int
	backoff    time.Duration
	log        *observability.RepoLogger
}

// New creates a Ledger. maxRetries <= 0 uses DefaultMaxRetries.
func New(db *gorm.DB, maxRetries int) *Ledger {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Ledger{
		db:         db,
		maxRetries: maxRetries,
		backoff:    10 * time.Millisecond,
		log:        observability.NewRepoLogger("transactions"),
	}
}

// Apply changes the school's balance by the entry's signed amount and appends the
// matching Transaction. It must run inside tx; a lost compare-and-swap returns
// ErrBalanceConflict so the surrounding Execute can retry the whole unit.
// Negative balances are not checked here.
func (l *Ledger) Apply(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error) {
	if !e.Type.Valid() {
		return nil, models.NewValidationError(fmt.Sprintf("unknown transaction type %q", e.Type))
	}
	if e.Coins < 0 {
		return nil, models.NewValidationError("coins must not be negative")
	}
	if e.SchoolID == 0 {
		return nil, models.NewValidationError("school is required")
	}

	ctx, span := observability.GetTraceLayer().TraceStore(ctx, "ledger.apply", "transactions")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("school.id", int64(e.SchoolID)),
		attribute.String("ledger.type", string(e.Type)),
		attribute.Int64("ledger.coins", e.Coins),
	)

	var school models.School
	if err := tx.WithContext(ctx).Select("id", "coins").First(&school, e.SchoolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("School", e.SchoolID)
		}
		return nil, err
	}

	before := school.Coins
	after := before + e.Type.Signed(e.Coins)

	res := tx.WithContext(ctx).
		Model(&models.School{}).
		Where("id = ? AND coins = ?", e.SchoolID, before).
		Updates(map[string]interface{}{"coins": after, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrBalanceConflict
	}

	entry := &models.Transaction{
		SchoolID:    e.SchoolID,
		Type:        e.Type,
		Coins:       e.Coins,
		CoinsBefore: before,
		CoinsAfter:  after,
		ReferenceID: e.ReferenceID,
		Description: e.Description,
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		l.log.LogError(ctx, err, "create")
		return nil, err
	}

	observability.LedgerEntries.WithLabelValues(string(e.Type)).Inc()
	l.log.LogCreate(ctx, map[string]interface{}{
		"school_id":    e.SchoolID,
		"type":         e.Type,
		"coins":        e.Coins,
		"coins_before": before,
		"coins_after":  after,
		"reference_id": e.ReferenceID,
	})
	return entry, nil
}

// Execute runs fn in a database transaction, rerunning it from scratch when any
// Apply inside it loses a balance race.
func (l *Ledger) Execute(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		err = l.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, ErrBalanceConflict) {
			return err
		}
		observability.LedgerConflicts.Inc()
		if attempt < l.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * l.backoff):
			}
		}
	}
	return fmt.Errorf("%w after %d attempts", err, l.maxRetries)
}

// Balance returns the school's current coin balance.
func (l *Ledger) Balance(ctx context.Context, schoolID uint) (int64, error) {
	var school models.School
	if err := l.db.WithContext(ctx).Select("id", "coins").First(&school, schoolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, models.NewNotFoundError("School", schoolID)
		}
		return 0, err
	}
	return school.Coins, nil
}

// History returns a page of the school's entries, newest first, with the total count.
func (l *Ledger) History(ctx context.Context, schoolID uint, limit, offset int) ([]models.Transaction, int64, error) {
	var total int64
	q := l.db.WithContext(ctx).Model(&models.Transaction{}).Where("school_id = ?", schoolID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.Transaction
	err := l.db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, total, err
}

// FindByReference returns the entry of the given type carrying referenceID, or nil.
func (l *Ledger) FindByReference(ctx context.Context, tx *gorm.DB, typ models.TransactionType, referenceID string) (*models.Transaction, error) {
	if tx == nil {
		tx = l.db
	}
	var entry models.Transaction
	err := tx.WithContext(ctx).
		Where("type = ? AND reference_id = ?", typ, referenceID).
		Order("id ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Grant credits a school with a purchase-type entry, e.g. an administrative top-up.
func (l *Ledger) Grant(ctx context.Context, schoolID uint, coins int64, referenceID, description string) (*models.Transaction, error) {
	if coins <= 0 {
		return nil, models.NewValidationError("coins must be positive")
	}
	var entry *models.Transaction
	err := l.Execute(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = l.Apply(ctx, tx, Entry{
			SchoolID:    schoolID,
			Type:        models.TransactionPurchase,
			Coins:       coins,
			ReferenceID: referenceID,
			Description: description,
		})
		return err
	})
	return entry, err
}

// Reconciliation compares a school's stored balance with its ledger.
type Reconciliation struct {
	SchoolID  uint   `json:"school_id"`
	Balance   int64  `json:"balance"`
	LedgerSum int64  `json:"ledger_sum"`
	Entries   int    `json:"entries"`
	BrokenIDs []uint `json:"broken_ids,omitempty"`
	Balanced  bool   `json:"balanced"`
}

// Reconcile checks that the balance equals the sum of signed deltas, that every
// entry's snapshot is internally consistent, and that snapshots chain.
func (l *Ledger) Reconcile(ctx context.Context, schoolID uint) (*Reconciliation, error) {
	balance, err := l.Balance(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	var entries []models.Transaction
	if err := l.db.WithContext(ctx).Where("school_id = ?", schoolID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}

	rec := &Reconciliation{SchoolID: schoolID, Balance: balance, Entries: len(entries)}
	var prevAfter int64
	for i := range entries {
		e := &entries[i]
		rec.LedgerSum += e.Type.Signed(e.Coins)
		if !e.Consistent() || (i > 0 && e.CoinsBefore != prevAfter) {
			rec.BrokenIDs = append(rec.BrokenIDs, e.ID)
		}
		prevAfter = e.CoinsAfter
	}
	rec.Balanced = rec.LedgerSum == balance && len(rec.BrokenIDs) == 0
	return rec, nil
}
