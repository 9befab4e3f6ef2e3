package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// LedgerEngine owns point balances and the append-only transaction log.
// Balance rows are created lazily on first touch. Callers that mutate a
// balance must hold the member lock for the whole read-check-write.
type LedgerEngine struct {
	db    *gorm.DB
	locks *keyedMutex
	now   func() time.Time
}

// NewLedgerEngine creates a ledger over the given database.
func NewLedgerEngine(db *gorm.DB) *LedgerEngine {
	return &LedgerEngine{
		db:    db,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// LockMember serializes mutations for one member and returns the unlock
// func. The submit flow takes this after the merchant scope lock, never
// the other way round.
func (l *LedgerEngine) LockMember(memberID string) func() {
	return l.locks.Lock(strings.ToUpper(memberID))
}

func newTxID() string {
	return "TX-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
}

// Balance returns the current balance, zero for a member never seen.
func (l *LedgerEngine) Balance(memberID string) (int64, error) {
	var bal models.Balance
	err := l.db.Where("member_id = ?", memberID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load balance: %w", err)
	}
	return bal.Points, nil
}

// Mutate applies a signed point delta inside the given transaction and
// appends exactly one ledger row. A REDEEM that would push the balance
// negative fails before anything is written. Returns the new balance and
// the ledger row.
func (l *LedgerEngine) Mutate(tx *gorm.DB, memberID, merchantID, txType string, delta int64, staff string) (int64, *models.Transaction, error) {
	var bal models.Balance
	err := tx.Where("member_id = ?", memberID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		bal = models.Balance{MemberID: memberID}
		if err := tx.Create(&bal).Error; err != nil {
			return 0, nil, fmt.Errorf("failed to init balance: %w", err)
		}
	} else if err != nil {
		return 0, nil, fmt.Errorf("failed to load balance: %w", err)
	}

	next := bal.Points + delta
	if next < 0 {
		return bal.Points, nil, utils.InsufficientFundsError(
			fmt.Sprintf("Insufficient balance: have %d, need %d", bal.Points, -delta), nil)
	}

	if err := tx.Model(&models.Balance{}).Where("member_id = ?", memberID).
		Update("points", next).Error; err != nil {
		return 0, nil, fmt.Errorf("failed to update balance: %w", err)
	}

	row := models.Transaction{
		TxID:       newTxID(),
		MemberID:   memberID,
		MerchantID: merchantID,
		Type:       txType,
		Points:     delta,
		AtMs:       l.now().UnixMilli(),
		Staff:      staff,
	}
	if err := tx.Create(&row).Error; err != nil {
		return 0, nil, fmt.Errorf("failed to append transaction: %w", err)
	}

	return next, &row, nil
}

// History returns a member's most recent transactions, newest first.
func (l *LedgerEngine) History(memberID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.Transaction
	err := l.db.Where("member_id = ?", memberID).
		Order("at_ms DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return rows, nil
}

// MerchantHistory returns a merchant's most recent transactions.
func (l *LedgerEngine) MerchantHistory(merchantID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.Transaction
	err := l.db.Where("merchant_id = ?", merchantID).
		Order("at_ms DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return rows, nil
}
