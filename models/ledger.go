// models/ledger.go
package models

import "time"

// LedgerAccount is one game's claim on the shared reserve, denominated in
// shares. Value is never stored per game: it is always recomputed as
// shares * totalValueLocked / totalShares so externally accrued interest
// flows to every depositor proportionally.
//
// Principal is the "value at last deposit" watermark. Deposits add to it at
// face value, withdrawals reduce it in proportion to the shares burned, and
// yield harvesting compares current valuation against it. Without the
// watermark the yield of an account would be unobservable, since recomputing
// both sides from the current totals always cancels out.
type LedgerAccount struct {
	GameID    uint64    `json:"game_id" gorm:"primaryKey"`
	Shares    uint64    `json:"shares" gorm:"not null"`
	Principal uint64    `json:"principal" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerState is the singleton global accounting row (id = 1).
// TotalValueLocked mirrors the external reserve's reported balance and is
// refreshed from it before every share conversion; it moves on its own as
// interest accrues, which is exactly how yield reaches depositors.
type LedgerState struct {
	ID               uint      `gorm:"primaryKey"`
	TotalShares      uint64    `json:"total_shares" gorm:"not null"`
	TotalValueLocked uint64    `json:"total_value_locked" gorm:"not null"`
	LastSyncAt       time.Time `json:"last_sync_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName keeps the singleton row in its own clearly named table.
func (LedgerState) TableName() string {
	return "ledger_state"
}

// SettlementRecord is the audit trail of a released pot: who got paid, how
// much of it was principal and how much accrued yield. One row per game,
// written in the same transaction that releases the funds.
type SettlementRecord struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid"`
	GameID      uint64    `json:"game_id" gorm:"uniqueIndex;not null"`
	Beneficiary string    `json:"beneficiary" gorm:"index;not null"`
	Principal   uint64    `json:"principal" gorm:"not null"`
	Yield       uint64    `json:"yield" gorm:"not null"`
	Total       uint64    `json:"total" gorm:"not null"`
	Reason      string    `json:"reason" gorm:"size:16"` // settle | timeout | resign | cancel
	TransferRef string    `json:"transfer_ref" gorm:"size:64"`
	CreatedAt   time.Time `json:"created_at"`
}
