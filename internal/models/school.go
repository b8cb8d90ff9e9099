// Package models contains data structures for the application's domain models.
package models

import "time"

// School is a participating school account. Coins is only ever changed
// through the ledger or by an administrative grant, which is itself a ledger entry.
type School struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:160;not null" json:"name"`
	Coins     int64     `gorm:"not null;default:0" json:"coins"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (School) TableName() string {
	return "schools"
}
