package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CheckpointPurchases names the cursor row used by the purchase poller.
const CheckpointPurchases = "purchases"

// Purchase mirrors a settled purchase receipt fetched from the node. Rows are
// immutable once written; the poller only ever appends.
type Purchase struct {
	ID           string `gorm:"primaryKey;size:64"`
	Contributor  string `gorm:"size:64;index"`
	Beneficiary  string `gorm:"size:64;index"`
	Amount       string `gorm:"size:80"`
	Issued       string `gorm:"size:80"`
	BonusPercent int64
	Phase        string    `gorm:"size:16;index"`
	PurchasedAt  time.Time `gorm:"index"`
	CreatedAt    time.Time
}

// Checkpoint stores the resume cursor for the purchase poller.
type Checkpoint struct {
	Name       string `gorm:"primaryKey;size:32"`
	Cursor     string `gorm:"size:64"`
	LastSyncAt time.Time
	UpdatedAt  time.Time
}

// ReconReport summarises a reconciliation run against the node export.
type ReconReport struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	WindowStart    time.Time `gorm:"index"`
	WindowEnd      time.Time
	IndexedCount   int
	ExportedCount  int
	IssuedIndexed  string `gorm:"size:80"`
	IssuedExported string `gorm:"size:80"`
	SupplyTotal    string `gorm:"size:80"`
	AnomalyCount   int
	CreatedAt      time.Time
	Anomalies      []ReconAnomaly `gorm:"foreignKey:ReportID"`
}

// ReconAnomaly records a single reconciliation failure for operator review.
type ReconAnomaly struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReportID   uuid.UUID `gorm:"type:uuid;index"`
	Type       string    `gorm:"size:32;index"`
	PurchaseID string    `gorm:"size:64"`
	Details    string    `gorm:"size:512"`
	CreatedAt  time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Purchase{},
		&Checkpoint{},
		&ReconReport{},
		&ReconAnomaly{},
	)
}
