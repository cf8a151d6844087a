package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditPackage is a catalog entry. Price is in minor currency units.
type CreditPackage struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Credits   int       `json:"credits"`
	Price     int64     `json:"price"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot captures the package economics a purchase is priced at.
func (p *CreditPackage) Snapshot() PackageSnapshot {
	return PackageSnapshot{
		PackageID: p.ID,
		Name:      p.Name,
		Credits:   p.Credits,
		Price:     p.Price,
	}
}

// PackageSnapshot is copied onto a Purchase at creation and never re-read
// from the catalog afterwards.
type PackageSnapshot struct {
	PackageID     uuid.UUID
	Name          string
	Credits       int
	Price         int64
	PaymentMethod string
}
