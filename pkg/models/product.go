package models

import (
	"time"

	"github.com/google/uuid"
)

type ProductState string

const (
	ProductAvailable     ProductState = "AVAILABLE"
	ProductScheduled     ProductState = "SCHEDULED"
	ProductGenerating    ProductState = "GENERATING"
	ProductFailed        ProductState = "FAILED"
	ProductReady         ProductState = "READY"
	ProductMissingSource ProductState = "MISSING_SOURCE"
	ProductIgnore        ProductState = "IGNORE"
)

var ProductStates = []ProductState{
	ProductAvailable,
	ProductScheduled,
	ProductGenerating,
	ProductFailed,
	ProductReady,
	ProductMissingSource,
	ProductIgnore,
}

func (s ProductState) Valid() bool {
	for _, st := range ProductStates {
		if st == s {
			return true
		}
	}
	return false
}

// InFlight reports whether a processing job currently owns the product.
func (s ProductState) InFlight() bool {
	return s == ProductScheduled || s == ProductGenerating
}

// Product is one derived artifact. At most one product exists per
// (Group, ReferenceDate).
type Product struct {
	ID            uuid.UUID    `json:"id"`
	Filename      string       `json:"filename"`
	Group         string       `json:"group"`
	ReferenceDate time.Time    `json:"reference_date"`
	State         ProductState `json:"state"`
	JobID         *string      `json:"job_id,omitempty"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
