// Package ledger implements the EAL serial-range reconciliation rules:
// issuance intake, usage draws against issuances, dispatch link/unlink
// against usages, the dispatch status machine and the lookup that walks
// a single label back through all three ledgers.
//
// Everything here is pure. Callers load the affected records inside a
// store transaction, let the ledger validate and mutate them, and persist
// the result.
package ledger

import (
	"strings"
	"time"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
)

const dateLayout = "2006-01-02"

// ParseDate accepts an ISO calendar date or a full RFC 3339 timestamp.
func ParseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.Invalid(field, "date is required")
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.Invalid(field, "date must be formatted as YYYY-MM-DD")
}

// NewIssuance builds an issuance record with its full balance available.
func NewIssuance(id string, company string, market domain.Market, pack string, dateIssued time.Time, r serial.Range, issuedQuantity int64, by string, at time.Time) (domain.IssuanceRecord, error) {
	if issuedQuantity != r.Length() {
		return domain.IssuanceRecord{}, apperr.Invalid("issuedQuantity", "Quantity Issued and the serial numbers are not matching")
	}
	return domain.IssuanceRecord{
		ID:              id,
		Company:         company,
		Market:          market,
		Pack:            pack,
		DateIssued:      dateIssued,
		Range:           r,
		IssuedQuantity:  issuedQuantity,
		BalanceQuantity: issuedQuantity,
		CreatedBy:       by,
		CreatedAt:       at,
	}, nil
}

// CheckIssuanceOverlap rejects a new issuance whose range collides with an
// issuance already on record. Labels are unique per prefix across companies.
func CheckIssuanceOverlap(r serial.Range, existing []domain.IssuanceRecord) error {
	for _, iss := range existing {
		if iss.Range.Overlaps(r) {
			return apperr.Violation("issuance_overlap",
				"Serial range %s overlaps issuance %s issued on %s.",
				r, iss.Range, iss.DateIssued.Format(dateLayout))
		}
	}
	return nil
}
