package ledger

import (
	"time"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
)

// LinkRequest describes one sub-range to allocate to a dispatch line.
type LinkRequest struct {
	LinkID         string
	ItemID         string
	Range          serial.Range
	BottlesPerCase int64
	By             string
	At             time.Time
}

// Link allocates req.Range from one of usages to the dispatch line
// req.ItemID. linked must contain every existing link (on any dispatch)
// overlapping the range. On success d and the chosen usage record are
// mutated in place and the usage is returned.
func Link(d *domain.DispatchRecord, req LinkRequest, usages []domain.UsageRecord, linked []domain.EALLink) (domain.EALLink, *domain.UsageRecord, error) {
	if d.Status != domain.DispatchFinal {
		return domain.EALLink{}, nil, apperr.Violation("status", "EALs can only be linked while the dispatch is final.")
	}
	item, ok := d.ItemByID(req.ItemID)
	if !ok {
		return domain.EALLink{}, nil, apperr.Invalid("itemId", "item %s is not part of this dispatch", req.ItemID)
	}

	r := req.Range
	usedQuantity := r.Length()
	usedCases, err := r.ToCaseCount(req.BottlesPerCase)
	if err != nil {
		return domain.EALLink{}, nil, err
	}
	if !r.CaseAligned(req.BottlesPerCase) {
		return domain.EALLink{}, nil, apperr.Violation("case_alignment",
			"Serial range must start and end on a case boundary of %d bottles.", req.BottlesPerCase)
	}

	available := item.QuantityInCases - item.EALIssuedQuantity
	if usedCases > available {
		return domain.EALLink{}, nil, apperr.Violation("link_ceiling",
			"Cannot link more EALs than required. Available: %d cases.", available)
	}

	for _, l := range linked {
		if l.Range.Overlaps(r) {
			return domain.EALLink{}, nil, apperr.Violation("link_overlap",
				"Serial range %s overlaps EALs already linked (%s).", r, l.Range)
		}
	}
	for _, it := range d.Items {
		for _, l := range it.EALLinks {
			if l.Range.Overlaps(r) {
				return domain.EALLink{}, nil, apperr.Violation("link_overlap",
					"Serial range %s overlaps EALs already linked (%s).", r, l.Range)
			}
		}
	}

	var source *domain.UsageRecord
	for i := range usages {
		u := &usages[i]
		if u.Item == item.Item && u.Company == d.Company && u.Market == d.Market && u.Range.Contains(r) {
			source = u
			break
		}
	}
	if source == nil {
		return domain.EALLink{}, nil, apperr.Violation("usage_source",
			"Serial range %s is not within any usage recorded for this item.", r)
	}
	if usedCases > source.BalanceQuantityInCases {
		return domain.EALLink{}, nil, apperr.Violation("usage_balance",
			"Usage %s has only %d cases left to link.", source.Range, source.BalanceQuantityInCases)
	}

	link := domain.EALLink{
		ID:           req.LinkID,
		Range:        r,
		UsageID:      source.ID,
		UsedQuantity: usedQuantity,
		UsedCases:    usedCases,
		LinkedBy:     req.By,
		LinkedAt:     req.At,
	}
	item.EALLinks = append(item.EALLinks, link)
	item.EALIssuedQuantity += usedCases
	d.EALIssuedTotalQuantity += usedCases
	d.UpdatedAt = req.At
	source.BalanceQuantityInCases -= usedCases
	return link, source, nil
}

// FindLink returns the link on itemID exactly matching r.
func FindLink(d domain.DispatchRecord, itemID string, r serial.Range) (domain.EALLink, error) {
	item, ok := d.ItemByID(itemID)
	if !ok {
		return domain.EALLink{}, apperr.Invalid("itemId", "item %s is not part of this dispatch", itemID)
	}
	for _, l := range item.EALLinks {
		if l.Range.Equal(r) {
			return l, nil
		}
	}
	return domain.EALLink{}, apperr.Violation("link_missing", "EAL range %s is not linked to this item.", r)
}

// RequireConfirmation guards destructive operations behind a typed phrase.
func RequireConfirmation(phrase, given string) error {
	if phrase == "" || given != phrase {
		return apperr.Invalid("confirmation", "type %q to confirm", phrase)
	}
	return nil
}

// Unlink releases the link on itemID matching r back to its usage record.
// usage must be the record the link was drawn from.
func Unlink(d *domain.DispatchRecord, itemID string, r serial.Range, usage *domain.UsageRecord, at time.Time) (domain.EALLink, error) {
	if d.Status != domain.DispatchFinal {
		return domain.EALLink{}, apperr.Violation("status", "EALs can only be unlinked while the dispatch is final.")
	}
	link, err := FindLink(*d, itemID, r)
	if err != nil {
		return domain.EALLink{}, err
	}
	if usage == nil || usage.ID != link.UsageID {
		return domain.EALLink{}, apperr.Violation("usage_source", "Usage record for %s does not match the link.", r)
	}

	item, _ := d.ItemByID(itemID)
	kept := item.EALLinks[:0]
	for _, l := range item.EALLinks {
		if l.ID != link.ID {
			kept = append(kept, l)
		}
	}
	item.EALLinks = kept
	item.EALIssuedQuantity -= link.UsedCases
	d.EALIssuedTotalQuantity -= link.UsedCases
	d.UpdatedAt = at
	usage.BalanceQuantityInCases += link.UsedCases
	return link, nil
}
