package ledger

import (
	"strings"
	"time"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
)

// SetItems replaces the line items of a draft dispatch. Lines for items that
// were already present keep their EAL links.
func SetItems(d *domain.DispatchRecord, lines []domain.DispatchItemRequest) error {
	if d.Status != "" && d.Status != domain.DispatchDraft {
		return apperr.Violation("status", "Dispatch items can only be edited while the dispatch is draft.")
	}
	if len(lines) == 0 {
		return apperr.Invalid("items", "at least one item is required")
	}

	seen := make(map[string]struct{}, len(lines))
	items := make([]domain.DispatchItem, 0, len(lines))
	for _, line := range lines {
		if line.QuantityInCases <= 0 {
			return apperr.Invalid("quantityInCases", "quantity in cases must be positive for item %s", line.Item)
		}
		if _, dup := seen[line.Item]; dup {
			return apperr.Invalid("items", "item %s is listed more than once", line.Item)
		}
		seen[line.Item] = struct{}{}

		item := domain.DispatchItem{Item: line.Item, QuantityInCases: line.QuantityInCases, EALLinks: []domain.EALLink{}}
		if prev, ok := d.ItemByID(line.Item); ok {
			item.EALIssuedQuantity = prev.EALIssuedQuantity
			item.EALLinks = prev.EALLinks
		}
		if item.EALIssuedQuantity > item.QuantityInCases {
			return apperr.Violation("link_ceiling",
				"Item %s already has %d cases linked.", line.Item, item.EALIssuedQuantity)
		}
		items = append(items, item)
	}
	for _, prev := range d.Items {
		if _, kept := seen[prev.Item]; !kept && len(prev.EALLinks) > 0 {
			return apperr.Violation("link_orphan", "Item %s still has EALs linked and cannot be removed.", prev.Item)
		}
	}

	d.Items = items
	if d.Status == "" {
		d.Status = domain.DispatchDraft
	}
	Recompute(d)
	return nil
}

// Recompute refreshes the dispatch totals from its lines.
func Recompute(d *domain.DispatchRecord) {
	var total, linked int64
	for _, it := range d.Items {
		total += it.QuantityInCases
		linked += it.EALIssuedQuantity
	}
	d.TotalQuantity = total
	d.EALIssuedTotalQuantity = linked
}

// CanDelete reports whether d may be removed.
func CanDelete(d domain.DispatchRecord) error {
	if d.Status != domain.DispatchDraft {
		return apperr.Violation("status", "Only draft dispatches can be deleted.")
	}
	return nil
}

// Transition moves d to status to. vehicle is required, and only consulted,
// for the move to loaded.
func Transition(d *domain.DispatchRecord, to domain.DispatchStatus, vehicle *domain.VehicleDetails, at time.Time) error {
	switch to {
	case domain.DispatchDraft, domain.DispatchFinal, domain.DispatchLoaded:
	default:
		return apperr.Invalid("status", "unknown status %q", to)
	}
	from := d.Status
	if from == to {
		return apperr.Violation("status_transition", "Dispatch is already %s.", to)
	}

	switch {
	case from == domain.DispatchDraft && to == domain.DispatchFinal:
		if len(d.Items) == 0 {
			return apperr.Violation("dispatch_empty", "A dispatch needs at least one item before it can be finalized.")
		}
	case from == domain.DispatchFinal && to == domain.DispatchDraft:
		if d.EALIssuedTotalQuantity != 0 {
			return apperr.Violation("status_transition",
				"Cannot revert to draft: %d cases already have EALs linked.", d.EALIssuedTotalQuantity)
		}
	case from == domain.DispatchFinal && to == domain.DispatchLoaded:
		if d.EALIssuedTotalQuantity != d.TotalQuantity {
			return apperr.Violation("fulfillment",
				"Cannot mark as loaded: EALs linked for %d of %d cases.", d.EALIssuedTotalQuantity, d.TotalQuantity)
		}
		if err := checkVehicle(vehicle); err != nil {
			return err
		}
		v := *vehicle
		v.VehicleNumber = strings.TrimSpace(v.VehicleNumber)
		v.DriverName = strings.TrimSpace(v.DriverName)
		v.DriverContact = strings.TrimSpace(v.DriverContact)
		d.VehicleDetails = &v
	default:
		return apperr.Violation("status_transition", "Cannot change dispatch status from %s to %s.", from, to)
	}

	d.Status = to
	d.UpdatedAt = at
	return nil
}

func checkVehicle(v *domain.VehicleDetails) error {
	if v == nil {
		return apperr.Violation("vehicle_required", "Vehicle details are required to mark a dispatch as loaded.")
	}
	if strings.TrimSpace(v.VehicleNumber) == "" {
		return apperr.Invalid("vehicleNumber", "vehicle number is required")
	}
	if strings.TrimSpace(v.DriverName) == "" {
		return apperr.Invalid("driverName", "driver name is required")
	}
	if strings.TrimSpace(v.DriverContact) == "" {
		return apperr.Invalid("driverContact", "driver contact is required")
	}
	return nil
}

// CheckDispatch verifies the derived quantities of d. bottlesPerCase maps
// each item ID to its pack size.
func CheckDispatch(d domain.DispatchRecord, bottlesPerCase map[string]int64) error {
	var total, linked int64
	for _, it := range d.Items {
		total += it.QuantityInCases
		linked += it.EALIssuedQuantity

		bpc := bottlesPerCase[it.Item]
		if bpc <= 0 {
			return apperr.Violation("pack", "No pack size known for item %s.", it.Item)
		}
		var labels int64
		for _, l := range it.EALLinks {
			labels += l.Range.Length()
		}
		if labels%bpc != 0 || labels/bpc != it.EALIssuedQuantity {
			return apperr.Violation("link_total", "Item %s links %d labels but records %d cases.", it.Item, labels, it.EALIssuedQuantity)
		}
		if it.EALIssuedQuantity > it.QuantityInCases {
			return apperr.Violation("link_ceiling", "Item %s has more cases linked than dispatched.", it.Item)
		}
	}
	if total != d.TotalQuantity || linked != d.EALIssuedTotalQuantity {
		return apperr.Violation("dispatch_total", "Dispatch totals do not match its items.")
	}
	return nil
}
