package ledger

import (
	"cmp"
	"slices"
	"time"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
)

// UsageInput is a validated usage request resolved against reference data.
type UsageInput struct {
	ID                  string
	Item                domain.Item
	Pack                domain.Pack
	DateUsed            time.Time
	Range               serial.Range
	UsedQuantity        int64
	UsedQuantityInCases int64
	By                  string
	At                  time.Time
}

// DrawUsage records consumption of in.Range. pool holds the issuances of the
// same company/market/pack that overlap the range; consumed holds every usage
// record (any item) that overlaps it. On success the matching issuances in
// pool have their BalanceQuantity reduced and the returned record lists the
// slices it drew from. On error pool is left untouched.
func DrawUsage(in UsageInput, pool []domain.IssuanceRecord, consumed []domain.UsageRecord) (domain.UsageRecord, error) {
	r := in.Range
	if in.UsedQuantity != r.Length() {
		return domain.UsageRecord{}, apperr.Invalid("usedQuantity", "Used quantity and the serial numbers are not matching")
	}
	if in.UsedQuantityInCases <= 0 {
		return domain.UsageRecord{}, apperr.Invalid("usedQuantityInCases", "Used quantity in cases must be positive")
	}
	cases, err := r.ToCaseCount(in.Pack.BottlesPerCase)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if cases != in.UsedQuantityInCases {
		return domain.UsageRecord{}, apperr.Violation("case_quantity",
			"Serial range covers %d cases of %d bottles, but %d cases were entered.",
			cases, in.Pack.BottlesPerCase, in.UsedQuantityInCases)
	}

	for _, u := range consumed {
		if u.Range.Overlaps(r) {
			return domain.UsageRecord{}, apperr.Violation("usage_overlap",
				"Serial range %s overlaps usage %s recorded on %s.",
				r, u.Range, u.DateUsed.Format(dateLayout))
		}
	}

	candidates := make([]int, 0, len(pool))
	for i, iss := range pool {
		if iss.Company == in.Item.Company && iss.Market == in.Item.Market && iss.Pack == in.Pack.ID && iss.Range.Overlaps(r) {
			candidates = append(candidates, i)
		}
	}
	slices.SortFunc(candidates, func(a, b int) int { return cmp.Compare(pool[a].Range.From, pool[b].Range.From) })

	sources := make([]domain.UsageSource, 0, len(candidates))
	next := r.From
	for _, i := range candidates {
		part, _ := pool[i].Range.Intersect(r)
		if part.From > next {
			break
		}
		if part.Length() > pool[i].BalanceQuantity {
			return domain.UsageRecord{}, apperr.Violation("issuance_balance",
				"Issuance %s has only %d labels left.", pool[i].Range, pool[i].BalanceQuantity)
		}
		sources = append(sources, domain.UsageSource{IssuanceID: pool[i].ID, Range: part, Quantity: part.Length()})
		next = part.To + 1
	}
	if next <= r.To {
		return domain.UsageRecord{}, apperr.Violation("not_issued",
			"Serial %s was not issued for this company, market and pack.", serial.Format(r.Prefix, next))
	}

	byID := make(map[string]int, len(pool))
	for i := range pool {
		byID[pool[i].ID] = i
	}
	for _, src := range sources {
		pool[byID[src.IssuanceID]].BalanceQuantity -= src.Quantity
	}

	return domain.UsageRecord{
		ID:                     in.ID,
		Company:                in.Item.Company,
		Market:                 in.Item.Market,
		Item:                   in.Item.ID,
		Pack:                   in.Pack.ID,
		DateUsed:               in.DateUsed,
		Range:                  r,
		UsedQuantity:           in.UsedQuantity,
		UsedQuantityInCases:    in.UsedQuantityInCases,
		BalanceQuantityInCases: in.UsedQuantityInCases,
		Sources:                sources,
		CreatedBy:              in.By,
		CreatedAt:              in.At,
	}, nil
}

// CheckUsageBalance verifies that the usage balance plus everything linked
// from it accounts for exactly the labels it consumed.
func CheckUsageBalance(u domain.UsageRecord, links []domain.EALLink, bottlesPerCase int64) error {
	var linked int64
	for _, l := range links {
		if l.UsageID == u.ID {
			linked += l.UsedQuantity
		}
	}
	if u.BalanceQuantityInCases < 0 || u.BalanceQuantityInCases*bottlesPerCase+linked != u.UsedQuantity {
		return apperr.Violation("usage_balance",
			"Usage %s balance %d cases does not reconcile with %d linked labels.",
			u.Range, u.BalanceQuantityInCases, linked)
	}
	return nil
}
