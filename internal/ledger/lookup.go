package ledger

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
)

// Directory resolves reference IDs to display names for narratives.
type Directory struct {
	Companies map[string]string
	Items     map[string]string
	Packs     map[string]string
}

func (d Directory) name(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

// LookupFilter narrows a lookup. Zero values match everything.
type LookupFilter struct {
	Company  string
	Market   domain.Market
	Pack     string
	UsedDate *time.Time
}

// LookupSet holds the records containing the looked-up serial in each
// ledger, as loaded by the caller.
type LookupSet struct {
	Issuances  []domain.IssuanceRecord
	Usages     []domain.UsageRecord
	Dispatches []domain.DispatchRecord
}

// Lookup reconstructs the lifecycle of serial n. With an empty prefix every
// prefix holding n produces its own result.
func Lookup(prefix string, n serial.Number, set LookupSet, f LookupFilter, dir Directory) []domain.EALLookupResult {
	prefixes := map[string]struct{}{}
	matchPrefix := func(p string) bool { return prefix == "" || p == prefix }

	issuances := make([]domain.IssuanceRecord, 0, len(set.Issuances))
	for _, iss := range set.Issuances {
		if !matchPrefix(iss.Prefix) || !iss.Range.ContainsSerial(iss.Prefix, n) {
			continue
		}
		if (f.Company != "" && iss.Company != f.Company) || (f.Market != "" && iss.Market != f.Market) || (f.Pack != "" && iss.Pack != f.Pack) {
			continue
		}
		issuances = append(issuances, iss)
		prefixes[iss.Prefix] = struct{}{}
	}

	usages := make([]domain.UsageRecord, 0, len(set.Usages))
	for _, u := range set.Usages {
		if !matchPrefix(u.Prefix) || !u.Range.ContainsSerial(u.Prefix, n) {
			continue
		}
		if (f.Company != "" && u.Company != f.Company) || (f.Market != "" && u.Market != f.Market) || (f.Pack != "" && u.Pack != f.Pack) {
			continue
		}
		if f.UsedDate != nil && !sameDay(u.DateUsed, *f.UsedDate) {
			continue
		}
		usages = append(usages, u)
		prefixes[u.Prefix] = struct{}{}
	}

	if f.UsedDate != nil {
		// A usedDate filter only makes sense for labels that were used.
		for p := range prefixes {
			if !slices.ContainsFunc(usages, func(u domain.UsageRecord) bool { return u.Prefix == p }) {
				delete(prefixes, p)
			}
		}
	}

	ordered := make([]string, 0, len(prefixes))
	for p := range prefixes {
		ordered = append(ordered, p)
	}
	slices.Sort(ordered)

	out := make([]domain.EALLookupResult, 0, len(ordered))
	for _, p := range ordered {
		res := domain.EALLookupResult{Prefix: p, Serial: n, Issuance: []domain.IssuanceRecord{}}
		for _, iss := range issuances {
			if iss.Prefix == p {
				res.Issuance = append(res.Issuance, iss)
			}
		}
		slices.SortFunc(res.Issuance, func(a, b domain.IssuanceRecord) int { return a.DateIssued.Compare(b.DateIssued) })

		var link *domain.EALLink
		for i := range usages {
			if usages[i].Prefix == p {
				u := usages[i]
				res.Usage = &u
				break
			}
		}
		if res.Usage != nil {
			for i := range set.Dispatches {
				if l, ok := linkContaining(set.Dispatches[i], p, n); ok {
					d := set.Dispatches[i]
					res.Dispatch = &d
					link = &l
					break
				}
			}
		}
		res.Narrative = narrate(p, n, res, link, dir)
		out = append(out, res)
	}
	return out
}

func linkContaining(d domain.DispatchRecord, prefix string, n serial.Number) (domain.EALLink, bool) {
	for _, it := range d.Items {
		for _, l := range it.EALLinks {
			if l.Range.ContainsSerial(prefix, n) {
				return l, true
			}
		}
	}
	return domain.EALLink{}, false
}

func narrate(prefix string, n serial.Number, res domain.EALLookupResult, link *domain.EALLink, dir Directory) string {
	var b strings.Builder
	label := serial.Format(prefix, n)

	if len(res.Issuance) == 0 {
		fmt.Fprintf(&b, "EAL %s has no issuance on record.", label)
	} else {
		iss := slices.MinFunc(res.Issuance, func(a, b domain.IssuanceRecord) int { return cmp.Compare(a.From, b.From) })
		fmt.Fprintf(&b, "EAL %s was created by %s on %s for %s, within the range %s → %s.",
			label, iss.CreatedBy, iss.DateIssued.Format(dateLayout), dir.name(dir.Companies, iss.Company),
			serial.Format(iss.Prefix, iss.From), serial.Format(iss.Prefix, iss.To))
	}

	if res.Usage == nil {
		b.WriteString(" It has not been used yet.")
		return b.String()
	}
	u := res.Usage
	fmt.Fprintf(&b, " It was allocated for the product %s (%s), recorded by %s on %s.",
		dir.name(dir.Items, u.Item), dir.name(dir.Packs, u.Pack), u.CreatedBy, u.DateUsed.Format(dateLayout))

	if res.Dispatch == nil || link == nil {
		b.WriteString(" It has not been dispatched yet.")
		return b.String()
	}
	fmt.Fprintf(&b, " It was dispatched on %s, and subsequently recorded by %s.",
		res.Dispatch.DateDispatched.Format(dateLayout), link.LinkedBy)
	return b.String()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
