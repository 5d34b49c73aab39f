package ledger

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"ealtrack/internal/domain"
)

// IssuanceStock groups issuance balances by company, market and pack.
// Cases are reported as decimals since a partially drawn issuance need not
// hold a whole number of cases.
func IssuanceStock(issuances []domain.IssuanceRecord, packs map[string]domain.Pack, companies map[string]string) []domain.IssuanceStock {
	type key struct {
		company string
		market  domain.Market
		pack    string
	}
	groups := map[key]*domain.IssuanceStock{}
	order := make([]key, 0)
	for _, iss := range issuances {
		k := key{iss.Company, iss.Market, iss.Pack}
		g, ok := groups[k]
		if !ok {
			pack := packs[iss.Pack]
			g = &domain.IssuanceStock{
				Company:        iss.Company,
				CompanyName:    companies[iss.Company],
				Market:         iss.Market,
				Pack:           iss.Pack,
				PackName:       pack.Name,
				BottlesPerCase: pack.BottlesPerCase,
				Entries:        []domain.IssuanceRecord{},
			}
			groups[k] = g
			order = append(order, k)
		}
		g.TotalBalance += iss.BalanceQuantity
		g.Entries = append(g.Entries, iss)
	}

	out := make([]domain.IssuanceStock, 0, len(order))
	for _, k := range order {
		g := groups[k]
		g.TotalBalanceInCases = decimal.Zero
		if g.BottlesPerCase > 0 {
			g.TotalBalanceInCases = decimal.NewFromInt(g.TotalBalance).DivRound(decimal.NewFromInt(g.BottlesPerCase), 2)
		}
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b domain.IssuanceStock) int {
		return cmp.Or(cmp.Compare(a.CompanyName, b.CompanyName), cmp.Compare(a.Market, b.Market), cmp.Compare(a.PackName, b.PackName))
	})
	return out
}

// FinishedStock groups usage balances (produced cases not yet linked to a
// dispatch) by company and item.
func FinishedStock(usages []domain.UsageRecord, items map[string]domain.Item, companies map[string]string) []domain.FinishedStock {
	type key struct{ company, item string }
	groups := map[key]*domain.FinishedStock{}
	order := make([]key, 0)
	for _, u := range usages {
		k := key{u.Company, u.Item}
		g, ok := groups[k]
		if !ok {
			g = &domain.FinishedStock{
				Company:     u.Company,
				CompanyName: companies[u.Company],
				Item:        u.Item,
				ItemName:    items[u.Item].Name,
				Entries:     []domain.UsageRecord{},
			}
			groups[k] = g
			order = append(order, k)
		}
		g.TotalBalanceInCases += u.BalanceQuantityInCases
		g.Entries = append(g.Entries, u)
	}

	out := make([]domain.FinishedStock, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	slices.SortFunc(out, func(a, b domain.FinishedStock) int {
		return cmp.Or(cmp.Compare(a.CompanyName, b.CompanyName), cmp.Compare(a.ItemName, b.ItemName))
	})
	return out
}

// Summarize computes dashboard totals over already filtered records.
func Summarize(issuances []domain.IssuanceRecord, usages []domain.UsageRecord, dispatches []domain.DispatchRecord) domain.Dashboard {
	out := domain.Dashboard{DispatchCountByStatus: map[domain.DispatchStatus]int64{
		domain.DispatchDraft:  0,
		domain.DispatchFinal:  0,
		domain.DispatchLoaded: 0,
	}}
	for _, iss := range issuances {
		out.LabelsIssued += iss.IssuedQuantity
		out.IssuanceBalance += iss.BalanceQuantity
	}
	for _, u := range usages {
		out.LabelsUsed += u.UsedQuantity
		out.CasesProduced += u.UsedQuantityInCases
		out.UsageBalanceInCases += u.BalanceQuantityInCases
	}
	for _, d := range dispatches {
		out.CasesDispatched += d.TotalQuantity
		out.CasesEALLinked += d.EALIssuedTotalQuantity
		out.DispatchCountByStatus[d.Status]++
	}
	return out
}
