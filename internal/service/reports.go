package service

import (
	"context"
	"strings"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
	"ealtrack/internal/ledger"
	"ealtrack/internal/serial"
)

// FindByEALNumber walks one label back through issuance, usage and
// dispatch. A bare serial yields one result per prefix that holds it.
func (s *Service) FindByEALNumber(ctx context.Context, req domain.EALLookupRequest) ([]domain.EALLookupResult, error) {
	if strings.TrimSpace(req.EALNumber) == "" {
		return nil, apperr.Invalid("ealNumber", "EAL Number is required")
	}
	prefix, n, err := serial.ParseEALNumber(req.EALNumber)
	if err != nil {
		return nil, err
	}
	filter := ledger.LookupFilter{
		Company: strings.TrimSpace(req.Company),
		Market:  domain.Market(strings.TrimSpace(req.Market)),
		Pack:    strings.TrimSpace(req.Pack),
	}
	if filter.Market != "" && !filter.Market.Valid() {
		return nil, apperr.Invalid("market", "market must be one of: local, export")
	}
	if strings.TrimSpace(req.UsedDate) != "" {
		usedDate, err := ledger.ParseDate("usedDate", req.UsedDate)
		if err != nil {
			return nil, err
		}
		filter.UsedDate = &usedDate
	}

	var set ledger.LookupSet
	if set.Issuances, err = s.repo.IssuancesContaining(ctx, prefix, n); err != nil {
		return nil, err
	}
	if set.Usages, err = s.repo.UsagesContaining(ctx, prefix, n); err != nil {
		return nil, err
	}
	if set.Dispatches, err = s.repo.DispatchesContaining(ctx, prefix, n); err != nil {
		return nil, err
	}
	dir, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.Lookup(prefix, n, set, filter, dir), nil
}

func (s *Service) directory(ctx context.Context) (ledger.Directory, error) {
	dir := ledger.Directory{Companies: map[string]string{}, Items: map[string]string{}, Packs: map[string]string{}}
	companies, err := s.repo.ListCompanies(ctx)
	if err != nil {
		return dir, err
	}
	for _, c := range companies {
		dir.Companies[c.ID] = c.Name
	}
	items, err := s.repo.ListItems(ctx, domain.ListFilter{})
	if err != nil {
		return dir, err
	}
	for _, it := range items {
		dir.Items[it.ID] = it.Name
	}
	packs, err := s.repo.ListPacks(ctx)
	if err != nil {
		return dir, err
	}
	for _, p := range packs {
		dir.Packs[p.ID] = p.Name
	}
	return dir, nil
}

// EALStock is the issuance balance view grouped by company, market and pack.
func (s *Service) EALStock(ctx context.Context, filter domain.ListFilter) ([]domain.IssuanceStock, error) {
	if filter.Market != "" && !filter.Market.Valid() {
		return nil, apperr.Invalid("market", "market must be one of: local, export")
	}
	issuances, err := s.repo.ListIssuances(ctx, filter)
	if err != nil {
		return nil, err
	}
	packs, err := s.repo.ListPacks(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Pack, len(packs))
	for _, p := range packs {
		byID[p.ID] = p
	}
	dir, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.IssuanceStock(issuances, byID, dir.Companies), nil
}

// FinishedStock is the produced-but-undispatched view grouped by company
// and item.
func (s *Service) FinishedStock(ctx context.Context, filter domain.ListFilter) ([]domain.FinishedStock, error) {
	usages, err := s.repo.ListUsages(ctx, filter)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, domain.ListFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	dir, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.FinishedStock(usages, byID, dir.Companies), nil
}

func (s *Service) Dashboard(ctx context.Context, filter domain.ListFilter) (domain.Dashboard, error) {
	issuances, err := s.repo.ListIssuances(ctx, filter)
	if err != nil {
		return domain.Dashboard{}, err
	}
	usages, err := s.repo.ListUsages(ctx, filter)
	if err != nil {
		return domain.Dashboard{}, err
	}
	dispatches, err := s.repo.ListDispatches(ctx, filter)
	if err != nil {
		return domain.Dashboard{}, err
	}
	return ledger.Summarize(issuances, usages, dispatches), nil
}
