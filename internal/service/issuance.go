package service

import (
	"context"
	"fmt"
	"strings"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
	"ealtrack/internal/ledger"
	"ealtrack/internal/lock"
	"ealtrack/internal/serial"
	"ealtrack/internal/store"
	"ealtrack/internal/xid"
)

func (s *Service) ListIssuances(ctx context.Context, filter domain.ListFilter) ([]domain.IssuanceRecord, error) {
	return s.repo.ListIssuances(ctx, filter)
}

// CreateIssuance records labels received from the excise authority. The
// second return value reports an idempotent replay of an earlier request.
func (s *Service) CreateIssuance(ctx context.Context, req domain.IssuanceCreateRequest) (rec domain.IssuanceRecord, duplicate bool, err error) {
	start := s.now()
	defer func() { s.observe("create_issuance", start, err, req) }()

	req.Company = strings.TrimSpace(req.Company)
	req.Pack = strings.TrimSpace(req.Pack)
	req.Prefix = strings.TrimSpace(req.Prefix)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err = s.validateStruct(req); err != nil {
		return domain.IssuanceRecord{}, false, err
	}
	r, err := serial.Parse(req.Prefix, req.SerialFrom, req.SerialTo)
	if err != nil {
		return domain.IssuanceRecord{}, false, err
	}
	dateIssued, err := ledger.ParseDate("dateIssued", req.DateIssued)
	if err != nil {
		return domain.IssuanceRecord{}, false, err
	}
	market := domain.Market(req.Market)
	built, err := ledger.NewIssuance(xid.New("iss"), req.Company, market, req.Pack, dateIssued, r, req.IssuedQuantity, actorName(ctx), s.now())
	if err != nil {
		return domain.IssuanceRecord{}, false, err
	}

	release, err := s.acquire(ctx, lock.PrefixKey(r.Prefix), lock.IssuancePoolKey(req.Company, req.Market, req.Pack))
	if err != nil {
		return domain.IssuanceRecord{}, false, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		prior, err := replay(ctx, tx, scopeIssuance, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if prior != "" {
			existing, err := tx.GetIssuance(ctx, prior)
			if err != nil {
				return err
			}
			rec, duplicate = *existing, true
			return nil
		}

		if _, err := tx.GetCompany(ctx, req.Company); err != nil {
			return notFound("company", req.Company, err)
		}
		if _, err := tx.GetPack(ctx, req.Pack); err != nil {
			return notFound("pack", req.Pack, err)
		}
		existing, err := tx.IssuancesOverlapping(ctx, r)
		if err != nil {
			return err
		}
		if err := ledger.CheckIssuanceOverlap(r, existing); err != nil {
			return err
		}
		if err := tx.InsertIssuance(ctx, built); err != nil {
			return err
		}
		if err := remember(ctx, tx, scopeIssuance, req.IdempotencyKey, built.ID); err != nil {
			return err
		}
		rec = built
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "issuance_create", "eal_issuance", built.ID,
			fmt.Sprintf("range=%s,quantity=%d,company=%s,pack=%s", r, built.IssuedQuantity, built.Company, built.Pack)))
	})
	if err != nil {
		return domain.IssuanceRecord{}, false, err
	}
	return rec, duplicate, nil
}

func (s *Service) ListUsages(ctx context.Context, filter domain.ListFilter) ([]domain.UsageRecord, error) {
	return s.repo.ListUsages(ctx, filter)
}

// CreateUsage draws a label range from the issuances that cover it and
// records it against produced cases of an item.
func (s *Service) CreateUsage(ctx context.Context, req domain.UsageCreateRequest) (rec domain.UsageRecord, duplicate bool, err error) {
	start := s.now()
	defer func() { s.observe("create_usage", start, err, req) }()

	req.Company = strings.TrimSpace(req.Company)
	req.Item = strings.TrimSpace(req.Item)
	req.Pack = strings.TrimSpace(req.Pack)
	req.Prefix = strings.TrimSpace(req.Prefix)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err = s.validateStruct(req); err != nil {
		return domain.UsageRecord{}, false, err
	}
	r, err := serial.Parse(req.Prefix, req.SerialFrom, req.SerialTo)
	if err != nil {
		return domain.UsageRecord{}, false, err
	}
	dateUsed, err := ledger.ParseDate("dateUsed", req.DateUsed)
	if err != nil {
		return domain.UsageRecord{}, false, err
	}

	release, err := s.acquire(ctx, lock.PrefixKey(r.Prefix), lock.IssuancePoolKey(req.Company, req.Market, req.Pack))
	if err != nil {
		return domain.UsageRecord{}, false, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		prior, err := replay(ctx, tx, scopeUsage, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if prior != "" {
			existing, err := tx.GetUsage(ctx, prior)
			if err != nil {
				return err
			}
			rec, duplicate = *existing, true
			return nil
		}

		if _, err := tx.GetCompany(ctx, req.Company); err != nil {
			return notFound("company", req.Company, err)
		}
		item, err := tx.GetItem(ctx, req.Item)
		if err != nil {
			return notFound("item", req.Item, err)
		}
		pack, err := tx.GetPack(ctx, req.Pack)
		if err != nil {
			return notFound("pack", req.Pack, err)
		}
		if item.Company != req.Company || string(item.Market) != req.Market || item.Pack != req.Pack {
			return apperr.Invalid("item", "Item %s does not belong to the selected company, market and pack", item.Name)
		}

		pool, err := tx.IssuancesOverlapping(ctx, r)
		if err != nil {
			return err
		}
		consumed, err := tx.UsagesOverlapping(ctx, r)
		if err != nil {
			return err
		}
		usage, err := ledger.DrawUsage(ledger.UsageInput{
			ID:                  xid.New("use"),
			Item:                *item,
			Pack:                *pack,
			DateUsed:            dateUsed,
			Range:               r,
			UsedQuantity:        req.UsedQuantity,
			UsedQuantityInCases: req.UsedQuantityInCases,
			By:                  actorName(ctx),
			At:                  s.now(),
		}, pool, consumed)
		if err != nil {
			return err
		}

		for _, src := range usage.Sources {
			for _, iss := range pool {
				if iss.ID == src.IssuanceID {
					if err := tx.UpdateIssuanceBalance(ctx, iss.ID, iss.BalanceQuantity); err != nil {
						return err
					}
					break
				}
			}
		}
		if err := tx.InsertUsage(ctx, usage); err != nil {
			return err
		}
		if err := remember(ctx, tx, scopeUsage, req.IdempotencyKey, usage.ID); err != nil {
			return err
		}
		rec = usage
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "usage_create", "eal_usage", usage.ID,
			fmt.Sprintf("range=%s,cases=%d,item=%s,sources=%d", r, usage.UsedQuantityInCases, usage.Item, len(usage.Sources))))
	})
	if err != nil {
		return domain.UsageRecord{}, false, err
	}
	return rec, duplicate, nil
}
