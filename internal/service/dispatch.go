package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
	"ealtrack/internal/ledger"
	"ealtrack/internal/lock"
	"ealtrack/internal/serial"
	"ealtrack/internal/store"
	"ealtrack/internal/xid"
)

func (s *Service) ListDispatches(ctx context.Context, filter domain.ListFilter) ([]domain.DispatchRecord, error) {
	return s.repo.ListDispatches(ctx, filter)
}

func (s *Service) GetDispatch(ctx context.Context, id string) (domain.DispatchRecord, error) {
	d, err := s.repo.GetDispatch(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.DispatchRecord{}, notFound("dispatch", id, err)
	}
	return *d, nil
}

func normalizeDispatchRequest(req *domain.DispatchRequest) {
	req.Company = strings.TrimSpace(req.Company)
	req.DeliveryTo = strings.TrimSpace(req.DeliveryTo)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	for i := range req.Items {
		req.Items[i].Item = strings.TrimSpace(req.Items[i].Item)
	}
}

// applyDispatchRequest resolves references and writes the header and lines
// of req onto d.
func (s *Service) applyDispatchRequest(ctx context.Context, tx store.Tx, d *domain.DispatchRecord, req domain.DispatchRequest) error {
	dateDispatched, err := ledger.ParseDate("dateDispatched", req.DateDispatched)
	if err != nil {
		return err
	}
	if _, err := tx.GetCompany(ctx, req.Company); err != nil {
		return notFound("company", req.Company, err)
	}
	if _, err := tx.GetDeliveryLocation(ctx, req.DeliveryTo); err != nil {
		return notFound("delivery location", req.DeliveryTo, err)
	}
	market := domain.Market(req.Market)
	for _, line := range req.Items {
		item, err := tx.GetItem(ctx, line.Item)
		if err != nil {
			return notFound("item", line.Item, err)
		}
		if item.Company != req.Company || item.Market != market {
			return apperr.Invalid("items", "Item %s does not belong to the selected company and market", item.Name)
		}
	}
	if d.Status != "" && d.Status != domain.DispatchDraft {
		return apperr.Violation("status", "Dispatch can only be edited while it is draft.")
	}

	d.Company = req.Company
	d.Market = market
	d.DeliveryTo = req.DeliveryTo
	d.DateDispatched = dateDispatched
	return ledger.SetItems(d, req.Items)
}

func (s *Service) CreateDispatch(ctx context.Context, req domain.DispatchRequest) (rec domain.DispatchRecord, duplicate bool, err error) {
	start := s.now()
	defer func() { s.observe("create_dispatch", start, err, req) }()

	normalizeDispatchRequest(&req)
	if err = s.validateStruct(req); err != nil {
		return domain.DispatchRecord{}, false, err
	}

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		prior, err := replay(ctx, tx, scopeDispatch, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if prior != "" {
			existing, err := tx.GetDispatch(ctx, prior)
			if err != nil {
				return err
			}
			rec, duplicate = *existing, true
			return nil
		}

		now := s.now()
		d := domain.DispatchRecord{
			ID:        xid.New("dsp"),
			CreatedBy: actorName(ctx),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.applyDispatchRequest(ctx, tx, &d, req); err != nil {
			return err
		}
		if err := tx.InsertDispatch(ctx, d); err != nil {
			return err
		}
		if err := remember(ctx, tx, scopeDispatch, req.IdempotencyKey, d.ID); err != nil {
			return err
		}
		rec = d
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "dispatch_create", "dispatch", d.ID,
			fmt.Sprintf("items=%d,cases=%d,deliveryTo=%s", len(d.Items), d.TotalQuantity, d.DeliveryTo)))
	})
	if err != nil {
		return domain.DispatchRecord{}, false, err
	}
	return rec, duplicate, nil
}

// UpdateDispatch replaces the header and lines of a draft dispatch.
func (s *Service) UpdateDispatch(ctx context.Context, id string, req domain.DispatchRequest) (rec domain.DispatchRecord, err error) {
	start := s.now()
	defer func() { s.observe("update_dispatch", start, err, req) }()

	id = strings.TrimSpace(id)
	normalizeDispatchRequest(&req)
	if err = s.validateStruct(req); err != nil {
		return domain.DispatchRecord{}, err
	}
	release, err := s.acquire(ctx, lock.DispatchKey(id))
	if err != nil {
		return domain.DispatchRecord{}, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDispatch(ctx, id)
		if err != nil {
			return notFound("dispatch", id, err)
		}
		if err := s.applyDispatchRequest(ctx, tx, d, req); err != nil {
			return err
		}
		d.UpdatedAt = s.now()
		if err := tx.SaveDispatch(ctx, *d); err != nil {
			return err
		}
		rec = *d
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "dispatch_update", "dispatch", d.ID,
			fmt.Sprintf("items=%d,cases=%d", len(d.Items), d.TotalQuantity)))
	})
	if err != nil {
		return domain.DispatchRecord{}, err
	}
	return rec, nil
}

func (s *Service) DeleteDispatch(ctx context.Context, id string) (err error) {
	start := s.now()
	defer func() { s.observe("delete_dispatch", start, err, id) }()

	id = strings.TrimSpace(id)
	release, err := s.acquire(ctx, lock.DispatchKey(id))
	if err != nil {
		return err
	}
	defer release()

	return s.repo.RunInTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDispatch(ctx, id)
		if err != nil {
			return notFound("dispatch", id, err)
		}
		if err := ledger.CanDelete(*d); err != nil {
			return err
		}
		if err := tx.DeleteDispatch(ctx, id); err != nil {
			return err
		}
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "dispatch_delete", "dispatch", id, fmt.Sprintf("cases=%d", d.TotalQuantity)))
	})
}

// UpdateDispatchStatus moves a dispatch between draft and final. Loading
// goes through AttachVehicle so vehicle details are always captured.
func (s *Service) UpdateDispatchStatus(ctx context.Context, id string, req domain.DispatchStatusRequest) (rec domain.DispatchRecord, err error) {
	start := s.now()
	defer func() { s.observe("update_dispatch_status", start, err, req) }()

	id = strings.TrimSpace(id)
	req.Status = strings.TrimSpace(req.Status)
	if err = s.validateStruct(req); err != nil {
		return domain.DispatchRecord{}, err
	}
	to := domain.DispatchStatus(req.Status)
	if to == domain.DispatchLoaded {
		return domain.DispatchRecord{}, apperr.Violation("vehicle_required", "Vehicle details are required to mark a dispatch as loaded.")
	}

	release, err := s.acquire(ctx, lock.DispatchKey(id))
	if err != nil {
		return domain.DispatchRecord{}, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDispatch(ctx, id)
		if err != nil {
			return notFound("dispatch", id, err)
		}
		from := d.Status
		if err := ledger.Transition(d, to, nil, s.now()); err != nil {
			return err
		}
		if err := tx.SaveDispatch(ctx, *d); err != nil {
			return err
		}
		rec = *d
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "dispatch_status", "dispatch", d.ID, fmt.Sprintf("from=%s,to=%s", from, to)))
	})
	if err != nil {
		return domain.DispatchRecord{}, err
	}
	return rec, nil
}

// AttachVehicle records the vehicle for a fully linked final dispatch and
// marks it loaded.
func (s *Service) AttachVehicle(ctx context.Context, id string, req domain.VehicleRequest) (rec domain.DispatchRecord, err error) {
	start := s.now()
	defer func() { s.observe("attach_vehicle", start, err, req) }()

	id = strings.TrimSpace(id)
	req.VehicleNumber = strings.TrimSpace(req.VehicleNumber)
	req.DriverName = strings.TrimSpace(req.DriverName)
	req.DriverContact = strings.TrimSpace(req.DriverContact)
	req.Status = strings.TrimSpace(req.Status)
	if err = s.validateStruct(req); err != nil {
		return domain.DispatchRecord{}, err
	}

	release, err := s.acquire(ctx, lock.DispatchKey(id))
	if err != nil {
		return domain.DispatchRecord{}, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDispatch(ctx, id)
		if err != nil {
			return notFound("dispatch", id, err)
		}
		bpc, err := bottlesPerCase(ctx, tx, *d)
		if err != nil {
			return err
		}
		if err := ledger.CheckDispatch(*d, bpc); err != nil {
			return err
		}
		vehicle := &domain.VehicleDetails{
			VehicleNumber: req.VehicleNumber,
			DriverName:    req.DriverName,
			DriverContact: req.DriverContact,
		}
		if err := ledger.Transition(d, domain.DispatchLoaded, vehicle, s.now()); err != nil {
			return err
		}
		if err := tx.SaveDispatch(ctx, *d); err != nil {
			return err
		}
		rec = *d
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "dispatch_loaded", "dispatch", d.ID,
			fmt.Sprintf("vehicle=%s,driver=%s", vehicle.VehicleNumber, vehicle.DriverName)))
	})
	if err != nil {
		return domain.DispatchRecord{}, err
	}
	return rec, nil
}

func bottlesPerCase(ctx context.Context, tx store.Tx, d domain.DispatchRecord) (map[string]int64, error) {
	out := make(map[string]int64, len(d.Items))
	for _, it := range d.Items {
		item, err := tx.GetItem(ctx, it.Item)
		if err != nil {
			return nil, notFound("item", it.Item, err)
		}
		pack, err := tx.GetPack(ctx, item.Pack)
		if err != nil {
			return nil, notFound("pack", item.Pack, err)
		}
		out[it.Item] = pack.BottlesPerCase
	}
	return out, nil
}

func normalizeLinkRequest(req *domain.EALLinkRequest) {
	req.DispatchID = strings.TrimSpace(req.DispatchID)
	req.ItemID = strings.TrimSpace(req.ItemID)
	req.Prefix = strings.TrimSpace(req.Prefix)
	req.SerialFrom = strings.TrimSpace(req.SerialFrom)
	req.SerialTo = strings.TrimSpace(req.SerialTo)
}

// LinkEAL allocates a case-aligned sub-range of a usage record to a line of
// a final dispatch.
func (s *Service) LinkEAL(ctx context.Context, req domain.EALLinkRequest) (resp domain.EALLinkResponse, err error) {
	start := s.now()
	defer func() { s.observe("link_eal", start, err, req) }()

	normalizeLinkRequest(&req)
	if err = s.validateStruct(req); err != nil {
		return domain.EALLinkResponse{}, err
	}
	r, err := serial.Parse(req.Prefix, req.SerialFrom, req.SerialTo)
	if err != nil {
		return domain.EALLinkResponse{}, err
	}

	// The source usage is resolved from committed state to pick the lock
	// key, then re-read inside the transaction.
	keys := []string{lock.DispatchKey(req.DispatchID)}
	candidates, err := s.repo.UsagesContaining(ctx, r.Prefix, r.From)
	if err != nil {
		return domain.EALLinkResponse{}, err
	}
	for _, u := range candidates {
		keys = append(keys, lock.UsageKey(u.ID))
	}
	release, err := s.acquire(ctx, keys...)
	if err != nil {
		return domain.EALLinkResponse{}, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDispatch(ctx, req.DispatchID)
		if err != nil {
			return notFound("dispatch", req.DispatchID, err)
		}
		item, err := tx.GetItem(ctx, req.ItemID)
		if err != nil {
			return notFound("item", req.ItemID, err)
		}
		pack, err := tx.GetPack(ctx, item.Pack)
		if err != nil {
			return notFound("pack", item.Pack, err)
		}
		usages, err := tx.UsagesOverlapping(ctx, r)
		if err != nil {
			return err
		}
		linked, err := tx.LinksOverlapping(ctx, r)
		if err != nil {
			return err
		}

		link, source, err := ledger.Link(d, ledger.LinkRequest{
			LinkID:         xid.New("lnk"),
			ItemID:         req.ItemID,
			Range:          r,
			BottlesPerCase: pack.BottlesPerCase,
			By:             actorName(ctx),
			At:             s.now(),
		}, usages, linked)
		if err != nil {
			return err
		}
		if !slices.Contains(keys, lock.UsageKey(source.ID)) {
			return fmt.Errorf("%w: usage %s changed while linking", store.ErrConflict, source.ID)
		}
		if err := tx.UpdateUsageBalance(ctx, source.ID, source.BalanceQuantityInCases); err != nil {
			return err
		}
		if err := tx.SaveDispatch(ctx, *d); err != nil {
			return err
		}
		if err := s.checkUsageBalance(ctx, tx, *source, pack.BottlesPerCase); err != nil {
			return err
		}
		resp = domain.EALLinkResponse{Message: "EAL linked successfully", UpdatedDispatch: *d}
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "eal_link", "dispatch", d.ID,
			fmt.Sprintf("item=%s,range=%s,cases=%d,usage=%s", req.ItemID, link.Range, link.UsedCases, link.UsageID)))
	})
	if err != nil {
		return domain.EALLinkResponse{}, err
	}
	return resp, nil
}

// UnlinkEAL releases a linked range back to its usage record. The caller
// must echo the configured confirmation phrase.
func (s *Service) UnlinkEAL(ctx context.Context, req domain.EALLinkRequest) (resp domain.EALLinkResponse, err error) {
	start := s.now()
	defer func() { s.observe("unlink_eal", start, err, req) }()

	normalizeLinkRequest(&req)
	if err = s.validateStruct(req); err != nil {
		return domain.EALLinkResponse{}, err
	}
	if err = ledger.RequireConfirmation(s.settings.UnlinkConfirmationPhrase, req.Confirmation); err != nil {
		return domain.EALLinkResponse{}, err
	}
	r, err := serial.Parse(req.Prefix, req.SerialFrom, req.SerialTo)
	if err != nil {
		return domain.EALLinkResponse{}, err
	}

	keys := []string{lock.DispatchKey(req.DispatchID)}
	current, err := s.repo.GetDispatch(ctx, req.DispatchID)
	if err != nil {
		return domain.EALLinkResponse{}, notFound("dispatch", req.DispatchID, err)
	}
	if l, err := ledger.FindLink(*current, req.ItemID, r); err == nil {
		keys = append(keys, lock.UsageKey(l.UsageID))
	}
	release, err := s.acquire(ctx, keys...)
	if err != nil {
		return domain.EALLinkResponse{}, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDispatch(ctx, req.DispatchID)
		if err != nil {
			return notFound("dispatch", req.DispatchID, err)
		}
		existing, err := ledger.FindLink(*d, req.ItemID, r)
		if err != nil {
			return err
		}
		if !slices.Contains(keys, lock.UsageKey(existing.UsageID)) {
			return fmt.Errorf("%w: link %s changed while unlinking", store.ErrConflict, r)
		}
		usage, err := tx.GetUsage(ctx, existing.UsageID)
		if err != nil {
			return notFound("usage", existing.UsageID, err)
		}
		link, err := ledger.Unlink(d, req.ItemID, r, usage, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateUsageBalance(ctx, usage.ID, usage.BalanceQuantityInCases); err != nil {
			return err
		}
		if err := tx.SaveDispatch(ctx, *d); err != nil {
			return err
		}
		pack, err := tx.GetPack(ctx, usage.Pack)
		if err != nil {
			return notFound("pack", usage.Pack, err)
		}
		if err := s.checkUsageBalance(ctx, tx, *usage, pack.BottlesPerCase); err != nil {
			return err
		}
		resp = domain.EALLinkResponse{Message: "EAL unlinked successfully", UpdatedDispatch: *d}
		return tx.InsertAuditLog(ctx, s.auditEntry(ctx, "eal_unlink", "dispatch", d.ID,
			fmt.Sprintf("item=%s,range=%s,cases=%d,usage=%s", req.ItemID, link.Range, link.UsedCases, link.UsageID)))
	})
	if err != nil {
		return domain.EALLinkResponse{}, err
	}
	return resp, nil
}

// checkUsageBalance re-verifies the usage ledger equation after a write.
// A mismatch here means the stored state drifted and the write is aborted.
func (s *Service) checkUsageBalance(ctx context.Context, tx store.Tx, u domain.UsageRecord, bottlesPerCase int64) error {
	links, err := tx.LinksOverlapping(ctx, u.Range)
	if err != nil {
		return err
	}
	if err := ledger.CheckUsageBalance(u, links, bottlesPerCase); err != nil {
		if errors.Is(err, apperr.ErrInvariant) {
			return fmt.Errorf("%w: %s", store.ErrConflict, err.Error())
		}
		return err
	}
	return nil
}
