package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
	"ealtrack/internal/store"
)

func seedIssuance(t *testing.T, s *Store) domain.IssuanceRecord {
	t.Helper()
	rec := domain.IssuanceRecord{
		ID: "iss_1", Company: "cmp_acme", Market: domain.MarketLocal, Pack: "pck_650",
		DateIssued: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		Range:      serial.Range{Prefix: "ABC", From: 1, To: 120}, IssuedQuantity: 120, BalanceQuantity: 120,
	}
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertIssuance(context.Background(), rec)
	})
	if err != nil {
		t.Fatalf("insert issuance: %v", err)
	}
	return rec
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := New()
	seedIssuance(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateIssuanceBalance(ctx, "iss_1", 60); err != nil {
			return err
		}
		if err := tx.InsertDispatch(ctx, domain.DispatchRecord{ID: "dsp_1", Status: domain.DispatchDraft}); err != nil {
			return err
		}
		if err := tx.InsertAuditLog(ctx, domain.AuditLog{Action: "test"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	list, _ := s.ListIssuances(ctx, domain.ListFilter{})
	if len(list) != 1 || list[0].BalanceQuantity != 120 {
		t.Fatalf("expected balance restored, got %+v", list)
	}
	if _, err := s.GetDispatch(ctx, "dsp_1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected dispatch to be rolled back, got %v", err)
	}
	logs, _ := s.ListAuditLogs(ctx, time.Time{}, time.Now().Add(time.Hour), 0)
	if len(logs) != 0 {
		t.Fatalf("expected audit log to be rolled back, got %d", len(logs))
	}
}

func TestBalanceUpdatesRejectOutOfRangeValues(t *testing.T) {
	s := New()
	seedIssuance(t, s)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx store.Tx) error { return tx.UpdateIssuanceBalance(ctx, "iss_1", -1) })
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for negative balance, got %v", err)
	}
}

func TestDispatchReadsAreIsolatedCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := domain.DispatchRecord{
		ID:     "dsp_1",
		Status: domain.DispatchFinal,
		Items: []domain.DispatchItem{{Item: "itm_1", QuantityInCases: 2, EALLinks: []domain.EALLink{
			{ID: "lnk_1", Range: serial.Range{Prefix: "ABC", From: 1, To: 12}},
		}}},
	}
	if err := s.RunInTx(ctx, func(tx store.Tx) error { return tx.InsertDispatch(ctx, d) }); err != nil {
		t.Fatalf("insert dispatch: %v", err)
	}

	got, err := s.GetDispatch(ctx, "dsp_1")
	if err != nil {
		t.Fatalf("get dispatch: %v", err)
	}
	got.Items[0].EALLinks[0].To = 999

	again, _ := s.GetDispatch(ctx, "dsp_1")
	if again.Items[0].EALLinks[0].To != 12 {
		t.Fatalf("stored dispatch was mutated through a read copy")
	}

	found, _ := s.DispatchesContaining(ctx, "ABC", 7)
	if len(found) != 1 {
		t.Fatalf("expected serial lookup to find dispatch, got %d", len(found))
	}
	if found, _ := s.DispatchesContaining(ctx, "XYZ", 7); len(found) != 0 {
		t.Fatalf("expected no match for another prefix")
	}
}

func TestListFiltersByDateAndBalance(t *testing.T) {
	s := New()
	seedIssuance(t, s)
	ctx := context.Background()

	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	list, _ := s.ListIssuances(ctx, domain.ListFilter{StartDate: &from, EndDate: &from})
	if len(list) != 1 {
		t.Fatalf("inclusive date window should match the issuance day, got %d", len(list))
	}

	later := from.AddDate(0, 0, 1)
	list, _ = s.ListIssuances(ctx, domain.ListFilter{StartDate: &later})
	if len(list) != 0 {
		t.Fatalf("expected no issuances after the window start, got %d", len(list))
	}

	_ = s.RunInTx(ctx, func(tx store.Tx) error { return tx.UpdateIssuanceBalance(ctx, "iss_1", 0) })
	list, _ = s.ListIssuances(ctx, domain.ListFilter{BalanceOnly: true})
	if len(list) != 0 {
		t.Fatalf("balance filter should hide exhausted issuances")
	}
}

func TestIdempotencyKeysAreScoped(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.SaveIdempotencyKey(ctx, "issuance", "k1", "iss_1"); err != nil {
			return err
		}
		if err := tx.SaveIdempotencyKey(ctx, "usage", "k1", "use_1"); err != nil {
			return err
		}
		if err := tx.SaveIdempotencyKey(ctx, "issuance", "k1", "iss_2"); !errors.Is(err, store.ErrDuplicate) {
			t.Errorf("expected duplicate, got %v", err)
		}
		id, err := tx.FindIdempotencyKey(ctx, "usage", "k1")
		if err != nil || id != "use_1" {
			t.Errorf("unexpected lookup %q %v", id, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}
