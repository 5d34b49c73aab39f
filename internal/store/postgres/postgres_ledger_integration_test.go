package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"ealtrack/internal/domain"
	"ealtrack/internal/serial"
	"ealtrack/internal/store"
)

// testPrefix derives a three-letter prefix unlikely to collide with
// earlier runs against the same database.
func testPrefix(stamp int64) string {
	b := make([]byte, 3)
	for i := range b {
		b[i] = byte('A' + stamp%26)
		stamp /= 26
	}
	return string(b)
}

func TestLedgerRoundTripAndRollback(t *testing.T) {
	databaseURL := os.Getenv("EALTRACK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set EALTRACK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	prefix := testPrefix(stamp / 1000)
	issuanceID := fmt.Sprintf("iss_it_%d", stamp)
	usageID := fmt.Sprintf("use_it_%d", stamp)
	dispatchID := fmt.Sprintf("dsp_it_%d", stamp)
	at := time.Now().UTC().Truncate(time.Microsecond)
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE id = $1`, dispatchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM eal_usages WHERE id = $1`, usageID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM eal_issuances WHERE id = $1`, issuanceID)
	})

	issRange := serial.Range{Prefix: prefix, From: 1, To: 120}
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertIssuance(ctx, domain.IssuanceRecord{
			ID: issuanceID, Company: "cmp_acme", Market: domain.MarketLocal, Pack: "pck_650", DateIssued: day,
			Range: issRange, IssuedQuantity: 120, BalanceQuantity: 120, CreatedBy: "it", CreatedAt: at,
		})
	})
	if err != nil {
		t.Fatalf("insert issuance: %v", err)
	}

	boom := errors.New("boom")
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateIssuanceBalance(ctx, issuanceID, 0); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateIssuanceBalance(ctx, issuanceID, 96); err != nil {
			return err
		}
		if err := tx.InsertUsage(ctx, domain.UsageRecord{
			ID: usageID, Company: "cmp_acme", Market: domain.MarketLocal, Item: "itm_acme_lager_650", Pack: "pck_650",
			DateUsed: day, Range: serial.Range{Prefix: prefix, From: 1, To: 24}, UsedQuantity: 24,
			UsedQuantityInCases: 2, BalanceQuantityInCases: 1, CreatedBy: "it", CreatedAt: at,
			Sources: []domain.UsageSource{{IssuanceID: issuanceID, Range: serial.Range{Prefix: prefix, From: 1, To: 24}, Quantity: 24}},
		}); err != nil {
			return err
		}
		return tx.InsertDispatch(ctx, domain.DispatchRecord{
			ID: dispatchID, Company: "cmp_acme", Market: domain.MarketLocal, DeliveryTo: "dlv_central", DateDispatched: day,
			Status: domain.DispatchFinal, TotalQuantity: 2, EALIssuedTotalQuantity: 1, CreatedBy: "it", CreatedAt: at, UpdatedAt: at,
			Items: []domain.DispatchItem{{Item: "itm_acme_lager_650", QuantityInCases: 2, EALIssuedQuantity: 1, EALLinks: []domain.EALLink{{
				ID: fmt.Sprintf("lnk_it_%d", stamp), Range: serial.Range{Prefix: prefix, From: 1, To: 12}, UsageID: usageID,
				UsedQuantity: 12, UsedCases: 1, LinkedBy: "it", LinkedAt: at,
			}}}},
		})
	})
	if err != nil {
		t.Fatalf("ledger write: %v", err)
	}

	issuances, err := s.IssuancesContaining(ctx, prefix, 5)
	if err != nil || len(issuances) != 1 || issuances[0].BalanceQuantity != 96 {
		t.Fatalf("unexpected issuances %+v (%v)", issuances, err)
	}
	usages, err := s.UsagesContaining(ctx, prefix, 5)
	if err != nil || len(usages) != 1 || len(usages[0].Sources) != 1 {
		t.Fatalf("unexpected usages %+v (%v)", usages, err)
	}
	dispatches, err := s.DispatchesContaining(ctx, prefix, 5)
	if err != nil || len(dispatches) != 1 {
		t.Fatalf("unexpected dispatches %+v (%v)", dispatches, err)
	}
	links := dispatches[0].Items[0].EALLinks
	if len(links) != 1 || links[0].UsageID != usageID || links[0].To != 12 {
		t.Fatalf("unexpected links %+v", links)
	}

	err = s.RunInTx(ctx, func(tx store.Tx) error { return tx.UpdateUsageBalance(ctx, usageID, -1) })
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected negative balance to be rejected as conflict, got %v", err)
	}
}
