package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/pricing"
	"sewainaja/backend/internal/store"
)

func newTestStore(t *testing.T) (*Store, domain.Listing) {
	t.Helper()
	s := New()
	listing, err := s.CreateListing(context.Background(), domain.Listing{
		Name:                     "Villa Uji",
		BaseRateCents:            20000,
		CleaningFeeCents:         5000,
		TouristTaxPerPersonCents: 500,
		MinNights:                1,
		Currency:                 "EUR",
	})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return s, *listing
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateBookingMarksLedger(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	booking, err := s.CreateBooking(ctx, store.BookingIntent{
		ListingID:   listing.ID,
		CheckIn:     date(2026, 3, 2),
		CheckOut:    date(2026, 3, 5),
		GuestName:   "Maria Oliveira",
		GuestsCount: 2,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	// 3 weekday nights at base rate, cleaning fee, tax for 2 guests.
	want := int64(3*20000 + 5000 + 500*2*3)
	if booking.TotalCents != want {
		t.Fatalf("total = %d, want %d", booking.TotalCents, want)
	}

	entries, err := s.GetLedgerRange(ctx, listing.ID, date(2026, 3, 2), date(2026, 3, 5))
	if err != nil {
		t.Fatalf("ledger range: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Available || entry.Source != domain.SourceBooking || entry.BookingID != booking.ID {
			t.Fatalf("unexpected ledger row: %+v", entry)
		}
	}
}

func TestOverlappingBookingRejected(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	first := store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 2), CheckOut: date(2026, 3, 5),
		GuestName: "First Guest",
	}
	if _, err := s.CreateBooking(ctx, first); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	second := store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 4), CheckOut: date(2026, 3, 6),
		GuestName: "Second Guest",
	}
	if _, err := s.CreateBooking(ctx, second); !errors.Is(err, pricing.ErrDatesUnavailable) {
		t.Fatalf("expected ErrDatesUnavailable, got %v", err)
	}

	// Non-overlapping range still books.
	third := store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 5), CheckOut: date(2026, 3, 7),
		GuestName: "Third Guest",
	}
	if _, err := s.CreateBooking(ctx, third); err != nil {
		t.Fatalf("adjacent booking should succeed: %v", err)
	}
}

func TestCreateBookingDefaultStatusByOrigin(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	direct, err := s.CreateBooking(ctx, store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 2), CheckOut: date(2026, 3, 4),
		GuestName: "Direct Guest",
	})
	if err != nil {
		t.Fatalf("direct booking: %v", err)
	}
	if direct.Origin != domain.OriginDirect || direct.Status != domain.BookingStatusPending {
		t.Fatalf("direct booking must default to pending, got %s/%s", direct.Origin, direct.Status)
	}

	manual, err := s.CreateBooking(ctx, store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 12),
		GuestName: "Walk-in Guest", Origin: domain.OriginManual,
	})
	if err != nil {
		t.Fatalf("manual booking: %v", err)
	}
	if manual.Status != domain.BookingStatusConfirmed {
		t.Fatalf("manual booking must default to confirmed, got %s", manual.Status)
	}
}

func TestConcurrentOverlappingBookingsSingleWinner(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	const racers = 8
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.CreateBooking(ctx, store.BookingIntent{
				ListingID: listing.ID, CheckIn: date(2026, 7, 1), CheckOut: date(2026, 7, 4),
				GuestName: "Racing Guest",
			})
		}(i)
	}
	wg.Wait()

	won, lost := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, pricing.ErrDatesUnavailable):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != racers-1 {
		t.Fatalf("exactly one booking may win the range: won=%d lost=%d", won, lost)
	}

	entries, _ := s.GetLedgerRange(ctx, listing.ID, date(2026, 7, 1), date(2026, 7, 4))
	if len(entries) != 3 {
		t.Fatalf("expected 3 held nights, got %d", len(entries))
	}
}

func TestConcurrentPromoRedemptionsHonorMaxUses(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	const maxUses = 3
	if _, err := s.CreatePromo(ctx, domain.PromoCode{
		Code:            "LASTFEW",
		DiscountPercent: 10,
		ValidFrom:       date(2026, 1, 1),
		ValidUntil:      date(2027, 1, 1),
		MaxUses:         maxUses,
	}); err != nil {
		t.Fatalf("create promo: %v", err)
	}

	// Disjoint date ranges so only the promo counter can reject.
	const racers = 8
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.CreateBooking(ctx, store.BookingIntent{
				ListingID: listing.ID,
				CheckIn:   date(2026, 8, 1+2*i),
				CheckOut:  date(2026, 8, 3+2*i),
				GuestName: "Promo Racer",
				PromoCode: "LASTFEW",
			})
		}(i)
	}
	wg.Wait()

	redeemed, rejected := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			redeemed++
		case errors.Is(err, pricing.ErrPromoInvalid):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if redeemed != maxUses || rejected != racers-maxUses {
		t.Fatalf("redemptions must stop at max_uses: redeemed=%d rejected=%d", redeemed, rejected)
	}

	promo, _ := s.GetPromo(ctx, "LASTFEW")
	if promo.CurrentUses != maxUses {
		t.Fatalf("current_uses=%d, want %d", promo.CurrentUses, maxUses)
	}
}

func TestCancelBookingReleasesNightsIdempotently(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	booking, err := s.CreateBooking(ctx, store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 2), CheckOut: date(2026, 3, 4),
		GuestName: "Guest",
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}

	cancelled, released, err := s.CancelBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.BookingStatusCancelled || released != 2 {
		t.Fatalf("cancel released %d nights, status %s", released, cancelled.Status)
	}

	again, released, err := s.CancelBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if released != 0 || again.Status != domain.BookingStatusCancelled {
		t.Fatalf("cancel must be idempotent, released %d", released)
	}

	// Dates are bookable again.
	if _, err := s.CreateBooking(ctx, store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 2), CheckOut: date(2026, 3, 4),
		GuestName: "New Guest",
	}); err != nil {
		t.Fatalf("rebooking released dates: %v", err)
	}
}

func TestImportedBookingSkipsHigherPrecedenceNights(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	// Operator blocks one night by hand.
	_, _, err := s.UpsertLedgerEntries(ctx, []domain.LedgerEntry{{
		ListingID: listing.ID, Date: date(2026, 4, 2), Available: false, Source: domain.SourceManual,
	}})
	if err != nil {
		t.Fatalf("manual block: %v", err)
	}

	_, skipped, err := s.CreateImportedBooking(ctx, domain.Booking{
		ListingID:   listing.ID,
		CheckIn:     date(2026, 4, 1),
		CheckOut:    date(2026, 4, 4),
		GuestName:   "Feed Guest",
		Origin:      domain.OriginExternalFeed,
		ExternalRef: "uid-1",
		Currency:    "EUR",
	}, domain.SourceExternalFeed)
	if err != nil {
		t.Fatalf("import booking: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("manual night must be skipped, got %d skipped", skipped)
	}

	entries, _ := s.GetLedgerRange(ctx, listing.ID, date(2026, 4, 1), date(2026, 4, 4))
	sources := map[domain.LedgerSource]int{}
	for _, entry := range entries {
		sources[entry.Source]++
	}
	if sources[domain.SourceManual] != 1 || sources[domain.SourceExternalFeed] != 2 {
		t.Fatalf("unexpected ledger sources: %v", sources)
	}
}

func TestManualOverwritesFeedBlock(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.UpsertLedgerEntries(ctx, []domain.LedgerEntry{{
		ListingID: listing.ID, Date: date(2026, 4, 10), Available: false,
		Source: domain.SourceExternalFeedBlock, ExternalRef: "uid-b",
	}}); err != nil {
		t.Fatalf("feed block: %v", err)
	}

	written, skipped, err := s.UpsertLedgerEntries(ctx, []domain.LedgerEntry{{
		ListingID: listing.ID, Date: date(2026, 4, 10), Available: false, Source: domain.SourceManual,
	}})
	if err != nil {
		t.Fatalf("manual overwrite: %v", err)
	}
	if written != 1 || skipped != 0 {
		t.Fatalf("manual must overwrite a feed block: written=%d skipped=%d", written, skipped)
	}

	entries, _ := s.GetLedgerRange(ctx, listing.ID, date(2026, 4, 10), date(2026, 4, 11))
	if len(entries) != 1 || entries[0].Source != domain.SourceManual {
		t.Fatalf("expected manual row, got %+v", entries)
	}
}

func TestExpireFeedBlocks(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.UpsertLedgerEntries(ctx, []domain.LedgerEntry{
		{ListingID: listing.ID, Date: date(2026, 5, 1), Available: false, Source: domain.SourceExternalFeedBlock, ExternalRef: "uid-keep"},
		{ListingID: listing.ID, Date: date(2026, 5, 2), Available: false, Source: domain.SourceExternalFeedBlock, ExternalRef: "uid-gone"},
		{ListingID: listing.ID, Date: date(2026, 4, 1), Available: false, Source: domain.SourceExternalFeedBlock, ExternalRef: "uid-past"},
	}); err != nil {
		t.Fatalf("seed blocks: %v", err)
	}

	expired, err := s.ExpireFeedBlocks(ctx, listing.ID, map[string]bool{"uid-keep": true}, date(2026, 4, 15))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("only the vanished future block should expire, got %d", expired)
	}

	entries, _ := s.GetLedgerRange(ctx, listing.ID, date(2026, 5, 2), date(2026, 5, 3))
	if len(entries) != 1 || !entries[0].Available || entries[0].Source != domain.SourceExpired {
		t.Fatalf("expired row should be available again: %+v", entries)
	}
}

func TestCreateSeasonalRuleRejectsOverlap(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSeasonalRule(ctx, domain.SeasonalRule{
		ListingID: listing.ID, Start: date(2026, 7, 1), End: date(2026, 8, 31), NightlyRateCents: 35000,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// The check runs inside the store, so two writers racing past the
	// service-level read still cannot both land.
	_, err := s.CreateSeasonalRule(ctx, domain.SeasonalRule{
		ListingID: listing.ID, Start: date(2026, 8, 15), End: date(2026, 9, 15), NightlyRateCents: 28000,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("overlapping rule must conflict, got %v", err)
	}

	// Same window on another listing is fine.
	other, err := s.CreateListing(ctx, domain.Listing{Name: "Rumah Dua", BaseRateCents: 15000, Currency: "EUR"})
	if err != nil {
		t.Fatalf("second listing: %v", err)
	}
	if _, err := s.CreateSeasonalRule(ctx, domain.SeasonalRule{
		ListingID: other.ID, Start: date(2026, 7, 1), End: date(2026, 8, 31), NightlyRateCents: 12000,
	}); err != nil {
		t.Fatalf("rule on other listing: %v", err)
	}
}

func TestPromoRedemptionCounts(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreatePromo(ctx, domain.PromoCode{
		Code:            "WELCOME10",
		DiscountPercent: 10,
		ValidFrom:       date(2026, 1, 1),
		ValidUntil:      date(2027, 1, 1),
		MaxUses:         1,
	})
	if err != nil {
		t.Fatalf("create promo: %v", err)
	}

	booking, err := s.CreateBooking(ctx, store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 2), CheckOut: date(2026, 3, 4),
		GuestName: "Promo Guest", PromoCode: "welcome10",
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	if booking.DiscountCents != 4000 {
		t.Fatalf("10%% of 40000 nightly subtotal, got %d", booking.DiscountCents)
	}

	promo, _ := s.GetPromo(ctx, "WELCOME10")
	if promo.CurrentUses != 1 {
		t.Fatalf("promo use not recorded: %d", promo.CurrentUses)
	}

	_, err = s.CreateBooking(ctx, store.BookingIntent{
		ListingID: listing.ID, CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 12),
		GuestName: "Late Guest", PromoCode: "WELCOME10",
	})
	if !errors.Is(err, pricing.ErrPromoInvalid) {
		t.Fatalf("exhausted promo must be rejected, got %v", err)
	}
}

func TestUpdateBookingSettlementPatches(t *testing.T) {
	s, listing := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateImportedBooking(ctx, domain.Booking{
		ListingID: listing.ID, CheckIn: date(2026, 6, 1), CheckOut: date(2026, 6, 3),
		GuestName: "External guest", ExternalRef: "HM123", Origin: domain.OriginExternalFeed,
		Currency: "EUR",
	}, domain.SourceExternalFeed)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	updated, err := s.UpdateBookingSettlement(ctx, listing.ID, "HM123", store.SettlementPatch{
		GuestName:   "Maria Oliveira",
		PayoutCents: 25500,
	})
	if err != nil {
		t.Fatalf("settlement patch: %v", err)
	}
	if updated.GuestName != "Maria Oliveira" || updated.TotalCents != 25500 {
		t.Fatalf("patch not applied: %+v", updated)
	}
	// Dates are untouched.
	if !updated.CheckIn.Equal(date(2026, 6, 1)) || !updated.CheckOut.Equal(date(2026, 6, 3)) {
		t.Fatalf("settlement patch must not move dates: %+v", updated)
	}
}
