package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/pricing"
	"sewainaja/backend/internal/store"
	"sewainaja/backend/internal/store/memory"
)

type stubCache struct {
	entries map[string]*domain.PricingBreakdown
	sets    int
	hits    int
}

func newStubCache() *stubCache {
	return &stubCache{entries: map[string]*domain.PricingBreakdown{}}
}

func (c *stubCache) Get(_ context.Context, key string) (*domain.PricingBreakdown, bool, error) {
	if breakdown, ok := c.entries[key]; ok {
		c.hits++
		return breakdown, true, nil
	}
	return nil, false, nil
}

func (c *stubCache) Set(_ context.Context, key string, breakdown *domain.PricingBreakdown, _ time.Duration) error {
	c.sets++
	c.entries[key] = breakdown
	return nil
}

func newTestService(t *testing.T) (*Service, *stubCache, domain.Listing) {
	t.Helper()
	repo := memory.New()
	listing, err := repo.CreateListing(context.Background(), domain.Listing{
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
	quotes := newStubCache()
	svc := New(repo, quotes, nil, time.Minute, "EUR", pricing.Policy{})
	return svc, quotes, *listing
}

func operatorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "dina", Role: "operator"})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "budi", Role: "staff"})
}

func TestQuoteComputesAndCaches(t *testing.T) {
	svc, quotes, listing := newTestService(t)
	req := domain.QuoteRequest{
		ListingID:   listing.ID,
		CheckIn:     "2026-03-02",
		CheckOut:    "2026-03-05",
		GuestsCount: 2,
	}

	first, err := svc.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 3 weekday nights at base rate, cleaning fee, tax for 2 guests.
	want := int64(3*20000 + 5000 + 500*2*3)
	if first.TotalCents != want {
		t.Fatalf("total = %d, want %d", first.TotalCents, want)
	}
	if quotes.sets != 1 {
		t.Fatalf("quote must be cached, sets=%d", quotes.sets)
	}

	second, err := svc.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("cached quote: %v", err)
	}
	if quotes.hits != 1 || second.TotalCents != first.TotalCents {
		t.Fatalf("second quote must hit the cache: hits=%d", quotes.hits)
	}
}

func TestQuoteRejectsInvertedRange(t *testing.T) {
	svc, _, listing := newTestService(t)
	_, err := svc.Quote(context.Background(), domain.QuoteRequest{
		ListingID: listing.ID,
		CheckIn:   "2026-03-05",
		CheckOut:  "2026-03-02",
	})
	if !errors.Is(err, pricing.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestQuoteUnknownPromoIsInvalid(t *testing.T) {
	svc, _, listing := newTestService(t)
	_, err := svc.Quote(context.Background(), domain.QuoteRequest{
		ListingID: listing.ID,
		CheckIn:   "2026-03-02",
		CheckOut:  "2026-03-04",
		PromoCode: "NOPE",
	})
	if !errors.Is(err, pricing.ErrPromoInvalid) {
		t.Fatalf("expected ErrPromoInvalid, got %v", err)
	}
}

func TestCreateBookingValidatesInput(t *testing.T) {
	svc, _, listing := newTestService(t)

	_, err := svc.CreateBooking(context.Background(), domain.BookingCreateRequest{
		ListingID: listing.ID,
		CheckIn:   "2026-03-02",
		CheckOut:  "2026-03-04",
		GuestName: "   ",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("blank guest name must be rejected, got %v", err)
	}

	booking, err := svc.CreateBooking(context.Background(), domain.BookingCreateRequest{
		ListingID:   listing.ID,
		CheckIn:     "2026-03-02",
		CheckOut:    "2026-03-04",
		GuestName:   "Maria Oliveira",
		GuestsCount: 2,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	if booking.Origin != domain.OriginDirect || booking.Status != domain.BookingStatusPending {
		t.Fatalf("unexpected booking defaults: %+v", booking)
	}
}

func TestCreateBookingStatusByOrigin(t *testing.T) {
	svc, _, listing := newTestService(t)

	direct, err := svc.CreateBooking(context.Background(), domain.BookingCreateRequest{
		ListingID: listing.ID, CheckIn: "2026-03-02", CheckOut: "2026-03-04", GuestName: "Maria Oliveira",
	})
	if err != nil {
		t.Fatalf("direct booking: %v", err)
	}
	if direct.Status != domain.BookingStatusPending {
		t.Fatalf("direct booking must start pending, got %q", direct.Status)
	}

	manual, err := svc.CreateBooking(staffCtx(), domain.BookingCreateRequest{
		ListingID: listing.ID, CheckIn: "2026-03-10", CheckOut: "2026-03-12",
		GuestName: "Walk-in Guest", Origin: domain.OriginManual,
	})
	if err != nil {
		t.Fatalf("manual booking: %v", err)
	}
	if manual.Status != domain.BookingStatusConfirmed {
		t.Fatalf("manual booking must be confirmed, got %q", manual.Status)
	}
}

func TestCreateBookingRejectsReservedOrigins(t *testing.T) {
	svc, _, listing := newTestService(t)

	for _, origin := range []string{domain.OriginExternalFeed, domain.OriginSettlementImport, "made-up"} {
		_, err := svc.CreateBooking(operatorCtx(), domain.BookingCreateRequest{
			ListingID: listing.ID, CheckIn: "2026-03-02", CheckOut: "2026-03-04",
			GuestName: "Guest", Origin: origin,
		})
		if !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("origin %q must be rejected, got %v", origin, err)
		}
	}
}

func TestCancelBookingRequiresActor(t *testing.T) {
	svc, _, listing := newTestService(t)
	booking, err := svc.CreateBooking(context.Background(), domain.BookingCreateRequest{
		ListingID: listing.ID, CheckIn: "2026-03-02", CheckOut: "2026-03-04", GuestName: "Guest",
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}

	if _, err := svc.CancelBooking(context.Background(), booking.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous cancel must be forbidden, got %v", err)
	}

	cancelled, err := svc.CancelBooking(staffCtx(), booking.ID)
	if err != nil {
		t.Fatalf("staff cancel: %v", err)
	}
	if cancelled.Status != domain.BookingStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
}

func TestUpdateBookingStatusTransitions(t *testing.T) {
	svc, _, listing := newTestService(t)
	booking, err := svc.CreateBooking(context.Background(), domain.BookingCreateRequest{
		ListingID: listing.ID, CheckIn: "2026-03-02", CheckOut: "2026-03-04", GuestName: "Guest",
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}

	// Pending bookings cannot skip straight to completed.
	if _, err := svc.UpdateBookingStatus(staffCtx(), booking.ID, domain.BookingStatusCompleted); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("pending booking must be confirmed first, got %v", err)
	}

	confirmed, err := svc.UpdateBookingStatus(staffCtx(), booking.ID, domain.BookingStatusConfirmed)
	if err != nil {
		t.Fatalf("pending to confirmed: %v", err)
	}
	if confirmed.Status != domain.BookingStatusConfirmed {
		t.Fatalf("status = %s", confirmed.Status)
	}

	completed, err := svc.UpdateBookingStatus(staffCtx(), booking.ID, domain.BookingStatusCompleted)
	if err != nil {
		t.Fatalf("confirmed to completed: %v", err)
	}
	if completed.Status != domain.BookingStatusCompleted {
		t.Fatalf("status = %s", completed.Status)
	}

	// Completed is terminal.
	if _, err := svc.UpdateBookingStatus(staffCtx(), booking.ID, domain.BookingStatusConfirmed); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("completed booking must not move back, got %v", err)
	}
}

func TestBlockAndUnblock(t *testing.T) {
	svc, _, listing := newTestService(t)
	req := domain.BlockRequest{ListingID: listing.ID, Start: "2026-04-01", End: "2026-04-04"}

	if _, _, err := svc.Block(context.Background(), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous block must be forbidden, got %v", err)
	}

	written, skipped, err := svc.Block(staffCtx(), req)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if written != 3 || skipped != 0 {
		t.Fatalf("written=%d skipped=%d, want 3/0", written, skipped)
	}

	// Blocked nights fail the quote path.
	_, err = svc.Quote(context.Background(), domain.QuoteRequest{
		ListingID: listing.ID, CheckIn: "2026-04-01", CheckOut: "2026-04-03",
	})
	if !errors.Is(err, pricing.ErrDatesUnavailable) {
		t.Fatalf("expected ErrDatesUnavailable, got %v", err)
	}

	released, err := svc.Unblock(staffCtx(), req)
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if released != 3 {
		t.Fatalf("released=%d, want 3", released)
	}
	if _, err := svc.Quote(context.Background(), domain.QuoteRequest{
		ListingID: listing.ID, CheckIn: "2026-04-01", CheckOut: "2026-04-03",
	}); err != nil {
		t.Fatalf("unblocked nights must quote again: %v", err)
	}
}

func TestSetOverridesChangesNightRate(t *testing.T) {
	svc, _, listing := newTestService(t)
	override := int64(30000)

	if _, _, err := svc.SetOverrides(staffCtx(), domain.BlockRequest{
		ListingID: listing.ID, Start: "2026-03-02", End: "2026-03-03",
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("override without values must be rejected, got %v", err)
	}

	written, _, err := svc.SetOverrides(staffCtx(), domain.BlockRequest{
		ListingID: listing.ID, Start: "2026-03-02", End: "2026-03-03", PriceOverride: &override,
	})
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	if written != 1 {
		t.Fatalf("written=%d, want 1", written)
	}

	quote, err := svc.Quote(context.Background(), domain.QuoteRequest{
		ListingID: listing.ID, CheckIn: "2026-03-02", CheckOut: "2026-03-03", GuestsCount: 1,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.NightlyTotalCents != 30000 {
		t.Fatalf("nightly total = %d, want override 30000", quote.NightlyTotalCents)
	}
}

func TestSeasonalRuleOverlapRejected(t *testing.T) {
	svc, _, listing := newTestService(t)
	ctx := operatorCtx()

	if _, err := svc.CreateSeasonalRule(ctx, domain.SeasonalRuleCreateRequest{
		ListingID: listing.ID, Start: "2026-07-01", End: "2026-08-31", NightlyRateCents: 35000,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	_, err := svc.CreateSeasonalRule(ctx, domain.SeasonalRuleCreateRequest{
		ListingID: listing.ID, Start: "2026-08-15", End: "2026-09-15", NightlyRateCents: 28000,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("overlapping rule must conflict, got %v", err)
	}

	// Staff cannot manage rules.
	_, err = svc.CreateSeasonalRule(staffCtx(), domain.SeasonalRuleCreateRequest{
		ListingID: listing.ID, Start: "2026-10-01", End: "2026-10-31", NightlyRateCents: 18000,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("staff rule creation must be forbidden, got %v", err)
	}
}

func TestUpdateListingPatchesFields(t *testing.T) {
	svc, _, listing := newTestService(t)
	newRate := int64(25000)
	inactive := false

	updated, err := svc.UpdateListing(operatorCtx(), listing.ID, domain.ListingUpdateRequest{
		BaseRateCents: &newRate,
		Active:        &inactive,
	})
	if err != nil {
		t.Fatalf("update listing: %v", err)
	}
	if updated.BaseRateCents != 25000 || updated.Active {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.Name != listing.Name {
		t.Fatalf("untouched field changed: %+v", updated)
	}

	blank := "  "
	if _, err := svc.UpdateListing(operatorCtx(), listing.ID, domain.ListingUpdateRequest{Name: &blank}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("blank name must be rejected, got %v", err)
	}
}

func TestPromoLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := operatorCtx()

	promo, err := svc.CreatePromo(ctx, domain.PromoCreateRequest{
		Code:            "welcome10",
		DiscountPercent: 10,
		ValidFrom:       "2026-01-01",
		ValidUntil:      "2026-12-31",
		MaxUses:         5,
	})
	if err != nil {
		t.Fatalf("create promo: %v", err)
	}
	if promo.Code != "WELCOME10" || !promo.Active {
		t.Fatalf("unexpected promo: %+v", promo)
	}

	disabled, err := svc.SetPromoActive(ctx, "WELCOME10", false)
	if err != nil {
		t.Fatalf("disable promo: %v", err)
	}
	if disabled.Active {
		t.Fatalf("promo still active")
	}

	if _, err := svc.ListPromos(context.Background()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous promo listing must be forbidden, got %v", err)
	}
}
