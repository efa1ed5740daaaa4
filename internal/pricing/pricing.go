package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"sewainaja/backend/internal/domain"
)

var (
	ErrInvalidRange     = errors.New("check-out must be after check-in")
	ErrBelowMinimumStay = errors.New("stay shorter than minimum nights")
	ErrDatesUnavailable = errors.New("dates unavailable")
	ErrPromoInvalid     = errors.New("promo code invalid")
)

const (
	RateFromOverride = "override"
	RateFromSeasonal = "seasonal"
	RateFromWeekend  = "weekend"
	RateFromBase     = "base"
)

// Night is one night of ledger state for the requested range, pre-fetched
// by the caller. A missing ledger row is represented as Available=true
// with no overrides.
type Night struct {
	Date              time.Time
	Available         bool
	PriceOverride     *int64
	MinNightsOverride *int
}

// Policy carries pricing behavior that is configuration, not data.
type Policy struct {
	// TouristTaxAllGuests controls whether children are counted for the
	// per-person tourist tax. The upstream semantics are unresolved, so
	// this stays a flag rather than a hard-coded interpretation.
	TouristTaxAllGuests bool
}

// Input is everything Compute needs. Callers fetch state themselves so
// that the same computation can run both outside and inside a storage
// transaction.
type Input struct {
	Listing       domain.Listing
	Nights        []Night
	Rules         []domain.SeasonalRule
	Promo         *domain.PromoCode
	GuestsCount   int
	ChildrenCount int
	Now           time.Time
	Policy        Policy
}

// Compute resolves the full pricing breakdown for a stay. It is pure:
// no storage access, no counters touched, safe to call repeatedly.
func Compute(in Input) (domain.PricingBreakdown, error) {
	if len(in.Nights) == 0 {
		return domain.PricingBreakdown{}, ErrInvalidRange
	}
	if in.GuestsCount < 1 {
		in.GuestsCount = 1
	}

	minNights := effectiveMinNights(in)
	if len(in.Nights) < minNights {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: %d night(s), minimum %d", ErrBelowMinimumStay, len(in.Nights), minNights)
	}

	for _, night := range in.Nights {
		if !night.Available {
			return domain.PricingBreakdown{}, ErrDatesUnavailable
		}
	}

	nightRates := make([]domain.NightRate, 0, len(in.Nights))
	nightlyTotal := int64(0)
	for _, night := range in.Nights {
		rate, from := nightRate(in.Listing, in.Rules, night)
		nightRates = append(nightRates, domain.NightRate{Date: night.Date, RateCents: rate, RateFrom: from})
		nightlyTotal += rate
	}

	taxable := in.GuestsCount
	if !in.Policy.TouristTaxAllGuests {
		taxable -= in.ChildrenCount
		if taxable < 0 {
			taxable = 0
		}
	}
	touristTax := in.Listing.TouristTaxPerPersonCents * int64(taxable) * int64(len(in.Nights))

	discount := int64(0)
	promoCode := ""
	if in.Promo != nil {
		if err := validatePromo(*in.Promo, in.Listing.ID, in.Now); err != nil {
			return domain.PricingBreakdown{}, err
		}
		discount = promoDiscount(*in.Promo, nightlyTotal)
		promoCode = in.Promo.Code
	}

	total := nightlyTotal + in.Listing.CleaningFeeCents + touristTax - discount
	if total < 0 {
		total = 0
	}

	checkIn := in.Nights[0].Date
	checkOut := in.Nights[len(in.Nights)-1].Date.AddDate(0, 0, 1)

	return domain.PricingBreakdown{
		ListingID:         in.Listing.ID,
		CheckIn:           checkIn,
		CheckOut:          checkOut,
		Nights:            len(in.Nights),
		GuestsCount:       in.GuestsCount,
		NightRates:        nightRates,
		NightlyTotalCents: nightlyTotal,
		CleaningFeeCents:  in.Listing.CleaningFeeCents,
		TouristTaxCents:   touristTax,
		DiscountCents:     discount,
		TotalCents:        total,
		Currency:          in.Listing.Currency,
		PromoCode:         promoCode,
	}, nil
}

// effectiveMinNights resolves the minimum stay: a ledger override on any
// night in range wins over a seasonal rule covering any night, which wins
// over the listing default. First match in date order wins.
func effectiveMinNights(in Input) int {
	for _, night := range in.Nights {
		if night.MinNightsOverride != nil && *night.MinNightsOverride > 0 {
			return *night.MinNightsOverride
		}
	}
	for _, night := range in.Nights {
		for _, rule := range in.Rules {
			if rule.Covers(night.Date) && rule.MinNightsOverride != nil && *rule.MinNightsOverride > 0 {
				return *rule.MinNightsOverride
			}
		}
	}
	if in.Listing.MinNights > 0 {
		return in.Listing.MinNights
	}
	return 1
}

func nightRate(listing domain.Listing, rules []domain.SeasonalRule, night Night) (int64, string) {
	if night.PriceOverride != nil && *night.PriceOverride > 0 {
		return *night.PriceOverride, RateFromOverride
	}
	for _, rule := range rules {
		if rule.Covers(night.Date) {
			return rule.NightlyRateCents, RateFromSeasonal
		}
	}
	if listing.WeekendRateCents > 0 && domain.IsWeekendRateNight(night.Date) {
		return listing.WeekendRateCents, RateFromWeekend
	}
	return listing.BaseRateCents, RateFromBase
}

func validatePromo(promo domain.PromoCode, listingID string, now time.Time) error {
	if !promo.Active {
		return fmt.Errorf("%w: not active", ErrPromoInvalid)
	}
	if now.Before(promo.ValidFrom) || now.After(promo.ValidUntil) {
		return fmt.Errorf("%w: outside validity window", ErrPromoInvalid)
	}
	if promo.MaxUses > 0 && promo.CurrentUses >= promo.MaxUses {
		return fmt.Errorf("%w: exhausted", ErrPromoInvalid)
	}
	if promo.ListingID != "" && promo.ListingID != listingID {
		return fmt.Errorf("%w: not valid for this listing", ErrPromoInvalid)
	}
	return nil
}

// promoDiscount applies a percent-of-subtotal or flat discount, never
// exceeding the subtotal.
func promoDiscount(promo domain.PromoCode, subtotal int64) int64 {
	var discount int64
	if promo.DiscountPercent > 0 {
		discount = int64(math.Round(float64(subtotal) * promo.DiscountPercent / 100))
	} else {
		discount = promo.FlatCents
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// NightsFromLedger builds per-night pricing inputs for [checkIn, checkOut)
// from whatever ledger rows exist. Dates without a row are free nights.
func NightsFromLedger(checkIn, checkOut time.Time, entries []domain.LedgerEntry) []Night {
	byDate := make(map[time.Time]domain.LedgerEntry, len(entries))
	for _, entry := range entries {
		byDate[domain.DateUTC(entry.Date)] = entry
	}

	dates := domain.NightsBetween(checkIn, checkOut)
	nights := make([]Night, 0, len(dates))
	for _, date := range dates {
		night := Night{Date: date, Available: true}
		if entry, ok := byDate[date]; ok {
			night.Available = entry.Available
			night.PriceOverride = entry.PriceOverride
			night.MinNightsOverride = entry.MinNightsOverride
		}
		nights = append(nights, night)
	}
	return nights
}
