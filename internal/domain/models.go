package domain

import "time"

type Listing struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	Slug                     string `json:"slug"`
	BaseRateCents            int64  `json:"base_rate_cents"`
	WeekendRateCents         int64  `json:"weekend_rate_cents,omitempty"`
	CleaningFeeCents         int64  `json:"cleaning_fee_cents"`
	TouristTaxPerPersonCents int64  `json:"tourist_tax_per_person_cents"`
	MinNights                int    `json:"min_nights"`
	Currency                 string `json:"currency"`
	FeedURL                  string `json:"feed_url,omitempty"`
	Active                   bool   `json:"active"`
}

type ListingCreateRequest struct {
	Name                     string `json:"name"`
	Slug                     string `json:"slug"`
	BaseRateCents            int64  `json:"base_rate_cents"`
	WeekendRateCents         int64  `json:"weekend_rate_cents"`
	CleaningFeeCents         int64  `json:"cleaning_fee_cents"`
	TouristTaxPerPersonCents int64  `json:"tourist_tax_per_person_cents"`
	MinNights                int    `json:"min_nights"`
	Currency                 string `json:"currency"`
	FeedURL                  string `json:"feed_url"`
}

type ListingUpdateRequest struct {
	Name                     *string `json:"name,omitempty"`
	BaseRateCents            *int64  `json:"base_rate_cents,omitempty"`
	WeekendRateCents         *int64  `json:"weekend_rate_cents,omitempty"`
	CleaningFeeCents         *int64  `json:"cleaning_fee_cents,omitempty"`
	TouristTaxPerPersonCents *int64  `json:"tourist_tax_per_person_cents,omitempty"`
	MinNights                *int    `json:"min_nights,omitempty"`
	FeedURL                  *string `json:"feed_url,omitempty"`
	Active                   *bool   `json:"active,omitempty"`
}

// LedgerSource tags the provenance of a ledger row. Overwrite precedence
// between sources is a total order, see SourceRank.
type LedgerSource string

const (
	SourceManual            LedgerSource = "manual"
	SourceBooking           LedgerSource = "booking"
	SourceSettlementImport  LedgerSource = "settlement_import"
	SourceExternalFeed      LedgerSource = "external_feed"
	SourceExternalFeedBlock LedgerSource = "external_feed_block"
	SourceExpired           LedgerSource = "expired"
)

// SourceRank returns the overwrite precedence of a ledger source.
func SourceRank(s LedgerSource) int {
	switch s {
	case SourceManual:
		return 5
	case SourceBooking:
		return 4
	case SourceSettlementImport:
		return 3
	case SourceExternalFeed:
		return 2
	case SourceExternalFeedBlock:
		return 1
	default:
		return 0
	}
}

// CanOverwrite reports whether an incoming ledger write from source
// incoming, carrying bookingID/externalRef, may replace the existing row.
// A free row can always be taken; an occupied row only by an equal or
// higher ranked source, or by a write whose booking id / external ref
// matches the row's owner.
func CanOverwrite(existing LedgerEntry, incoming LedgerSource, bookingID string, externalRef string) bool {
	if existing.Available {
		return true
	}
	if SourceRank(incoming) >= SourceRank(existing.Source) {
		return true
	}
	if bookingID != "" && bookingID == existing.BookingID {
		return true
	}
	if externalRef != "" && externalRef == existing.ExternalRef {
		return true
	}
	return false
}

type LedgerEntry struct {
	ListingID         string       `json:"listing_id"`
	Date              time.Time    `json:"date"`
	Available         bool         `json:"available"`
	PriceOverride     *int64       `json:"price_override_cents,omitempty"`
	MinNightsOverride *int         `json:"min_nights_override,omitempty"`
	Source            LedgerSource `json:"source"`
	BookingID         string       `json:"booking_id,omitempty"`
	ExternalRef       string       `json:"external_ref,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
	BookingStatusCompleted = "completed"
	BookingStatusNoShow    = "no_show"
)

const (
	OriginDirect           = "direct"
	OriginManual           = "manual"
	OriginExternalFeed     = "external_feed"
	OriginSettlementImport = "settlement_import"
)

type Booking struct {
	ID                string    `json:"id"`
	ListingID         string    `json:"listing_id"`
	CheckIn           time.Time `json:"check_in"`
	CheckOut          time.Time `json:"check_out"`
	GuestName         string    `json:"guest_name"`
	GuestEmail        string    `json:"guest_email,omitempty"`
	GuestPhone        string    `json:"guest_phone,omitempty"`
	GuestsCount       int       `json:"guests_count"`
	ChildrenCount     int       `json:"children_count,omitempty"`
	Status            string    `json:"status"`
	Origin            string    `json:"origin"`
	PaymentMethod     string    `json:"payment_method,omitempty"`
	PromoCode         string    `json:"promo_code,omitempty"`
	ExternalRef       string    `json:"external_ref,omitempty"`
	NightlyTotalCents int64     `json:"nightly_total_cents"`
	CleaningFeeCents  int64     `json:"cleaning_fee_cents"`
	TouristTaxCents   int64     `json:"tourist_tax_cents"`
	DiscountCents     int64     `json:"discount_cents"`
	TotalCents        int64     `json:"total_cents"`
	Currency          string    `json:"currency"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Nights returns the number of nights covered by the booking.
func (b Booking) Nights() int {
	return int(DateUTC(b.CheckOut).Sub(DateUTC(b.CheckIn)).Hours() / 24)
}

type BookingCreateRequest struct {
	ListingID     string `json:"listing_id"`
	CheckIn       string `json:"check_in"`
	CheckOut      string `json:"check_out"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
	GuestPhone    string `json:"guest_phone"`
	GuestsCount   int    `json:"guests_count"`
	ChildrenCount int    `json:"children_count"`
	PromoCode     string `json:"promo_code"`
	PaymentMethod string `json:"payment_method"`
	Origin        string `json:"origin,omitempty"`
}

type BookingResponse struct {
	Booking Booking `json:"booking"`
}

type SeasonalRule struct {
	ID                string    `json:"id"`
	ListingID         string    `json:"listing_id"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	NightlyRateCents  int64     `json:"nightly_rate_cents"`
	MinNightsOverride *int      `json:"min_nights_override,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type SeasonalRuleCreateRequest struct {
	ListingID        string `json:"listing_id"`
	Start            string `json:"start"`
	End              string `json:"end"`
	NightlyRateCents int64  `json:"nightly_rate_cents"`
	MinNights        *int   `json:"min_nights,omitempty"`
}

// Covers reports whether date falls within the rule's inclusive range.
func (r SeasonalRule) Covers(date time.Time) bool {
	return !date.Before(r.Start) && !date.After(r.End)
}

// Overlaps reports whether two inclusive date ranges intersect.
func (r SeasonalRule) Overlaps(start, end time.Time) bool {
	return !r.End.Before(start) && !end.Before(r.Start)
}

type PromoCode struct {
	Code            string    `json:"code"`
	DiscountPercent float64   `json:"discount_percent,omitempty"`
	FlatCents       int64     `json:"flat_cents,omitempty"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	MaxUses         int       `json:"max_uses"`
	CurrentUses     int       `json:"current_uses"`
	ListingID       string    `json:"listing_id,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

type PromoCreateRequest struct {
	Code            string  `json:"code"`
	DiscountPercent float64 `json:"discount_percent"`
	FlatCents       int64   `json:"flat_cents"`
	ValidFrom       string  `json:"valid_from"`
	ValidUntil      string  `json:"valid_until"`
	MaxUses         int     `json:"max_uses"`
	ListingID       string  `json:"listing_id"`
}

type NightRate struct {
	Date      time.Time `json:"date"`
	RateCents int64     `json:"rate_cents"`
	RateFrom  string    `json:"rate_from"`
}

type PricingBreakdown struct {
	ListingID         string      `json:"listing_id"`
	CheckIn           time.Time   `json:"check_in"`
	CheckOut          time.Time   `json:"check_out"`
	Nights            int         `json:"nights"`
	GuestsCount       int         `json:"guests_count"`
	NightRates        []NightRate `json:"night_rates"`
	NightlyTotalCents int64       `json:"nightly_total_cents"`
	CleaningFeeCents  int64       `json:"cleaning_fee_cents"`
	TouristTaxCents   int64       `json:"tourist_tax_cents"`
	DiscountCents     int64       `json:"discount_cents"`
	TotalCents        int64       `json:"total_cents"`
	Currency          string      `json:"currency"`
	PromoCode         string      `json:"promo_code,omitempty"`
}

type QuoteRequest struct {
	ListingID     string `json:"listing_id"`
	CheckIn       string `json:"check_in"`
	CheckOut      string `json:"check_out"`
	GuestsCount   int    `json:"guests_count"`
	ChildrenCount int    `json:"children_count"`
	PromoCode     string `json:"promo_code"`
}

type BlockRequest struct {
	ListingID         string `json:"listing_id"`
	Start             string `json:"start"`
	End               string `json:"end"`
	PriceOverride     *int64 `json:"price_override_cents,omitempty"`
	MinNightsOverride *int   `json:"min_nights_override,omitempty"`
}

// FeedEvent is one normalized calendar feed event. End is exclusive,
// matching the [check_in, check_out) convention for bookings.
type FeedEvent struct {
	UID         string    `json:"uid"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Block       bool      `json:"block"`
	GuestName   string    `json:"guest_name"`
}

type SyncResult struct {
	ListingID string `json:"listing_id"`
	Found     int    `json:"found"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Expired   int    `json:"expired"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

type SyncLog struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	Found     int       `json:"found"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Expired   int       `json:"expired"`
	Skipped   int       `json:"skipped"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	FinanceEntryIncome  = "income"
	FinanceEntryExpense = "expense"
)

type FinanceEntry struct {
	ID          string    `json:"id"`
	ListingID   string    `json:"listing_id"`
	BookingID   string    `json:"booking_id,omitempty"`
	Type        string    `json:"type"`
	Label       string    `json:"label"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Estimated   bool      `json:"estimated"`
	CreatedAt   time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// DateUTC truncates t to midnight UTC. Every calendar date in the ledger
// is stored in this form.
func DateUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NightsBetween expands [start, end) into individual UTC dates.
func NightsBetween(start, end time.Time) []time.Time {
	start = DateUTC(start)
	end = DateUTC(end)
	if !start.Before(end) {
		return nil
	}
	nights := make([]time.Time, 0, int(end.Sub(start).Hours()/24))
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		nights = append(nights, d)
	}
	return nights
}

// IsWeekendRateNight reports whether the weekend rate applies to the
// night starting on date (Friday and Saturday nights).
func IsWeekendRateNight(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Friday || wd == time.Saturday
}
