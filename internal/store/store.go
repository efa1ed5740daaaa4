package store

import (
	"context"
	"errors"
	"time"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/pricing"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// BookingIntent is the input to the transactional booking path. Pricing
// is recomputed inside the storage transaction from this intent, so a
// quote shown earlier can never leak a stale price into a booking.
type BookingIntent struct {
	ListingID     string
	CheckIn       time.Time
	CheckOut      time.Time
	GuestName     string
	GuestEmail    string
	GuestPhone    string
	GuestsCount   int
	ChildrenCount int
	PromoCode     string
	PaymentMethod string
	Origin        string
	Status        string
	Policy        pricing.Policy
}

// SettlementPatch carries the fields a settlement re-import may update on
// an existing booking. Dates and night blocking are deliberately absent.
type SettlementPatch struct {
	GuestName   string
	PayoutCents int64
	GrossCents  int64
	Status      string
}

// Repository is the persistence contract shared by the in-memory and
// postgres stores. CreateBooking and CreateImportedBooking are the only
// paths that may mark ledger nights with a booking.
type Repository interface {
	CreateListing(ctx context.Context, listing domain.Listing) (*domain.Listing, error)
	UpdateListing(ctx context.Context, listing domain.Listing) (*domain.Listing, error)
	GetListing(ctx context.Context, id string) (*domain.Listing, error)
	ListListings(ctx context.Context, activeOnly bool) ([]domain.Listing, error)

	// GetLedgerRange returns existing ledger rows for [start, end) in
	// ascending date order. Dates without a row have no entry.
	GetLedgerRange(ctx context.Context, listingID string, start, end time.Time) ([]domain.LedgerEntry, error)
	// UpsertLedgerEntries writes entries one by one, honoring source
	// precedence. It returns how many rows were written and how many
	// were skipped because a higher-precedence row held the date.
	UpsertLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) (written int, skipped int, err error)
	// ReleaseLedgerDates frees rows on the given dates owned by source
	// (and bookingID, when set). Rows held by anything else are left
	// alone. Returns the number of rows released.
	ReleaseLedgerDates(ctx context.Context, listingID string, dates []time.Time, source domain.LedgerSource, bookingID string) (int, error)
	// ExpireFeedBlocks flips future external_feed_block rows whose feed
	// UID is absent from activeUIDs back to available with source
	// expired. Returns the number of rows expired.
	ExpireFeedBlocks(ctx context.Context, listingID string, activeUIDs map[string]bool, today time.Time) (int, error)

	// CreateBooking atomically re-checks availability, re-prices the
	// stay, inserts the booking plus one ledger row per night, and
	// redeems the promo code if any. Concurrent calls for overlapping
	// ranges on one listing cannot both succeed.
	CreateBooking(ctx context.Context, intent BookingIntent) (*domain.Booking, error)
	// CreateImportedBooking inserts a feed- or settlement-originated
	// booking and blocks its nights with the given source, skipping
	// (and counting) nights held by higher-precedence rows.
	CreateImportedBooking(ctx context.Context, booking domain.Booking, source domain.LedgerSource) (*domain.Booking, int, error)
	// CancelBooking marks the booking cancelled and releases the ledger
	// nights it owns. Cancelling an already-cancelled booking is a
	// no-op. Returns the booking and the number of nights released.
	CancelBooking(ctx context.Context, bookingID string) (*domain.Booking, int, error)
	UpdateBookingStatus(ctx context.Context, bookingID string, status string) (*domain.Booking, error)
	UpdateBookingSettlement(ctx context.Context, listingID string, externalRef string, patch SettlementPatch) (*domain.Booking, error)
	GetBookingByID(ctx context.Context, id string) (*domain.Booking, error)
	GetBookingByExternalRef(ctx context.Context, listingID string, externalRef string) (*domain.Booking, error)
	// FindBookingByDates returns a non-cancelled booking with the exact
	// [checkIn, checkOut) range among the given origins, or ErrNotFound.
	FindBookingByDates(ctx context.Context, listingID string, checkIn, checkOut time.Time, origins []string) (*domain.Booking, error)
	ListBookings(ctx context.Context, listingID string, limit int) ([]domain.Booking, error)

	CreateSeasonalRule(ctx context.Context, rule domain.SeasonalRule) (*domain.SeasonalRule, error)
	ListSeasonalRules(ctx context.Context, listingID string) ([]domain.SeasonalRule, error)
	DeleteSeasonalRule(ctx context.Context, id string) error

	CreatePromo(ctx context.Context, promo domain.PromoCode) (*domain.PromoCode, error)
	GetPromo(ctx context.Context, code string) (*domain.PromoCode, error)
	ListPromos(ctx context.Context) ([]domain.PromoCode, error)
	SetPromoActive(ctx context.Context, code string, active bool) (*domain.PromoCode, error)

	CreateSyncLog(ctx context.Context, entry domain.SyncLog) error
	ListSyncLogs(ctx context.Context, listingID string, limit int) ([]domain.SyncLog, error)

	CreateFinanceEntry(ctx context.Context, entry domain.FinanceEntry) (*domain.FinanceEntry, error)
	ListFinanceEntries(ctx context.Context, listingID string, limit int) ([]domain.FinanceEntry, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
