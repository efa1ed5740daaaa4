package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"sewainaja/backend/internal/cache"
	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/pricing"
	"sewainaja/backend/internal/store"
	"sewainaja/backend/internal/xid"
)

// ErrForbidden is returned when the actor on the context lacks the role
// an operation requires.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo            store.Repository
	quotes          cache.QuoteCache
	logger          *log.Logger
	quoteTTL        time.Duration
	defaultCurrency string
	policy          pricing.Policy
}

func New(repo store.Repository, quotes cache.QuoteCache, logger *log.Logger, quoteTTL time.Duration, defaultCurrency string, policy pricing.Policy) *Service {
	if quotes == nil {
		quotes = cache.NoopQuoteCache{}
	}
	if logger == nil {
		logger = log.Default()
	}
	if quoteTTL <= 0 {
		quoteTTL = 30 * time.Second
	}
	if defaultCurrency == "" {
		defaultCurrency = "EUR"
	}

	return &Service{
		repo:            repo,
		quotes:          quotes,
		logger:          logger.With("component", "service"),
		quoteTTL:        quoteTTL,
		defaultCurrency: defaultCurrency,
		policy:          policy,
	}
}

func (s *Service) Policy() pricing.Policy {
	return s.policy
}

// Quote prices a stay without reserving anything. Results are cached
// briefly; the booking path recomputes inside its transaction, so a
// stale quote can never become a stale booking.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.PricingBreakdown, error) {
	checkIn, checkOut, err := parseStayRange(req.CheckIn, req.CheckOut)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}

	cacheKey := quoteCacheKey(req, checkIn, checkOut)
	if cached, ok, err := s.quotes.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	}

	listing, err := s.repo.GetListing(ctx, req.ListingID)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}
	if !listing.Active {
		return domain.PricingBreakdown{}, store.ErrNotFound
	}

	entries, err := s.repo.GetLedgerRange(ctx, listing.ID, checkIn, checkOut)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}
	rules, err := s.repo.ListSeasonalRules(ctx, listing.ID)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}

	var promo *domain.PromoCode
	if req.PromoCode != "" {
		promo, err = s.repo.GetPromo(ctx, req.PromoCode)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.PricingBreakdown{}, pricing.ErrPromoInvalid
			}
			return domain.PricingBreakdown{}, err
		}
	}

	breakdown, err := pricing.Compute(pricing.Input{
		Listing:       *listing,
		Nights:        pricing.NightsFromLedger(checkIn, checkOut, entries),
		Rules:         rules,
		Promo:         promo,
		GuestsCount:   req.GuestsCount,
		ChildrenCount: req.ChildrenCount,
		Now:           time.Now().UTC(),
		Policy:        s.policy,
	})
	if err != nil {
		return domain.PricingBreakdown{}, err
	}

	if err := s.quotes.Set(ctx, cacheKey, &breakdown, s.quoteTTL); err != nil {
		s.logger.Warn("quote cache write failed", "err", err)
	}
	return breakdown, nil
}

// Calendar returns the ledger rows for [start, end). Dates without a
// row are open at the listing's default rates.
func (s *Service) Calendar(ctx context.Context, listingID string, start string, end string) ([]domain.LedgerEntry, error) {
	from, to, err := parseStayRange(start, end)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.repo.GetLedgerRange(ctx, listingID, from, to)
}

func (s *Service) CreateBooking(ctx context.Context, req domain.BookingCreateRequest) (domain.Booking, error) {
	checkIn, checkOut, err := parseStayRange(req.CheckIn, req.CheckOut)
	if err != nil {
		return domain.Booking{}, err
	}
	if strings.TrimSpace(req.GuestName) == "" {
		return domain.Booking{}, store.ErrInvalidInput
	}

	origin := req.Origin
	if origin == "" {
		origin = domain.OriginDirect
	}
	// Direct bookings start pending until an operator confirms them;
	// manual bookings are confirmed on the spot by the operator taking
	// them. Feed and settlement origins never enter through this path.
	var status string
	switch origin {
	case domain.OriginDirect:
		status = domain.BookingStatusPending
	case domain.OriginManual:
		if _, ok := requireRole(ctx, "operator", "staff"); !ok {
			return domain.Booking{}, errForbidden("manual bookings require a signed-in user")
		}
		status = domain.BookingStatusConfirmed
	default:
		return domain.Booking{}, fmt.Errorf("%w: origin %q", store.ErrInvalidInput, origin)
	}

	booking, err := s.repo.CreateBooking(ctx, store.BookingIntent{
		ListingID:     req.ListingID,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		GuestName:     req.GuestName,
		GuestEmail:    strings.TrimSpace(req.GuestEmail),
		GuestPhone:    strings.TrimSpace(req.GuestPhone),
		GuestsCount:   req.GuestsCount,
		ChildrenCount: req.ChildrenCount,
		PromoCode:     req.PromoCode,
		PaymentMethod: req.PaymentMethod,
		Origin:        origin,
		Status:        status,
		Policy:        s.policy,
	})
	if err != nil {
		return domain.Booking{}, err
	}

	s.logAudit(ctx, "booking_create", "booking", booking.ID,
		fmt.Sprintf("listing=%s,nights=%d,total=%d", booking.ListingID, booking.Nights(), booking.TotalCents))
	return *booking, nil
}

func (s *Service) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	booking, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	return *booking, nil
}

func (s *Service) ListBookings(ctx context.Context, listingID string, limit int) ([]domain.Booking, error) {
	return s.repo.ListBookings(ctx, listingID, limit)
}

func (s *Service) CancelBooking(ctx context.Context, id string) (domain.Booking, error) {
	if _, ok := requireRole(ctx, "operator", "staff"); !ok {
		return domain.Booking{}, errForbidden("cancel requires a signed-in user")
	}

	booking, released, err := s.repo.CancelBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}

	s.logAudit(ctx, "booking_cancel", "booking", booking.ID, fmt.Sprintf("released_nights=%d", released))
	return *booking, nil
}

// statusTransitions lists the allowed next statuses per current status.
// Cancellation goes through CancelBooking so nights are released.
var statusTransitions = map[string][]string{
	domain.BookingStatusPending:   {domain.BookingStatusConfirmed},
	domain.BookingStatusConfirmed: {domain.BookingStatusCompleted, domain.BookingStatusNoShow},
}

func (s *Service) UpdateBookingStatus(ctx context.Context, id string, status string) (domain.Booking, error) {
	if _, ok := requireRole(ctx, "operator", "staff"); !ok {
		return domain.Booking{}, errForbidden("status change requires a signed-in user")
	}
	if status == domain.BookingStatusCancelled {
		return s.CancelBooking(ctx, id)
	}

	booking, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}

	allowed := false
	for _, next := range statusTransitions[booking.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Booking{}, fmt.Errorf("%w: cannot move booking from %s to %s", store.ErrInvalidInput, booking.Status, status)
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, id, status)
	if err != nil {
		return domain.Booking{}, err
	}

	s.logAudit(ctx, "booking_status", "booking", updated.ID, fmt.Sprintf("from=%s,to=%s", booking.Status, status))
	return *updated, nil
}

// Block marks a date range unavailable by operator decision. Manual
// rows outrank every other ledger source.
func (s *Service) Block(ctx context.Context, req domain.BlockRequest) (int, int, error) {
	if _, ok := requireRole(ctx, "operator", "staff"); !ok {
		return 0, 0, errForbidden("blocking requires a signed-in user")
	}
	start, end, err := parseStayRange(req.Start, req.End)
	if err != nil {
		return 0, 0, err
	}

	entries := make([]domain.LedgerEntry, 0, 8)
	for _, date := range domain.NightsBetween(start, end) {
		entries = append(entries, domain.LedgerEntry{
			ListingID: req.ListingID,
			Date:      date,
			Available: false,
			Source:    domain.SourceManual,
		})
	}
	written, skipped, err := s.repo.UpsertLedgerEntries(ctx, entries)
	if err != nil {
		return written, skipped, err
	}

	s.logAudit(ctx, "ledger_block", "listing", req.ListingID, fmt.Sprintf("start=%s,end=%s,written=%d", req.Start, req.End, written))
	return written, skipped, nil
}

// Unblock releases manual rows in the range. Rows held by bookings or
// feeds are left alone.
func (s *Service) Unblock(ctx context.Context, req domain.BlockRequest) (int, error) {
	if _, ok := requireRole(ctx, "operator", "staff"); !ok {
		return 0, errForbidden("unblocking requires a signed-in user")
	}
	start, end, err := parseStayRange(req.Start, req.End)
	if err != nil {
		return 0, err
	}

	released, err := s.repo.ReleaseLedgerDates(ctx, req.ListingID, domain.NightsBetween(start, end), domain.SourceManual, "")
	if err != nil {
		return released, err
	}

	s.logAudit(ctx, "ledger_unblock", "listing", req.ListingID, fmt.Sprintf("start=%s,end=%s,released=%d", req.Start, req.End, released))
	return released, nil
}

// SetOverrides writes per-night price or minimum-stay overrides while
// keeping the nights open for booking.
func (s *Service) SetOverrides(ctx context.Context, req domain.BlockRequest) (int, int, error) {
	if _, ok := requireRole(ctx, "operator", "staff"); !ok {
		return 0, 0, errForbidden("overrides require a signed-in user")
	}
	if req.PriceOverride == nil && req.MinNightsOverride == nil {
		return 0, 0, store.ErrInvalidInput
	}
	if req.PriceOverride != nil && *req.PriceOverride < 1 {
		return 0, 0, store.ErrInvalidInput
	}
	if req.MinNightsOverride != nil && *req.MinNightsOverride < 1 {
		return 0, 0, store.ErrInvalidInput
	}
	start, end, err := parseStayRange(req.Start, req.End)
	if err != nil {
		return 0, 0, err
	}

	entries := make([]domain.LedgerEntry, 0, 8)
	for _, date := range domain.NightsBetween(start, end) {
		entries = append(entries, domain.LedgerEntry{
			ListingID:         req.ListingID,
			Date:              date,
			Available:         true,
			PriceOverride:     req.PriceOverride,
			MinNightsOverride: req.MinNightsOverride,
			Source:            domain.SourceManual,
		})
	}
	written, skipped, err := s.repo.UpsertLedgerEntries(ctx, entries)
	if err != nil {
		return written, skipped, err
	}

	s.logAudit(ctx, "ledger_override", "listing", req.ListingID, fmt.Sprintf("start=%s,end=%s,written=%d", req.Start, req.End, written))
	return written, skipped, nil
}

func (s *Service) CreateListing(ctx context.Context, req domain.ListingCreateRequest) (domain.Listing, error) {
	if _, ok := requireRole(ctx, "operator"); !ok {
		return domain.Listing{}, errForbidden("operator role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.BaseRateCents < 1 {
		return domain.Listing{}, store.ErrInvalidInput
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	listing, err := s.repo.CreateListing(ctx, domain.Listing{
		Name:                     req.Name,
		Slug:                     strings.TrimSpace(req.Slug),
		BaseRateCents:            req.BaseRateCents,
		WeekendRateCents:         req.WeekendRateCents,
		CleaningFeeCents:         req.CleaningFeeCents,
		TouristTaxPerPersonCents: req.TouristTaxPerPersonCents,
		MinNights:                req.MinNights,
		Currency:                 currency,
		FeedURL:                  strings.TrimSpace(req.FeedURL),
	})
	if err != nil {
		return domain.Listing{}, err
	}

	s.logAudit(ctx, "listing_create", "listing", listing.ID, fmt.Sprintf("name=%s,base=%d", listing.Name, listing.BaseRateCents))
	return *listing, nil
}

func (s *Service) UpdateListing(ctx context.Context, id string, req domain.ListingUpdateRequest) (domain.Listing, error) {
	if _, ok := requireRole(ctx, "operator"); !ok {
		return domain.Listing{}, errForbidden("operator role required")
	}

	existing, err := s.repo.GetListing(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Listing{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.BaseRateCents != nil {
		if *req.BaseRateCents < 1 {
			return domain.Listing{}, store.ErrInvalidInput
		}
		updated.BaseRateCents = *req.BaseRateCents
	}
	if req.WeekendRateCents != nil {
		updated.WeekendRateCents = *req.WeekendRateCents
	}
	if req.CleaningFeeCents != nil {
		updated.CleaningFeeCents = *req.CleaningFeeCents
	}
	if req.TouristTaxPerPersonCents != nil {
		updated.TouristTaxPerPersonCents = *req.TouristTaxPerPersonCents
	}
	if req.MinNights != nil {
		if *req.MinNights < 1 {
			return domain.Listing{}, store.ErrInvalidInput
		}
		updated.MinNights = *req.MinNights
	}
	if req.FeedURL != nil {
		updated.FeedURL = strings.TrimSpace(*req.FeedURL)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateListing(ctx, updated)
	if err != nil {
		return domain.Listing{}, err
	}

	s.logAudit(ctx, "listing_update", "listing", saved.ID, fmt.Sprintf("active=%t,base=%d", saved.Active, saved.BaseRateCents))
	return *saved, nil
}

func (s *Service) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	listing, err := s.repo.GetListing(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	return *listing, nil
}

func (s *Service) ListListings(ctx context.Context, activeOnly bool) ([]domain.Listing, error) {
	return s.repo.ListListings(ctx, activeOnly)
}

func (s *Service) CreateSeasonalRule(ctx context.Context, req domain.SeasonalRuleCreateRequest) (domain.SeasonalRule, error) {
	if _, ok := requireRole(ctx, "operator"); !ok {
		return domain.SeasonalRule{}, errForbidden("operator role required")
	}

	start, err := parseDate(req.Start)
	if err != nil {
		return domain.SeasonalRule{}, err
	}
	end, err := parseDate(req.End)
	if err != nil {
		return domain.SeasonalRule{}, err
	}
	if end.Before(start) || req.NightlyRateCents < 1 {
		return domain.SeasonalRule{}, store.ErrInvalidInput
	}

	existing, err := s.repo.ListSeasonalRules(ctx, req.ListingID)
	if err != nil {
		return domain.SeasonalRule{}, err
	}
	for _, rule := range existing {
		if rule.Overlaps(start, end) {
			return domain.SeasonalRule{}, fmt.Errorf("%w: overlaps rule %s", store.ErrConflict, rule.ID)
		}
	}

	rule, err := s.repo.CreateSeasonalRule(ctx, domain.SeasonalRule{
		ListingID:         req.ListingID,
		Start:             start,
		End:               end,
		NightlyRateCents:  req.NightlyRateCents,
		MinNightsOverride: req.MinNights,
	})
	if err != nil {
		return domain.SeasonalRule{}, err
	}

	s.logAudit(ctx, "rule_create", "seasonal_rule", rule.ID, fmt.Sprintf("listing=%s,start=%s,end=%s", rule.ListingID, req.Start, req.End))
	return *rule, nil
}

func (s *Service) ListSeasonalRules(ctx context.Context, listingID string) ([]domain.SeasonalRule, error) {
	return s.repo.ListSeasonalRules(ctx, listingID)
}

func (s *Service) DeleteSeasonalRule(ctx context.Context, id string) error {
	if _, ok := requireRole(ctx, "operator"); !ok {
		return errForbidden("operator role required")
	}
	if err := s.repo.DeleteSeasonalRule(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "rule_delete", "seasonal_rule", id, "")
	return nil
}

func (s *Service) CreatePromo(ctx context.Context, req domain.PromoCreateRequest) (domain.PromoCode, error) {
	if _, ok := requireRole(ctx, "operator"); !ok {
		return domain.PromoCode{}, errForbidden("operator role required")
	}

	validFrom, err := parseDate(req.ValidFrom)
	if err != nil {
		return domain.PromoCode{}, err
	}
	validUntil, err := parseDate(req.ValidUntil)
	if err != nil {
		return domain.PromoCode{}, err
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 || req.FlatCents < 0 || req.MaxUses < 0 {
		return domain.PromoCode{}, store.ErrInvalidInput
	}

	promo, err := s.repo.CreatePromo(ctx, domain.PromoCode{
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		FlatCents:       req.FlatCents,
		ValidFrom:       validFrom,
		ValidUntil:      validUntil.AddDate(0, 0, 1).Add(-time.Second),
		MaxUses:         req.MaxUses,
		ListingID:       req.ListingID,
	})
	if err != nil {
		return domain.PromoCode{}, err
	}

	s.logAudit(ctx, "promo_create", "promo", promo.Code, fmt.Sprintf("pct=%.1f,flat=%d,max=%d", promo.DiscountPercent, promo.FlatCents, promo.MaxUses))
	return *promo, nil
}

func (s *Service) ListPromos(ctx context.Context) ([]domain.PromoCode, error) {
	if _, ok := requireRole(ctx, "operator", "staff"); !ok {
		return nil, errForbidden("promo listing requires a signed-in user")
	}
	return s.repo.ListPromos(ctx)
}

func (s *Service) SetPromoActive(ctx context.Context, code string, active bool) (domain.PromoCode, error) {
	if _, ok := requireRole(ctx, "operator"); !ok {
		return domain.PromoCode{}, errForbidden("operator role required")
	}
	promo, err := s.repo.SetPromoActive(ctx, code, active)
	if err != nil {
		return domain.PromoCode{}, err
	}
	s.logAudit(ctx, "promo_active", "promo", promo.Code, fmt.Sprintf("active=%t", active))
	return *promo, nil
}

func (s *Service) ListSyncLogs(ctx context.Context, listingID string, limit int) ([]domain.SyncLog, error) {
	if _, ok := requireRole(ctx, "operator", "staff"); !ok {
		return nil, errForbidden("sync logs require a signed-in user")
	}
	return s.repo.ListSyncLogs(ctx, listingID, limit)
}

func (s *Service) ListFinanceEntries(ctx context.Context, listingID string, limit int) ([]domain.FinanceEntry, error) {
	if _, ok := requireRole(ctx, "operator"); !ok {
		return nil, errForbidden("operator role required")
	}
	return s.repo.ListFinanceEntries(ctx, listingID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, ok := requireRole(ctx, "operator"); !ok {
		return nil, errForbidden("operator role required")
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed", "action", action, "entity", entityType+"/"+entityID, "err", err)
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, bool) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, false
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, true
		}
	}
	return domain.Actor{}, false
}

func errForbidden(msg string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, msg)
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", store.ErrInvalidInput, value)
	}
	return domain.DateUTC(t), nil
}

func parseStayRange(start string, end string) (time.Time, time.Time, error) {
	from, err := parseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, pricing.ErrInvalidRange
	}
	return from, to, nil
}

func quoteCacheKey(req domain.QuoteRequest, checkIn, checkOut time.Time) string {
	return fmt.Sprintf("quote:%s:%s:%s:%d:%d:%s",
		req.ListingID,
		checkIn.Format("20060102"),
		checkOut.Format("20060102"),
		req.GuestsCount,
		req.ChildrenCount,
		strings.ToUpper(strings.TrimSpace(req.PromoCode)))
}
