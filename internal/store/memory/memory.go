package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/pricing"
	"sewainaja/backend/internal/store"
	"sewainaja/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	listingsByID    map[string]domain.Listing
	ledger          map[string]map[time.Time]domain.LedgerEntry
	bookingsByID    map[string]*domain.Booking
	rulesByID       map[string]domain.SeasonalRule
	promosByCode    map[string]domain.PromoCode
	syncLogs        []domain.SyncLog
	financeEntries  []domain.FinanceEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		listingsByID:    make(map[string]domain.Listing),
		ledger:          make(map[string]map[time.Time]domain.LedgerEntry),
		bookingsByID:    make(map[string]*domain.Booking),
		rulesByID:       make(map[string]domain.SeasonalRule),
		promosByCode:    make(map[string]domain.PromoCode),
		syncLogs:        make([]domain.SyncLog, 0, 64),
		financeEntries:  make([]domain.FinanceEntry, 0, 64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_OPERATOR_PASSWORD and SEED_STAFF_PASSWORD;
// hardcoded dev defaults are used with a warning when unset. The memory
// store is never used in production (PostgreSQL takes over when
// DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OPERATOR_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OPERATOR_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"operator", operatorPwd, "operator"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	listings := []domain.Listing{
		{
			ID: "lst_villa_cempaka", Name: "Villa Cempaka", Slug: "villa-cempaka",
			BaseRateCents: 9500000, WeekendRateCents: 11000000, CleaningFeeCents: 2500000,
			TouristTaxPerPersonCents: 150000, MinNights: 2, Currency: "IDR", Active: true,
		},
		{
			ID: "lst_rumah_kayu", Name: "Rumah Kayu", Slug: "rumah-kayu",
			BaseRateCents: 6000000, CleaningFeeCents: 1500000,
			TouristTaxPerPersonCents: 100000, MinNights: 1, Currency: "IDR", Active: true,
		},
		{
			ID: "lst_studio_kota", Name: "Studio Kota", Slug: "studio-kota",
			BaseRateCents: 4200000, WeekendRateCents: 4800000, CleaningFeeCents: 900000,
			MinNights: 1, Currency: "IDR", Active: true,
		},
	}
	for _, l := range listings {
		s.listingsByID[l.ID] = l
		s.ledger[l.ID] = make(map[time.Time]domain.LedgerEntry)
	}
	return s
}

func (s *Store) CreateListing(_ context.Context, listing domain.Listing) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing.Name = strings.TrimSpace(listing.Name)
	if listing.Name == "" || listing.BaseRateCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if listing.ID == "" {
		listing.ID = xid.New("lst")
	}
	if listing.Slug == "" {
		listing.Slug = slugify(listing.Name)
	}
	if listing.MinNights < 1 {
		listing.MinNights = 1
	}
	listing.Active = true

	s.listingsByID[listing.ID] = listing
	s.ledger[listing.ID] = make(map[time.Time]domain.LedgerEntry)
	created := listing
	return &created, nil
}

func (s *Store) UpdateListing(_ context.Context, listing domain.Listing) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if listing.Name == "" || listing.BaseRateCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.listingsByID[listing.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.listingsByID[listing.ID] = listing
	updated := listing
	return &updated, nil
}

func (s *Store) GetListing(_ context.Context, id string) (*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, exists := s.listingsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyListing := listing
	return &copyListing, nil
}

func (s *Store) ListListings(_ context.Context, activeOnly bool) ([]domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]domain.Listing, 0, len(s.listingsByID))
	for _, l := range s.listingsByID {
		if activeOnly && !l.Active {
			continue
		}
		listings = append(listings, l)
	}
	slices.SortFunc(listings, func(a, b domain.Listing) int {
		return cmpString(a.Name, b.Name)
	})
	return listings, nil
}

func (s *Store) GetLedgerRange(_ context.Context, listingID string, start, end time.Time) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgerRangeLocked(listingID, start, end), nil
}

func (s *Store) ledgerRangeLocked(listingID string, start, end time.Time) []domain.LedgerEntry {
	entries := make([]domain.LedgerEntry, 0, 32)
	for _, date := range domain.NightsBetween(start, end) {
		if entry, ok := s.ledger[listingID][date]; ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (s *Store) UpsertLedgerEntries(_ context.Context, entries []domain.LedgerEntry) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written, skipped := 0, 0
	now := time.Now().UTC()
	for _, entry := range entries {
		if _, exists := s.listingsByID[entry.ListingID]; !exists {
			return written, skipped, store.ErrNotFound
		}
		date := domain.DateUTC(entry.Date)
		if s.ledger[entry.ListingID] == nil {
			s.ledger[entry.ListingID] = make(map[time.Time]domain.LedgerEntry)
		}
		if existing, ok := s.ledger[entry.ListingID][date]; ok {
			if !domain.CanOverwrite(existing, entry.Source, entry.BookingID, entry.ExternalRef) {
				skipped++
				continue
			}
		}
		entry.Date = date
		entry.UpdatedAt = now
		s.ledger[entry.ListingID][date] = entry
		written++
	}
	return written, skipped, nil
}

func (s *Store) ReleaseLedgerDates(_ context.Context, listingID string, dates []time.Time, source domain.LedgerSource, bookingID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseDatesLocked(listingID, dates, source, bookingID), nil
}

func (s *Store) releaseDatesLocked(listingID string, dates []time.Time, source domain.LedgerSource, bookingID string) int {
	released := 0
	for _, date := range dates {
		date = domain.DateUTC(date)
		entry, ok := s.ledger[listingID][date]
		if !ok {
			continue
		}
		if entry.Source != source {
			continue
		}
		if bookingID != "" && entry.BookingID != bookingID {
			continue
		}
		delete(s.ledger[listingID], date)
		released++
	}
	return released
}

func (s *Store) ExpireFeedBlocks(_ context.Context, listingID string, activeUIDs map[string]bool, today time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today = domain.DateUTC(today)
	now := time.Now().UTC()
	expired := 0
	for date, entry := range s.ledger[listingID] {
		if date.Before(today) {
			continue
		}
		if entry.Source != domain.SourceExternalFeedBlock {
			continue
		}
		if activeUIDs[entry.ExternalRef] {
			continue
		}
		entry.Available = true
		entry.Source = domain.SourceExpired
		entry.ExternalRef = ""
		entry.UpdatedAt = now
		s.ledger[listingID][date] = entry
		expired++
	}
	return expired, nil
}

func (s *Store) CreateBooking(_ context.Context, intent store.BookingIntent) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, exists := s.listingsByID[intent.ListingID]
	if !exists || !listing.Active {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(intent.GuestName) == "" {
		return nil, store.ErrInvalidInput
	}
	checkIn := domain.DateUTC(intent.CheckIn)
	checkOut := domain.DateUTC(intent.CheckOut)
	if !checkIn.Before(checkOut) {
		return nil, pricing.ErrInvalidRange
	}

	var promo *domain.PromoCode
	if intent.PromoCode != "" {
		p, exists := s.promosByCode[normalizeCode(intent.PromoCode)]
		if !exists {
			return nil, pricing.ErrPromoInvalid
		}
		promo = &p
	}

	rules := s.rulesForListingLocked(intent.ListingID)
	ledgerRows := s.ledgerRangeLocked(intent.ListingID, checkIn, checkOut)
	breakdown, err := pricing.Compute(pricing.Input{
		Listing:       listing,
		Nights:        pricing.NightsFromLedger(checkIn, checkOut, ledgerRows),
		Rules:         rules,
		Promo:         promo,
		GuestsCount:   intent.GuestsCount,
		ChildrenCount: intent.ChildrenCount,
		Now:           time.Now().UTC(),
		Policy:        intent.Policy,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	booking := &domain.Booking{
		ID:                xid.New("bk"),
		ListingID:         intent.ListingID,
		CheckIn:           checkIn,
		CheckOut:          checkOut,
		GuestName:         strings.TrimSpace(intent.GuestName),
		GuestEmail:        intent.GuestEmail,
		GuestPhone:        intent.GuestPhone,
		GuestsCount:       breakdown.GuestsCount,
		ChildrenCount:     intent.ChildrenCount,
		Status:            intent.Status,
		Origin:            intent.Origin,
		PaymentMethod:     intent.PaymentMethod,
		PromoCode:         breakdown.PromoCode,
		NightlyTotalCents: breakdown.NightlyTotalCents,
		CleaningFeeCents:  breakdown.CleaningFeeCents,
		TouristTaxCents:   breakdown.TouristTaxCents,
		DiscountCents:     breakdown.DiscountCents,
		TotalCents:        breakdown.TotalCents,
		Currency:          breakdown.Currency,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if booking.Origin == "" {
		booking.Origin = domain.OriginDirect
	}
	if booking.Status == "" {
		// Same rule as the service layer: direct stays pending until
		// confirmed, everything else is taken as confirmed.
		booking.Status = domain.BookingStatusConfirmed
		if booking.Origin == domain.OriginDirect {
			booking.Status = domain.BookingStatusPending
		}
	}

	for _, date := range domain.NightsBetween(checkIn, checkOut) {
		s.ledger[intent.ListingID][date] = domain.LedgerEntry{
			ListingID: intent.ListingID,
			Date:      date,
			Available: false,
			Source:    domain.SourceBooking,
			BookingID: booking.ID,
			UpdatedAt: now,
		}
	}

	if promo != nil {
		p := s.promosByCode[promo.Code]
		p.CurrentUses++
		s.promosByCode[promo.Code] = p
	}

	s.bookingsByID[booking.ID] = booking
	return cloneBooking(booking), nil
}

func (s *Store) CreateImportedBooking(_ context.Context, booking domain.Booking, source domain.LedgerSource) (*domain.Booking, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listingsByID[booking.ListingID]; !exists {
		return nil, 0, store.ErrNotFound
	}
	booking.CheckIn = domain.DateUTC(booking.CheckIn)
	booking.CheckOut = domain.DateUTC(booking.CheckOut)
	if !booking.CheckIn.Before(booking.CheckOut) {
		return nil, 0, store.ErrInvalidInput
	}
	if booking.ID == "" {
		booking.ID = xid.New("bk")
	}
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now
	if booking.Status == "" {
		booking.Status = domain.BookingStatusConfirmed
	}

	skipped := 0
	if s.ledger[booking.ListingID] == nil {
		s.ledger[booking.ListingID] = make(map[time.Time]domain.LedgerEntry)
	}
	for _, date := range domain.NightsBetween(booking.CheckIn, booking.CheckOut) {
		if existing, ok := s.ledger[booking.ListingID][date]; ok {
			if !domain.CanOverwrite(existing, source, booking.ID, booking.ExternalRef) {
				skipped++
				continue
			}
		}
		s.ledger[booking.ListingID][date] = domain.LedgerEntry{
			ListingID:   booking.ListingID,
			Date:        date,
			Available:   false,
			Source:      source,
			BookingID:   booking.ID,
			ExternalRef: booking.ExternalRef,
			UpdatedAt:   now,
		}
	}

	saved := booking
	s.bookingsByID[booking.ID] = &saved
	return cloneBooking(&saved), skipped, nil
}

func (s *Store) CancelBooking(_ context.Context, bookingID string) (*domain.Booking, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, exists := s.bookingsByID[bookingID]
	if !exists {
		return nil, 0, store.ErrNotFound
	}
	if booking.Status == domain.BookingStatusCancelled {
		return cloneBooking(booking), 0, nil
	}

	released := 0
	for _, date := range domain.NightsBetween(booking.CheckIn, booking.CheckOut) {
		entry, ok := s.ledger[booking.ListingID][date]
		if !ok || entry.BookingID != booking.ID {
			continue
		}
		delete(s.ledger[booking.ListingID], date)
		released++
	}

	booking.Status = domain.BookingStatusCancelled
	booking.UpdatedAt = time.Now().UTC()
	return cloneBooking(booking), released, nil
}

func (s *Store) UpdateBookingStatus(_ context.Context, bookingID string, status string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, exists := s.bookingsByID[bookingID]
	if !exists {
		return nil, store.ErrNotFound
	}
	booking.Status = status
	booking.UpdatedAt = time.Now().UTC()
	return cloneBooking(booking), nil
}

func (s *Store) UpdateBookingSettlement(_ context.Context, listingID string, externalRef string, patch store.SettlementPatch) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking := s.findByExternalRefLocked(listingID, externalRef)
	if booking == nil {
		return nil, store.ErrNotFound
	}
	if patch.GuestName != "" {
		booking.GuestName = patch.GuestName
	}
	if patch.PayoutCents > 0 {
		booking.TotalCents = patch.PayoutCents
	}
	if patch.GrossCents > 0 {
		booking.NightlyTotalCents = patch.GrossCents
	}
	if patch.Status != "" {
		booking.Status = patch.Status
	}
	booking.UpdatedAt = time.Now().UTC()
	return cloneBooking(booking), nil
}

func (s *Store) GetBookingByID(_ context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, exists := s.bookingsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneBooking(booking), nil
}

func (s *Store) GetBookingByExternalRef(_ context.Context, listingID string, externalRef string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking := s.findByExternalRefLocked(listingID, externalRef)
	if booking == nil {
		return nil, store.ErrNotFound
	}
	return cloneBooking(booking), nil
}

func (s *Store) findByExternalRefLocked(listingID string, externalRef string) *domain.Booking {
	if externalRef == "" {
		return nil
	}
	for _, booking := range s.bookingsByID {
		if booking.ListingID == listingID && booking.ExternalRef == externalRef {
			return booking
		}
	}
	return nil
}

func (s *Store) FindBookingByDates(_ context.Context, listingID string, checkIn, checkOut time.Time, origins []string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkIn = domain.DateUTC(checkIn)
	checkOut = domain.DateUTC(checkOut)
	for _, booking := range s.bookingsByID {
		if booking.ListingID != listingID || booking.Status == domain.BookingStatusCancelled {
			continue
		}
		if !booking.CheckIn.Equal(checkIn) || !booking.CheckOut.Equal(checkOut) {
			continue
		}
		if len(origins) > 0 && !slices.Contains(origins, booking.Origin) {
			continue
		}
		return cloneBooking(booking), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListBookings(_ context.Context, listingID string, limit int) ([]domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Booking, 0, 64)
	for _, booking := range s.bookingsByID {
		if listingID != "" && booking.ListingID != listingID {
			continue
		}
		result = append(result, *cloneBooking(booking))
	}
	slices.SortFunc(result, func(a, b domain.Booking) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateSeasonalRule(_ context.Context, rule domain.SeasonalRule) (*domain.SeasonalRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listingsByID[rule.ListingID]; !exists {
		return nil, store.ErrNotFound
	}
	if rule.End.Before(rule.Start) || rule.NightlyRateCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if rule.ID == "" {
		rule.ID = xid.New("rule")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	rule.Start = domain.DateUTC(rule.Start)
	rule.End = domain.DateUTC(rule.End)

	// Overlap is rejected under the store lock, mirroring the
	// exclusion constraint on the seasonal_rules table.
	for _, other := range s.rulesByID {
		if other.ListingID == rule.ListingID && other.Overlaps(rule.Start, rule.End) {
			return nil, store.ErrConflict
		}
	}

	s.rulesByID[rule.ID] = rule
	created := rule
	return &created, nil
}

func (s *Store) ListSeasonalRules(_ context.Context, listingID string) ([]domain.SeasonalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rulesForListingLocked(listingID), nil
}

func (s *Store) rulesForListingLocked(listingID string) []domain.SeasonalRule {
	rules := make([]domain.SeasonalRule, 0, 8)
	for _, rule := range s.rulesByID {
		if listingID != "" && rule.ListingID != listingID {
			continue
		}
		rules = append(rules, rule)
	}
	slices.SortFunc(rules, func(a, b domain.SeasonalRule) int {
		if a.Start.Equal(b.Start) {
			return cmpString(a.ID, b.ID)
		}
		if a.Start.Before(b.Start) {
			return -1
		}
		return 1
	})
	return rules
}

func (s *Store) DeleteSeasonalRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rulesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.rulesByID, id)
	return nil
}

func (s *Store) CreatePromo(_ context.Context, promo domain.PromoCode) (*domain.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo.Code = normalizeCode(promo.Code)
	if promo.Code == "" {
		return nil, store.ErrInvalidInput
	}
	if promo.DiscountPercent <= 0 && promo.FlatCents <= 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.promosByCode[promo.Code]; exists {
		return nil, store.ErrConflict
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	promo.Active = true

	s.promosByCode[promo.Code] = promo
	created := promo
	return &created, nil
}

func (s *Store) GetPromo(_ context.Context, code string) (*domain.PromoCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	promo, exists := s.promosByCode[normalizeCode(code)]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyPromo := promo
	return &copyPromo, nil
}

func (s *Store) ListPromos(_ context.Context) ([]domain.PromoCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	promos := make([]domain.PromoCode, 0, len(s.promosByCode))
	for _, promo := range s.promosByCode {
		promos = append(promos, promo)
	}
	slices.SortFunc(promos, func(a, b domain.PromoCode) int {
		return cmpString(a.Code, b.Code)
	})
	return promos, nil
}

func (s *Store) SetPromoActive(_ context.Context, code string, active bool) (*domain.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo, exists := s.promosByCode[normalizeCode(code)]
	if !exists {
		return nil, store.ErrNotFound
	}
	promo.Active = active
	s.promosByCode[promo.Code] = promo
	copyPromo := promo
	return &copyPromo, nil
}

func (s *Store) CreateSyncLog(_ context.Context, entry domain.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("sync")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.syncLogs = append(s.syncLogs, entry)
	return nil
}

func (s *Store) ListSyncLogs(_ context.Context, listingID string, limit int) ([]domain.SyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SyncLog, 0, 64)
	for _, entry := range s.syncLogs {
		if listingID != "" && entry.ListingID != listingID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.SyncLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateFinanceEntry(_ context.Context, entry domain.FinanceEntry) (*domain.FinanceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ListingID == "" || entry.AmountCents == 0 {
		return nil, store.ErrInvalidInput
	}
	if entry.Type != domain.FinanceEntryIncome && entry.Type != domain.FinanceEntryExpense {
		return nil, store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("fin")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.financeEntries = append(s.financeEntries, entry)
	created := entry
	return &created, nil
}

func (s *Store) ListFinanceEntries(_ context.Context, listingID string, limit int) ([]domain.FinanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FinanceEntry, 0, 64)
	for _, entry := range s.financeEntries {
		if listingID != "" && entry.ListingID != listingID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.FinanceEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	return slug
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneBooking(src *domain.Booking) *domain.Booking {
	if src == nil {
		return nil
	}
	dup := *src
	return &dup
}
