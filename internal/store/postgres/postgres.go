package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/pricing"
	"sewainaja/backend/internal/store"
	"sewainaja/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const listingColumns = `id, name, slug, base_rate_cents, weekend_rate_cents, cleaning_fee_cents,
	tourist_tax_per_person_cents, min_nights, currency, COALESCE(feed_url,''), active`

func (s *Store) CreateListing(ctx context.Context, listing domain.Listing) (*domain.Listing, error) {
	listing.Name = strings.TrimSpace(listing.Name)
	if listing.Name == "" || listing.BaseRateCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if listing.ID == "" {
		listing.ID = xid.New("lst")
	}
	if listing.Slug == "" {
		listing.Slug = strings.ReplaceAll(strings.ToLower(listing.Name), " ", "-")
	}
	if listing.MinNights < 1 {
		listing.MinNights = 1
	}
	listing.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, name, slug, base_rate_cents, weekend_rate_cents, cleaning_fee_cents,
			tourist_tax_per_person_cents, min_nights, currency, feed_url, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
	`, listing.ID, listing.Name, listing.Slug, listing.BaseRateCents, listing.WeekendRateCents,
		listing.CleaningFeeCents, listing.TouristTaxPerPersonCents, listing.MinNights,
		listing.Currency, nullIfEmpty(listing.FeedURL), listing.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := listing
	return &created, nil
}

func (s *Store) UpdateListing(ctx context.Context, listing domain.Listing) (*domain.Listing, error) {
	if listing.Name == "" || listing.BaseRateCents < 1 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET name = $2, base_rate_cents = $3, weekend_rate_cents = $4, cleaning_fee_cents = $5,
			tourist_tax_per_person_cents = $6, min_nights = $7, feed_url = $8, active = $9, updated_at = now()
		WHERE id = $1
	`, listing.ID, listing.Name, listing.BaseRateCents, listing.WeekendRateCents, listing.CleaningFeeCents,
		listing.TouristTaxPerPersonCents, listing.MinNights, nullIfEmpty(listing.FeedURL), listing.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := listing
	return &updated, nil
}

func (s *Store) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE id = $1
	`, id)
	return scanListing(row)
}

func (s *Store) ListListings(ctx context.Context, activeOnly bool) ([]domain.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
	`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listings := make([]domain.Listing, 0, 32)
	for rows.Next() {
		var l domain.Listing
		if err := rows.Scan(&l.ID, &l.Name, &l.Slug, &l.BaseRateCents, &l.WeekendRateCents, &l.CleaningFeeCents,
			&l.TouristTaxPerPersonCents, &l.MinNights, &l.Currency, &l.FeedURL, &l.Active); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listings, nil
}

const ledgerColumns = `listing_id, date, available, price_override_cents, min_nights_override,
	source, COALESCE(booking_id,''), COALESCE(external_ref,''), updated_at`

func (s *Store) GetLedgerRange(ctx context.Context, listingID string, start, end time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM availability_ledger
		WHERE listing_id = $1 AND date >= $2 AND date < $3
		ORDER BY date ASC
	`, listingID, domain.DateUTC(start), domain.DateUTC(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 32)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// distinctListingIDs returns the unique listing ids in the batch,
// sorted so advisory locks are always taken in the same order.
func distinctListingIDs(entries []domain.LedgerEntry) []string {
	seen := make(map[string]bool, len(entries))
	ids := make([]string, 0, 1)
	for _, entry := range entries {
		if !seen[entry.ListingID] {
			seen[entry.ListingID] = true
			ids = append(ids, entry.ListingID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) UpsertLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) (int, int, error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock every listing touched by the batch. Sorted order keeps two
	// concurrent mixed batches from deadlocking on each other.
	for _, listingID := range distinctListingIDs(entries) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, listingID); err != nil {
			return 0, 0, err
		}
	}

	written, skipped := 0, 0
	for _, entry := range entries {
		date := domain.DateUTC(entry.Date)
		existing, err := lockLedgerRow(ctx, tx, entry.ListingID, date)
		if err != nil {
			return written, skipped, err
		}
		if existing != nil && !domain.CanOverwrite(*existing, entry.Source, entry.BookingID, entry.ExternalRef) {
			skipped++
			continue
		}
		if err := upsertLedgerRow(ctx, tx, entry.ListingID, date, entry.Available, entry.PriceOverride,
			entry.MinNightsOverride, entry.Source, entry.BookingID, entry.ExternalRef); err != nil {
			return written, skipped, err
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, skipped, err
	}
	return written, skipped, nil
}

func (s *Store) ReleaseLedgerDates(ctx context.Context, listingID string, dates []time.Time, source domain.LedgerSource, bookingID string) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	released := 0
	for _, date := range dates {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM availability_ledger
			WHERE listing_id = $1 AND date = $2 AND source = $3
				AND ($4 = '' OR booking_id = $4)
		`, listingID, domain.DateUTC(date), string(source), bookingID)
		if err != nil {
			return released, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return released, err
		}
		released += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return released, err
	}
	return released, nil
}

func (s *Store) ExpireFeedBlocks(ctx context.Context, listingID string, activeUIDs map[string]bool, today time.Time) (int, error) {
	uids := make([]string, 0, len(activeUIDs))
	for uid := range activeUIDs {
		uids = append(uids, uid)
	}

	query := `
		UPDATE availability_ledger
		SET available = true, source = $3, external_ref = NULL, booking_id = NULL, updated_at = now()
		WHERE listing_id = $1 AND date >= $2 AND source = $4
	`
	args := []any{listingID, domain.DateUTC(today), string(domain.SourceExpired), string(domain.SourceExternalFeedBlock)}
	if len(uids) > 0 {
		query += ` AND NOT (external_ref = ANY($5))`
		args = append(args, uids)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreateBooking(ctx context.Context, intent store.BookingIntent) (*domain.Booking, error) {
	if strings.TrimSpace(intent.GuestName) == "" {
		return nil, store.ErrInvalidInput
	}
	checkIn := domain.DateUTC(intent.CheckIn)
	checkOut := domain.DateUTC(intent.CheckOut)
	if !checkIn.Before(checkOut) {
		return nil, pricing.ErrInvalidRange
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// One booking transaction per listing at a time. The advisory lock
	// serializes competing guests without locking other listings.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, intent.ListingID); err != nil {
		return nil, err
	}

	var listing domain.Listing
	err = tx.QueryRowContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE id = $1 AND active = true
	`, intent.ListingID).Scan(&listing.ID, &listing.Name, &listing.Slug, &listing.BaseRateCents,
		&listing.WeekendRateCents, &listing.CleaningFeeCents, &listing.TouristTaxPerPersonCents,
		&listing.MinNights, &listing.Currency, &listing.FeedURL, &listing.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	ledgerRows, err := lockLedgerRange(ctx, tx, intent.ListingID, checkIn, checkOut)
	if err != nil {
		return nil, err
	}

	rules, err := queryRulesInRange(ctx, tx, intent.ListingID, checkIn, checkOut)
	if err != nil {
		return nil, err
	}

	var promo *domain.PromoCode
	if intent.PromoCode != "" {
		promo, err = lockPromoRow(ctx, tx, intent.PromoCode)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, pricing.ErrPromoInvalid
			}
			return nil, err
		}
	}

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
	booking := domain.Booking{
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

	if err := insertBooking(ctx, tx, booking); err != nil {
		return nil, err
	}

	for _, date := range domain.NightsBetween(checkIn, checkOut) {
		err := upsertLedgerRow(ctx, tx, booking.ListingID, date, false, nil, nil,
			domain.SourceBooking, booking.ID, "")
		if err != nil {
			return nil, err
		}
	}

	if promo != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE promo_codes
			SET current_uses = current_uses + 1, updated_at = now()
			WHERE code = $1 AND active = true AND (max_uses = 0 OR current_uses < max_uses)
		`, promo.Code)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, pricing.ErrPromoInvalid
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *Store) CreateImportedBooking(ctx context.Context, booking domain.Booking, source domain.LedgerSource) (*domain.Booking, int, error) {
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, booking.ListingID); err != nil {
		return nil, 0, err
	}

	if err := insertBooking(ctx, tx, booking); err != nil {
		if isUniqueViolation(err) {
			return nil, 0, store.ErrConflict
		}
		return nil, 0, err
	}

	skipped := 0
	for _, date := range domain.NightsBetween(booking.CheckIn, booking.CheckOut) {
		existing, err := lockLedgerRow(ctx, tx, booking.ListingID, date)
		if err != nil {
			return nil, skipped, err
		}
		if existing != nil && !domain.CanOverwrite(*existing, source, booking.ID, booking.ExternalRef) {
			skipped++
			continue
		}
		err = upsertLedgerRow(ctx, tx, booking.ListingID, date, false, nil, nil, source, booking.ID, booking.ExternalRef)
		if err != nil {
			return nil, skipped, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, skipped, err
	}
	return &booking, skipped, nil
}

func (s *Store) CancelBooking(ctx context.Context, bookingID string) (*domain.Booking, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	booking, err := queryBooking(ctx, tx, `WHERE id = $1 FOR UPDATE`, bookingID)
	if err != nil {
		return nil, 0, err
	}
	if booking.Status == domain.BookingStatusCancelled {
		return booking, 0, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, booking.ListingID); err != nil {
		return nil, 0, err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM availability_ledger
		WHERE listing_id = $1 AND booking_id = $2
	`, booking.ListingID, booking.ID)
	if err != nil {
		return nil, 0, err
	}
	released, err := res.RowsAffected()
	if err != nil {
		return nil, 0, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1
	`, booking.ID, domain.BookingStatusCancelled)
	if err != nil {
		return nil, 0, err
	}
	booking.Status = domain.BookingStatusCancelled

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return booking, int(released), nil
}

func (s *Store) UpdateBookingStatus(ctx context.Context, bookingID string, status string) (*domain.Booking, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1
	`, bookingID, status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetBookingByID(ctx, bookingID)
}

func (s *Store) UpdateBookingSettlement(ctx context.Context, listingID string, externalRef string, patch store.SettlementPatch) (*domain.Booking, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET guest_name = CASE WHEN $3 <> '' THEN $3 ELSE guest_name END,
			total_cents = CASE WHEN $4 > 0 THEN $4 ELSE total_cents END,
			nightly_total_cents = CASE WHEN $5 > 0 THEN $5 ELSE nightly_total_cents END,
			status = CASE WHEN $6 <> '' THEN $6 ELSE status END,
			updated_at = now()
		WHERE listing_id = $1 AND external_ref = $2
	`, listingID, externalRef, patch.GuestName, patch.PayoutCents, patch.GrossCents, patch.Status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetBookingByExternalRef(ctx, listingID, externalRef)
}

func (s *Store) GetBookingByID(ctx context.Context, id string) (*domain.Booking, error) {
	return queryBooking(ctx, s.db, `WHERE id = $1`, id)
}

func (s *Store) GetBookingByExternalRef(ctx context.Context, listingID string, externalRef string) (*domain.Booking, error) {
	if externalRef == "" {
		return nil, store.ErrNotFound
	}
	return queryBooking(ctx, s.db, `WHERE listing_id = $1 AND external_ref = $2`, listingID, externalRef)
}

func (s *Store) FindBookingByDates(ctx context.Context, listingID string, checkIn, checkOut time.Time, origins []string) (*domain.Booking, error) {
	query := `WHERE listing_id = $1 AND check_in = $2 AND check_out = $3 AND status <> $4`
	args := []any{listingID, domain.DateUTC(checkIn), domain.DateUTC(checkOut), domain.BookingStatusCancelled}
	if len(origins) > 0 {
		query += ` AND origin = ANY($5)`
		args = append(args, origins)
	}
	return queryBooking(ctx, s.db, query, args...)
}

func (s *Store) ListBookings(ctx context.Context, listingID string, limit int) ([]domain.Booking, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE ($1 = '' OR listing_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0, limit)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *Store) CreateSeasonalRule(ctx context.Context, rule domain.SeasonalRule) (*domain.SeasonalRule, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seasonal_rules (id, listing_id, start_date, end_date, nightly_rate_cents, min_nights_override, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rule.ID, rule.ListingID, rule.Start, rule.End, rule.NightlyRateCents, nullIfNilInt(rule.MinNightsOverride), rule.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isExclusionViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := rule
	return &created, nil
}

func (s *Store) ListSeasonalRules(ctx context.Context, listingID string) ([]domain.SeasonalRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, listing_id, start_date, end_date, nightly_rate_cents, min_nights_override, created_at
		FROM seasonal_rules
		WHERE ($1 = '' OR listing_id = $1)
		ORDER BY start_date ASC, id ASC
	`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *Store) DeleteSeasonalRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM seasonal_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const promoColumns = `code, discount_percent, flat_cents, valid_from, valid_until, max_uses, current_uses, COALESCE(listing_id,''), active, created_at`

func (s *Store) CreatePromo(ctx context.Context, promo domain.PromoCode) (*domain.PromoCode, error) {
	promo.Code = strings.ToUpper(strings.TrimSpace(promo.Code))
	if promo.Code == "" {
		return nil, store.ErrInvalidInput
	}
	if promo.DiscountPercent <= 0 && promo.FlatCents <= 0 {
		return nil, store.ErrInvalidInput
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	promo.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promo_codes (code, discount_percent, flat_cents, valid_from, valid_until, max_uses, current_uses, listing_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9,now())
	`, promo.Code, promo.DiscountPercent, promo.FlatCents, promo.ValidFrom, promo.ValidUntil,
		promo.MaxUses, nullIfEmpty(promo.ListingID), promo.Active, promo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := promo
	return &created, nil
}

func (s *Store) GetPromo(ctx context.Context, code string) (*domain.PromoCode, error) {
	var promo domain.PromoCode
	err := s.db.QueryRowContext(ctx, `
		SELECT `+promoColumns+`
		FROM promo_codes
		WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(&promo.Code, &promo.DiscountPercent, &promo.FlatCents,
		&promo.ValidFrom, &promo.ValidUntil, &promo.MaxUses, &promo.CurrentUses, &promo.ListingID, &promo.Active, &promo.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	promo.ValidFrom = promo.ValidFrom.UTC()
	promo.ValidUntil = promo.ValidUntil.UTC()
	promo.CreatedAt = promo.CreatedAt.UTC()
	return &promo, nil
}

func (s *Store) ListPromos(ctx context.Context) ([]domain.PromoCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promoColumns+`
		FROM promo_codes
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	promos := make([]domain.PromoCode, 0, 32)
	for rows.Next() {
		var promo domain.PromoCode
		if err := rows.Scan(&promo.Code, &promo.DiscountPercent, &promo.FlatCents, &promo.ValidFrom,
			&promo.ValidUntil, &promo.MaxUses, &promo.CurrentUses, &promo.ListingID, &promo.Active, &promo.CreatedAt); err != nil {
			return nil, err
		}
		promo.ValidFrom = promo.ValidFrom.UTC()
		promo.ValidUntil = promo.ValidUntil.UTC()
		promo.CreatedAt = promo.CreatedAt.UTC()
		promos = append(promos, promo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return promos, nil
}

func (s *Store) SetPromoActive(ctx context.Context, code string, active bool) (*domain.PromoCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	res, err := s.db.ExecContext(ctx, `
		UPDATE promo_codes SET active = $2, updated_at = now() WHERE code = $1
	`, code, active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetPromo(ctx, code)
}

func (s *Store) CreateSyncLog(ctx context.Context, entry domain.SyncLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("sync")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, listing_id, found, created, updated, expired, skipped, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ListingID, entry.Found, entry.Created, entry.Updated, entry.Expired, entry.Skipped,
		nullIfEmpty(entry.Error), entry.CreatedAt)
	return err
}

func (s *Store) ListSyncLogs(ctx context.Context, listingID string, limit int) ([]domain.SyncLog, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, listing_id, found, created, updated, expired, skipped, COALESCE(error,''), created_at
		FROM sync_logs
		WHERE ($1 = '' OR listing_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.SyncLog, 0, limit)
	for rows.Next() {
		var entry domain.SyncLog
		if err := rows.Scan(&entry.ID, &entry.ListingID, &entry.Found, &entry.Created, &entry.Updated,
			&entry.Expired, &entry.Skipped, &entry.Error, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateFinanceEntry(ctx context.Context, entry domain.FinanceEntry) (*domain.FinanceEntry, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finance_entries (id, listing_id, booking_id, type, label, amount_cents, currency, estimated, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ListingID, nullIfEmpty(entry.BookingID), entry.Type, entry.Label,
		entry.AmountCents, entry.Currency, entry.Estimated, entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := entry
	return &created, nil
}

func (s *Store) ListFinanceEntries(ctx context.Context, listingID string, limit int) ([]domain.FinanceEntry, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, listing_id, COALESCE(booking_id,''), type, label, amount_cents, currency, estimated, created_at
		FROM finance_entries
		WHERE ($1 = '' OR listing_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.FinanceEntry, 0, limit)
	for rows.Next() {
		var entry domain.FinanceEntry
		if err := rows.Scan(&entry.ID, &entry.ListingID, &entry.BookingID, &entry.Type, &entry.Label,
			&entry.AmountCents, &entry.Currency, &entry.Estimated, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// querier is the subset of database handles shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const bookingColumns = `id, listing_id, check_in, check_out, guest_name, COALESCE(guest_email,''),
	COALESCE(guest_phone,''), guests_count, children_count, status, origin, COALESCE(payment_method,''),
	COALESCE(promo_code,''), COALESCE(external_ref,''), nightly_total_cents, cleaning_fee_cents,
	tourist_tax_cents, discount_cents, total_cents, currency, created_at, updated_at`

func insertBooking(ctx context.Context, q querier, booking domain.Booking) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bookings (
			id, listing_id, check_in, check_out, guest_name, guest_email, guest_phone,
			guests_count, children_count, status, origin, payment_method, promo_code, external_ref,
			nightly_total_cents, cleaning_fee_cents, tourist_tax_cents, discount_cents,
			total_cents, currency, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`, booking.ID, booking.ListingID, booking.CheckIn, booking.CheckOut, booking.GuestName,
		nullIfEmpty(booking.GuestEmail), nullIfEmpty(booking.GuestPhone), booking.GuestsCount,
		booking.ChildrenCount, booking.Status, booking.Origin, nullIfEmpty(booking.PaymentMethod),
		nullIfEmpty(booking.PromoCode), nullIfEmpty(booking.ExternalRef), booking.NightlyTotalCents,
		booking.CleaningFeeCents, booking.TouristTaxCents, booking.DiscountCents, booking.TotalCents,
		booking.Currency, booking.CreatedAt, booking.UpdatedAt)
	return err
}

func queryBooking(ctx context.Context, q querier, where string, args ...any) (*domain.Booking, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
	`+where, args...)
	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &booking, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(&l.ID, &l.Name, &l.Slug, &l.BaseRateCents, &l.WeekendRateCents, &l.CleaningFeeCents,
		&l.TouristTaxPerPersonCents, &l.MinNights, &l.Currency, &l.FeedURL, &l.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.ListingID, &b.CheckIn, &b.CheckOut, &b.GuestName, &b.GuestEmail,
		&b.GuestPhone, &b.GuestsCount, &b.ChildrenCount, &b.Status, &b.Origin, &b.PaymentMethod,
		&b.PromoCode, &b.ExternalRef, &b.NightlyTotalCents, &b.CleaningFeeCents, &b.TouristTaxCents,
		&b.DiscountCents, &b.TotalCents, &b.Currency, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	b.CheckIn = domain.DateUTC(b.CheckIn)
	b.CheckOut = domain.DateUTC(b.CheckOut)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func scanLedgerEntry(row rowScanner) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var priceOverride sql.NullInt64
	var minNights sql.NullInt32
	err := row.Scan(&entry.ListingID, &entry.Date, &entry.Available, &priceOverride, &minNights,
		&entry.Source, &entry.BookingID, &entry.ExternalRef, &entry.UpdatedAt)
	if err != nil {
		return entry, err
	}
	if priceOverride.Valid {
		v := priceOverride.Int64
		entry.PriceOverride = &v
	}
	if minNights.Valid {
		v := int(minNights.Int32)
		entry.MinNightsOverride = &v
	}
	entry.Date = domain.DateUTC(entry.Date)
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

func lockLedgerRange(ctx context.Context, tx *sql.Tx, listingID string, start, end time.Time) ([]domain.LedgerEntry, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM availability_ledger
		WHERE listing_id = $1 AND date >= $2 AND date < $3
		ORDER BY date ASC
		FOR UPDATE
	`, listingID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 32)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func lockLedgerRow(ctx context.Context, tx *sql.Tx, listingID string, date time.Time) (*domain.LedgerEntry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM availability_ledger
		WHERE listing_id = $1 AND date = $2
		FOR UPDATE
	`, listingID, date)
	entry, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func upsertLedgerRow(ctx context.Context, tx *sql.Tx, listingID string, date time.Time, available bool,
	priceOverride *int64, minNightsOverride *int, source domain.LedgerSource, bookingID string, externalRef string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO availability_ledger (
			listing_id, date, available, price_override_cents, min_nights_override,
			source, booking_id, external_ref, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (listing_id, date)
		DO UPDATE SET available = EXCLUDED.available,
			price_override_cents = EXCLUDED.price_override_cents,
			min_nights_override = EXCLUDED.min_nights_override,
			source = EXCLUDED.source,
			booking_id = EXCLUDED.booking_id,
			external_ref = EXCLUDED.external_ref,
			updated_at = now()
	`, listingID, date, available, nullIfNilInt64(priceOverride), nullIfNilInt(minNightsOverride),
		string(source), nullIfEmpty(bookingID), nullIfEmpty(externalRef))
	return err
}

func queryRulesInRange(ctx context.Context, tx *sql.Tx, listingID string, start, end time.Time) ([]domain.SeasonalRule, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, listing_id, start_date, end_date, nightly_rate_cents, min_nights_override, created_at
		FROM seasonal_rules
		WHERE listing_id = $1 AND start_date < $3 AND end_date >= $2
		ORDER BY start_date ASC, id ASC
	`, listingID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func collectRules(rows *sql.Rows) ([]domain.SeasonalRule, error) {
	rules := make([]domain.SeasonalRule, 0, 8)
	for rows.Next() {
		var rule domain.SeasonalRule
		var minNights sql.NullInt32
		if err := rows.Scan(&rule.ID, &rule.ListingID, &rule.Start, &rule.End, &rule.NightlyRateCents, &minNights, &rule.CreatedAt); err != nil {
			return nil, err
		}
		if minNights.Valid {
			v := int(minNights.Int32)
			rule.MinNightsOverride = &v
		}
		rule.Start = domain.DateUTC(rule.Start)
		rule.End = domain.DateUTC(rule.End)
		rule.CreatedAt = rule.CreatedAt.UTC()
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

func lockPromoRow(ctx context.Context, tx *sql.Tx, code string) (*domain.PromoCode, error) {
	var promo domain.PromoCode
	err := tx.QueryRowContext(ctx, `
		SELECT `+promoColumns+`
		FROM promo_codes
		WHERE code = $1
		FOR UPDATE
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(&promo.Code, &promo.DiscountPercent, &promo.FlatCents,
		&promo.ValidFrom, &promo.ValidUntil, &promo.MaxUses, &promo.CurrentUses, &promo.ListingID, &promo.Active, &promo.CreatedAt)
	if err != nil {
		return nil, err
	}
	promo.ValidFrom = promo.ValidFrom.UTC()
	promo.ValidUntil = promo.ValidUntil.UTC()
	return &promo, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23P01"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullIfNilInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullIfNilInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
