package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/feed"
	"sewainaja/backend/internal/store"
	"sewainaja/backend/internal/xid"
)

// FeedFetcher retrieves a raw feed body by URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Syncer pulls external calendar feeds into the availability ledger. A
// feed never outranks manual blocks or direct bookings; conflicting
// nights are counted as skipped, not overwritten.
type Syncer struct {
	repo    store.Repository
	fetcher FeedFetcher
	logger  *log.Logger
	workers int
}

func New(repo store.Repository, fetcher FeedFetcher, logger *log.Logger, workers int) *Syncer {
	if logger == nil {
		logger = log.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Syncer{
		repo:    repo,
		fetcher: fetcher,
		logger:  logger.With("component", "syncer"),
		workers: workers,
	}
}

// Schedule registers RunAll on the given cron spec and starts the
// scheduler. The returned cron must be stopped on shutdown.
func (s *Syncer) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.RunAll(ctx); err != nil {
			s.logger.Error("scheduled sync failed", "err", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// RunAll syncs every active listing that has a feed URL, fanning the
// work out over a bounded pool. One listing's failure never stops the
// others; it is recorded in that listing's result and sync log.
func (s *Syncer) RunAll(ctx context.Context) ([]domain.SyncResult, error) {
	listings, err := s.repo.ListListings(ctx, true)
	if err != nil {
		return nil, err
	}

	jobs := make(chan domain.Listing)
	results := make([]domain.SyncResult, 0, len(listings))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for listing := range jobs {
				result := s.SyncListing(ctx, listing)
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}
		}()
	}

	started := time.Now()
	queued := 0
	for _, listing := range listings {
		if listing.FeedURL == "" {
			continue
		}
		queued++
		jobs <- listing
	}
	close(jobs)
	wg.Wait()

	s.logger.Info("sync run finished", "listings", queued, "elapsed", time.Since(started).Round(time.Millisecond))
	return results, nil
}

// SyncListing fetches, parses, and applies one listing's feed.
func (s *Syncer) SyncListing(ctx context.Context, listing domain.Listing) domain.SyncResult {
	result := domain.SyncResult{ListingID: listing.ID}

	body, err := s.fetcher.Fetch(ctx, listing.FeedURL)
	if err != nil {
		result.Error = err.Error()
		s.logger.Warn("feed fetch failed", "listing", listing.ID, "url", feed.RedactURL(listing.FeedURL), "err", err)
		s.writeLog(ctx, result)
		return result
	}

	events, err := feed.Parse(body)
	if err != nil {
		result.Error = err.Error()
		s.logger.Warn("feed parse failed", "listing", listing.ID, "url", feed.RedactURL(listing.FeedURL), "err", err)
		s.writeLog(ctx, result)
		return result
	}
	result.Found = len(events)

	activeUIDs := make(map[string]bool, len(events))
	for _, event := range events {
		activeUIDs[event.UID] = true
		if event.Block {
			s.applyBlock(ctx, listing, event, &result)
		} else {
			s.applyReservation(ctx, listing, event, &result)
		}
	}

	expired, err := s.repo.ExpireFeedBlocks(ctx, listing.ID, activeUIDs, domain.DateUTC(time.Now()))
	if err != nil {
		result.Error = err.Error()
	}
	result.Expired = expired

	s.writeLog(ctx, result)
	return result
}

func (s *Syncer) applyBlock(ctx context.Context, listing domain.Listing, event domain.FeedEvent, result *domain.SyncResult) {
	entries := make([]domain.LedgerEntry, 0, 8)
	for _, date := range domain.NightsBetween(event.Start, event.End) {
		entries = append(entries, domain.LedgerEntry{
			ListingID:   listing.ID,
			Date:        date,
			Available:   false,
			Source:      domain.SourceExternalFeedBlock,
			ExternalRef: event.UID,
		})
	}
	written, skipped, err := s.repo.UpsertLedgerEntries(ctx, entries)
	if err != nil {
		result.Error = err.Error()
		s.logger.Warn("feed block write failed", "listing", listing.ID, "uid", event.UID, "err", err)
		return
	}
	result.Updated += written
	result.Skipped += skipped
}

func (s *Syncer) applyReservation(ctx context.Context, listing domain.Listing, event domain.FeedEvent, result *domain.SyncResult) {
	// A feed UID seen before means the reservation is already imported.
	if _, err := s.repo.GetBookingByExternalRef(ctx, listing.ID, event.UID); err == nil {
		result.Updated++
		return
	}

	// A settlement import may have landed the same stay under a
	// different reference. Matching on exact dates avoids doubling it.
	if _, err := s.repo.FindBookingByDates(ctx, listing.ID, event.Start, event.End,
		[]string{domain.OriginExternalFeed, domain.OriginSettlementImport}); err == nil {
		result.Skipped++
		return
	}

	_, skippedNights, err := s.repo.CreateImportedBooking(ctx, domain.Booking{
		ListingID:   listing.ID,
		CheckIn:     event.Start,
		CheckOut:    event.End,
		GuestName:   event.GuestName,
		Status:      domain.BookingStatusConfirmed,
		Origin:      domain.OriginExternalFeed,
		ExternalRef: event.UID,
		Currency:    listing.Currency,
	}, domain.SourceExternalFeed)
	if err != nil {
		result.Error = err.Error()
		s.logger.Warn("feed booking import failed", "listing", listing.ID, "uid", event.UID, "err", err)
		return
	}
	result.Created++
	result.Skipped += skippedNights
}

func (s *Syncer) writeLog(ctx context.Context, result domain.SyncResult) {
	err := s.repo.CreateSyncLog(ctx, domain.SyncLog{
		ID:        xid.New("sync"),
		ListingID: result.ListingID,
		Found:     result.Found,
		Created:   result.Created,
		Updated:   result.Updated,
		Expired:   result.Expired,
		Skipped:   result.Skipped,
		Error:     result.Error,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("sync log write failed", "listing", result.ListingID, "err", err)
	}
}
