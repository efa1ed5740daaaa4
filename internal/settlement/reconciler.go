package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/store"
)

// Row actions decided during preview and reported after commit.
const (
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionSkipped   = "skipped"
	ActionUnmatched = "unmatched"
	ActionError     = "error"
)

// Decision is the per-row outcome of matching a settlement row against
// the current listings and bookings.
type Decision struct {
	Row        Row      `json:"row"`
	Action     string   `json:"action"`
	ListingID  string   `json:"listing_id,omitempty"`
	BookingID  string   `json:"booking_id,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Preview is the dry-run result of a settlement import. Nothing is
// written until the same file is committed.
type Preview struct {
	Shape     Shape      `json:"shape"`
	Decisions []Decision `json:"decisions"`
	RowErrors []RowError `json:"row_errors,omitempty"`
	Creates   int        `json:"creates"`
	Updates   int        `json:"updates"`
	Skipped   int        `json:"skipped"`
	Unmatched int        `json:"unmatched"`
}

// CommitResult reports what a committed import actually wrote. Failed
// rows do not roll back the rest of the file.
type CommitResult struct {
	Preview
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Reconciler imports channel settlement exports: it matches rows to
// listings, dedups against existing bookings by confirmation code, and
// turns payouts into bookings plus finance entries.
type Reconciler struct {
	repo            store.Repository
	logger          *log.Logger
	commissionPct   float64
	defaultCurrency string
}

func NewReconciler(repo store.Repository, logger *log.Logger, commissionPct float64, defaultCurrency string) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		repo:            repo,
		logger:          logger.With("component", "settlement"),
		commissionPct:   commissionPct,
		defaultCurrency: defaultCurrency,
	}
}

// Preview parses a settlement file and decides what a commit would do,
// without writing anything.
func (r *Reconciler) Preview(ctx context.Context, data []byte, filename string) (*Preview, error) {
	shape, rows, rowErrs, err := ParseFile(data, filename)
	if err != nil {
		return nil, err
	}

	listings, err := r.repo.ListListings(ctx, false)
	if err != nil {
		return nil, err
	}

	preview := &Preview{Shape: shape, RowErrors: rowErrs, Decisions: make([]Decision, 0, len(rows))}
	for _, row := range rows {
		decision := r.decide(ctx, listings, row)
		switch decision.Action {
		case ActionCreate:
			preview.Creates++
		case ActionUpdate:
			preview.Updates++
		case ActionSkipped:
			preview.Skipped++
		case ActionUnmatched:
			preview.Unmatched++
		}
		preview.Decisions = append(preview.Decisions, decision)
	}
	return preview, nil
}

// Commit runs the same decision pass as Preview and applies it row by
// row. A row that fails is reported and the import moves on; there is no
// whole-file rollback, re-running the file is safe because creation
// dedups on confirmation code.
func (r *Reconciler) Commit(ctx context.Context, data []byte, filename string) (*CommitResult, error) {
	preview, err := r.Preview(ctx, data, filename)
	if err != nil {
		return nil, err
	}

	result := &CommitResult{Preview: *preview}
	for i, decision := range result.Decisions {
		switch decision.Action {
		case ActionCreate:
			bookingID, err := r.applyCreate(ctx, decision)
			if err != nil {
				r.logger.Error("settlement row create failed", "line", decision.Row.Line, "err", err)
				result.Decisions[i].Action = ActionError
				result.Decisions[i].Reason = err.Error()
				result.Failed++
				continue
			}
			result.Decisions[i].BookingID = bookingID
			result.Created++
		case ActionUpdate:
			if err := r.applyUpdate(ctx, decision); err != nil {
				r.logger.Error("settlement row update failed", "line", decision.Row.Line, "err", err)
				result.Decisions[i].Action = ActionError
				result.Decisions[i].Reason = err.Error()
				result.Failed++
				continue
			}
			result.Updated++
		}
	}

	r.logger.Info("settlement import committed",
		"file", filename, "shape", result.Shape,
		"created", result.Created, "updated", result.Updated,
		"unmatched", result.Unmatched, "failed", result.Failed)
	return result, nil
}

func (r *Reconciler) decide(ctx context.Context, listings []domain.Listing, row Row) Decision {
	decision := Decision{Row: row}

	listingID, candidates := matchListing(listings, row.ListingLabel)
	if listingID == "" {
		decision.Action = ActionUnmatched
		decision.Candidates = candidates
		if len(candidates) == 0 {
			decision.Reason = fmt.Sprintf("no listing matches label %q", row.ListingLabel)
		} else {
			decision.Reason = fmt.Sprintf("label %q matches %d listings", row.ListingLabel, len(candidates))
		}
		return decision
	}
	decision.ListingID = listingID

	existing, err := r.repo.GetBookingByExternalRef(ctx, listingID, row.ConfirmationCode)
	switch {
	case err == nil:
		decision.Action = ActionUpdate
		decision.BookingID = existing.ID
		return decision
	case !errors.Is(err, store.ErrNotFound):
		decision.Action = ActionError
		decision.Reason = err.Error()
		return decision
	}

	if strings.Contains(strings.ToLower(row.Status), "cancel") {
		decision.Action = ActionSkipped
		decision.Reason = "cancelled stay, nothing to import"
		return decision
	}
	if row.CheckIn == nil || row.CheckOut == nil {
		decision.Action = ActionError
		decision.Reason = "stay dates incomplete"
		return decision
	}

	decision.Action = ActionCreate
	return decision
}

func (r *Reconciler) applyCreate(ctx context.Context, decision Decision) (string, error) {
	row := decision.Row
	currency := row.Currency
	if currency == "" {
		currency = r.defaultCurrency
	}
	guest := row.GuestName
	if guest == "" {
		guest = "Settlement guest"
	}

	booking := domain.Booking{
		ListingID:   decision.ListingID,
		CheckIn:     domain.DateUTC(*row.CheckIn),
		CheckOut:    domain.DateUTC(*row.CheckOut),
		GuestName:   guest,
		GuestsCount: 1,
		Status:      domain.BookingStatusConfirmed,
		Origin:      domain.OriginSettlementImport,
		ExternalRef: row.ConfirmationCode,
		TotalCents:  row.PayoutCents,
		Currency:    currency,
	}

	created, skipped, err := r.repo.CreateImportedBooking(ctx, booking, domain.SourceSettlementImport)
	if err != nil {
		return "", err
	}
	if skipped > 0 {
		r.logger.Warn("settlement booking overlaps higher-precedence nights",
			"booking", created.ID, "ref", row.ConfirmationCode, "skipped_nights", skipped)
	}

	if err := r.writeFinanceEntries(ctx, created, row, currency); err != nil {
		// The booking exists; a finance write failure should not undo it.
		r.logger.Error("finance entries failed for imported booking", "booking", created.ID, "err", err)
	}
	return created.ID, nil
}

// writeFinanceEntries records the payout as income and the channel
// commission as an expense. When the export reports gross earnings the
// commission is exact (gross minus payout); otherwise it is estimated
// from the configured commission percentage and flagged as such.
func (r *Reconciler) writeFinanceEntries(ctx context.Context, booking *domain.Booking, row Row, currency string) error {
	if row.PayoutCents <= 0 {
		return nil
	}

	if _, err := r.repo.CreateFinanceEntry(ctx, domain.FinanceEntry{
		ListingID:   booking.ListingID,
		BookingID:   booking.ID,
		Type:        domain.FinanceEntryIncome,
		Label:       fmt.Sprintf("payout %s", row.ConfirmationCode),
		AmountCents: row.PayoutCents,
		Currency:    currency,
	}); err != nil {
		return err
	}

	commission := row.GrossCents - row.PayoutCents
	estimated := false
	if row.GrossCents <= 0 || commission <= 0 {
		commission = int64(float64(row.PayoutCents)*r.commissionPct/100 + 0.5)
		estimated = true
	}
	if commission <= 0 {
		return nil
	}

	_, err := r.repo.CreateFinanceEntry(ctx, domain.FinanceEntry{
		ListingID:   booking.ListingID,
		BookingID:   booking.ID,
		Type:        domain.FinanceEntryExpense,
		Label:       fmt.Sprintf("channel commission %s", row.ConfirmationCode),
		AmountCents: commission,
		Currency:    currency,
		Estimated:   estimated,
	})
	return err
}

func (r *Reconciler) applyUpdate(ctx context.Context, decision Decision) error {
	row := decision.Row
	_, err := r.repo.UpdateBookingSettlement(ctx, decision.ListingID, row.ConfirmationCode, store.SettlementPatch{
		GuestName:   row.GuestName,
		PayoutCents: row.PayoutCents,
		GrossCents:  row.GrossCents,
		Status:      normalizeStatus(row.Status),
	})
	return err
}

func normalizeStatus(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case lowered == "":
		return ""
	case strings.Contains(lowered, "cancel"):
		return domain.BookingStatusCancelled
	case strings.Contains(lowered, "no show") || strings.Contains(lowered, "no-show"):
		return domain.BookingStatusNoShow
	default:
		return domain.BookingStatusConfirmed
	}
}

// matchListing matches an export label against listings by
// case-insensitive substring on name and slug. Exactly one hit wins;
// zero or several hits leave the row unmatched with the candidate names
// surfaced for the operator.
func matchListing(listings []domain.Listing, label string) (string, []string) {
	lowered := strings.ToLower(strings.TrimSpace(label))
	if lowered == "" {
		return "", nil
	}

	var hits []domain.Listing
	for _, l := range listings {
		name := strings.ToLower(l.Name)
		slug := strings.ToLower(l.Slug)
		if (name != "" && strings.Contains(lowered, name)) ||
			(slug != "" && strings.Contains(lowered, slug)) ||
			strings.Contains(name, lowered) {
			hits = append(hits, l)
		}
	}
	if len(hits) == 1 {
		return hits[0].ID, []string{hits[0].Name}
	}

	names := make([]string, 0, len(hits))
	for _, l := range hits {
		names = append(names, l.Name)
	}
	return "", names
}
