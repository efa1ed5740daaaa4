package settlement

import (
	"fmt"
	"strings"
)

// Shape identifies which of the two known export layouts a file uses.
type Shape string

const (
	// ShapePerStay is the per-stay earnings export: one row per stay
	// with an earnings/status column.
	ShapePerStay Shape = "per_stay"
	// ShapePerTransaction is the transaction ledger export: one row per
	// money movement with a type column.
	ShapePerTransaction Shape = "per_transaction"
)

// Logical fields resolved from export headers.
const (
	fieldConfirmationCode = "confirmation_code"
	fieldListing          = "listing"
	fieldGuest            = "guest"
	fieldCheckIn          = "check_in"
	fieldCheckOut         = "check_out"
	fieldNights           = "nights"
	fieldPayout           = "payout"
	fieldGross            = "gross"
	fieldCurrency         = "currency"
	fieldStatus           = "status"
	fieldType             = "type"
)

// columnAliases maps each logical field to its known header spellings,
// English and Indonesian. Matching is case-insensitive on trimmed
// headers; first alias match wins.
var columnAliases = map[string][]string{
	fieldConfirmationCode: {"confirmation code", "confirmation_code", "kode konfirmasi", "kode booking"},
	fieldListing:          {"listing", "listing name", "nama listing", "properti", "property"},
	fieldGuest:            {"guest", "guest name", "nama tamu", "tamu"},
	fieldCheckIn:          {"start date", "check-in", "check in", "checkin", "tanggal check-in", "tanggal mulai", "arrival"},
	fieldCheckOut:         {"end date", "check-out", "check out", "checkout", "tanggal check-out", "tanggal selesai", "departure"},
	fieldNights:           {"nights", "# of nights", "jumlah malam", "malam"},
	fieldPayout:           {"earnings", "payout", "amount", "pendapatan", "jumlah", "nilai"},
	fieldGross:            {"gross earnings", "gross amount", "pendapatan kotor", "harga kotor"},
	fieldCurrency:         {"currency", "mata uang"},
	fieldStatus:           {"status", "reservation status", "status reservasi"},
	fieldType:             {"type", "tipe", "jenis"},
}

// MissingColumnError reports a required column that could not be
// resolved against any known alias. It aborts the import.
type MissingColumnError struct {
	Field string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("required column %q not found under any known header", e.Field)
}

// columnMap maps logical fields to header indexes for one file.
type columnMap map[string]int

func normalizeHeader(cell string) string {
	return strings.ToLower(strings.TrimSpace(cell))
}

// resolveColumns matches the header row against the alias table. Only
// the confirmation code and at least one of the date columns are
// required; everything else is optional and simply absent when not
// matched.
func resolveColumns(header []string) (columnMap, error) {
	normalized := make([]string, len(header))
	for i, cell := range header {
		normalized[i] = normalizeHeader(cell)
	}

	cols := make(columnMap)
	for field, aliases := range columnAliases {
		for _, alias := range aliases {
			idx := indexOf(normalized, alias)
			if idx >= 0 {
				cols[field] = idx
				break
			}
		}
	}

	if _, ok := cols[fieldConfirmationCode]; !ok {
		return nil, &MissingColumnError{Field: fieldConfirmationCode}
	}
	_, hasIn := cols[fieldCheckIn]
	_, hasOut := cols[fieldCheckOut]
	if !hasIn && !hasOut {
		return nil, &MissingColumnError{Field: fieldCheckIn}
	}

	return cols, nil
}

func indexOf(cells []string, want string) int {
	for i, cell := range cells {
		if cell == want {
			return i
		}
	}
	return -1
}

// DetectShape inspects a header row for shape fingerprints: a type
// column implies the per-transaction ledger; a status or gross earnings
// column implies the per-stay earnings shape, which is also the default.
func DetectShape(header []string) Shape {
	normalized := make([]string, len(header))
	for i, cell := range header {
		normalized[i] = normalizeHeader(cell)
	}
	for _, alias := range columnAliases[fieldType] {
		if indexOf(normalized, alias) >= 0 {
			return ShapePerTransaction
		}
	}
	return ShapePerStay
}

func (c columnMap) get(row []string, field string) string {
	idx, ok := c[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
