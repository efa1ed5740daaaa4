package settlement

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
)

var (
	ErrInvalidDate = errors.New("invalid date")
	ErrEmptyFile   = errors.New("empty settlement file")
)

// Row is one normalized settlement export row.
type Row struct {
	Line             int        `json:"line"`
	ConfirmationCode string     `json:"confirmation_code"`
	ListingLabel     string     `json:"listing_label"`
	GuestName        string     `json:"guest_name"`
	CheckIn          *time.Time `json:"check_in,omitempty"`
	CheckOut         *time.Time `json:"check_out,omitempty"`
	Nights           int        `json:"nights,omitempty"`
	PayoutCents      int64      `json:"payout_cents"`
	GrossCents       int64      `json:"gross_cents,omitempty"`
	Currency         string     `json:"currency,omitempty"`
	Status           string     `json:"status,omitempty"`
}

// RowError records a row that could not be normalized; errors are
// collected over the whole file rather than aborting on the first.
type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// ParseFile reads a settlement export (CSV, or XLS when the filename
// says so) into normalized rows. Rows with a blank confirmation code are
// skipped silently; rows that fail normalization are collected as
// RowErrors. Only a missing required column aborts the whole parse.
func ParseFile(data []byte, filename string) (Shape, []Row, []RowError, error) {
	var records [][]string
	var err error
	if strings.HasSuffix(strings.ToLower(filename), ".xls") {
		records, err = readXLS(data)
	} else {
		records, err = readCSV(data)
	}
	if err != nil {
		return "", nil, nil, err
	}
	if len(records) == 0 {
		return "", nil, nil, ErrEmptyFile
	}

	header := records[0]
	shape := DetectShape(header)
	cols, err := resolveColumns(header)
	if err != nil {
		return shape, nil, nil, err
	}

	rows := make([]Row, 0, len(records)-1)
	rowErrs := make([]RowError, 0)
	for i, record := range records[1:] {
		line := i + 2
		code := cols.get(record, fieldConfirmationCode)
		if code == "" {
			continue
		}

		if shape == ShapePerTransaction {
			// Aggregate payout lines reference no single stay; only
			// reservation-type movements become rows.
			kind := strings.ToLower(cols.get(record, fieldType))
			if strings.Contains(kind, "payout") || strings.Contains(kind, "pembayaran") {
				continue
			}
		}

		row, err := normalizeRow(cols, record, line)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Error: err.Error()})
			continue
		}
		rows = append(rows, row)
	}

	return shape, rows, rowErrs, nil
}

func normalizeRow(cols columnMap, record []string, line int) (Row, error) {
	row := Row{
		Line:             line,
		ConfirmationCode: cols.get(record, fieldConfirmationCode),
		ListingLabel:     cols.get(record, fieldListing),
		GuestName:        cols.get(record, fieldGuest),
		Status:           cols.get(record, fieldStatus),
		Currency:         strings.ToUpper(cols.get(record, fieldCurrency)),
	}

	if raw := cols.get(record, fieldCheckIn); raw != "" {
		t, err := ParseExportDate(raw)
		if err != nil {
			return row, fmt.Errorf("check-in: %w", err)
		}
		row.CheckIn = &t
	}
	if raw := cols.get(record, fieldCheckOut); raw != "" {
		t, err := ParseExportDate(raw)
		if err != nil {
			return row, fmt.Errorf("check-out: %w", err)
		}
		row.CheckOut = &t
	}
	if raw := cols.get(record, fieldNights); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			row.Nights = n
		}
	}

	// Derive the missing end of the stay from nights when possible.
	if row.CheckOut == nil && row.CheckIn != nil && row.Nights > 0 {
		t := row.CheckIn.AddDate(0, 0, row.Nights)
		row.CheckOut = &t
	}
	if row.CheckIn == nil && row.CheckOut != nil && row.Nights > 0 {
		t := row.CheckOut.AddDate(0, 0, -row.Nights)
		row.CheckIn = &t
	}

	if raw := cols.get(record, fieldPayout); raw != "" {
		cents, currency, err := ParseMoney(raw)
		if err != nil {
			return row, fmt.Errorf("payout: %w", err)
		}
		row.PayoutCents = cents
		if row.Currency == "" {
			row.Currency = currency
		}
	}
	if raw := cols.get(record, fieldGross); raw != "" {
		cents, currency, err := ParseMoney(raw)
		if err != nil {
			return row, fmt.Errorf("gross: %w", err)
		}
		row.GrossCents = cents
		if row.Currency == "" {
			row.Currency = currency
		}
	}

	return row, nil
}

// ParseExportDate parses the date formats seen in settlement exports.
// ISO dates pass through. Slashed dates are ambiguous between day-first
// and month-first; a first component above 12 settles it, otherwise
// day-first is assumed. That assumption is a known source of silent
// misimports for ambiguous values and is kept deliberately.
func ParseExportDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}

	for _, layout := range []string{"2006-01-02", "2006/01/02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}

	sep := "/"
	if strings.Contains(raw, ".") && !strings.Contains(raw, "/") {
		sep = "."
	}
	parts := strings.Split(raw, sep)
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	first, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	second, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	year, err3 := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	if year < 100 {
		year += 2000
	}

	day, month := first, second
	if first <= 12 && second > 12 {
		// Unambiguously month-first.
		day, month = second, first
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// currencySymbols maps leading symbols/codes seen in monetary cells to
// ISO currency codes.
var currencySymbols = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"£":   "GBP",
	"rp":  "IDR",
	"idr": "IDR",
	"eur": "EUR",
	"usd": "USD",
}

// ParseMoney normalizes a monetary cell into cents, stripping currency
// symbols and handling both decimal-comma and decimal-point notation.
// The second return value is the inferred currency code, empty when no
// symbol was present.
func ParseMoney(raw string) (int64, string, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return 0, "", nil
	}

	currency := ""
	lowered := strings.ToLower(cleaned)
	for symbol, code := range currencySymbols {
		if strings.HasPrefix(lowered, symbol) || strings.HasSuffix(lowered, symbol) {
			currency = code
			cleaned = strings.TrimSpace(strings.Trim(cleaned, "€$£"))
			cleaned = strings.TrimSpace(trimFold(cleaned, symbol))
			break
		}
	}

	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")
	cleaned = strings.ReplaceAll(cleaned, " ", "")

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56 -> comma is the decimal separator.
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if len(cleaned)-lastComma-1 == 3 {
			// 1,234 -> thousands separator.
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(cleaned, ".") > 1 || len(cleaned)-lastDot-1 == 3 {
			// 1.500.000 -> dots are thousands separators.
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, "", fmt.Errorf("unparseable amount %q", raw)
	}
	cents := int64(value*100 + 0.5)
	if negative {
		cents = -cents
	}
	return cents, currency, nil
}

func trimFold(s, cut string) string {
	lowered := strings.ToLower(s)
	if strings.HasPrefix(lowered, cut) {
		return s[len(cut):]
	}
	if strings.HasSuffix(lowered, cut) {
		return s[:len(s)-len(cut)]
	}
	return s
}

func readCSV(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv read failed: %w", err)
	}
	return records, nil
}

func readXLS(data []byte) ([][]string, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data), "cp1252")
	if err != nil {
		return nil, fmt.Errorf("xls open failed: %w", err)
	}
	rows := workbook.ReadAllCells(10000)
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	return rows, nil
}
