// Package recipients parses uploaded recipient CSVs. Lists arrive from many
// tools with inconsistent headers, so the email column is found
// heuristically rather than by a fixed name.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
)

var ErrNoEmailColumn = errors.New("no email column found")

// headerNames are accepted email-column header spellings, compared
// case-insensitively after trimming.
var headerNames = map[string]bool{
	"email":         true,
	"e-mail":        true,
	"mail":          true,
	"email address": true,
	"emailaddress":  true,
	"email_address": true,
}

// List is the result of parsing a recipient CSV.
type List struct {
	// EmailColumn is the detected column index.
	EmailColumn int

	// Header is the detected header name, empty for headerless files.
	Header string

	// Emails holds the normalized (trimmed, lowercased) distinct valid
	// addresses, in first-seen order.
	Emails []string

	// Skipped counts rows whose email cell was empty or invalid.
	Skipped int
}

// Count returns the number of distinct valid recipients.
func (l *List) Count() int {
	return len(l.Emails)
}

// Parse reads a CSV and locates its email column: first by header name, then
// by sampling values when no header matches. Rows with an invalid or empty
// email cell are skipped, duplicates are dropped.
func Parse(r io.Reader) (*List, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // tolerate ragged rows
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoEmailColumn
	}

	list := &List{EmailColumn: -1}
	rows := records

	// Pass 1: a recognized header name wins.
	for i, cell := range records[0] {
		if headerNames[strings.ToLower(strings.TrimSpace(cell))] {
			list.EmailColumn = i
			list.Header = strings.TrimSpace(cell)
			rows = records[1:]
			break
		}
	}

	// Pass 2: no header matched; pick the first column where most non-empty
	// values parse as addresses. A matching first row means the file is
	// headerless; otherwise the first row is treated as an unknown header.
	if list.EmailColumn == -1 {
		col := bestEmailColumn(records)
		if col == -1 {
			return nil, ErrNoEmailColumn
		}
		list.EmailColumn = col
		if !validEmail(cellAt(records[0], col)) {
			list.Header = strings.TrimSpace(cellAt(records[0], col))
			rows = records[1:]
		}
	}

	seen := make(map[string]bool)
	for _, row := range rows {
		email := Normalize(cellAt(row, list.EmailColumn))
		if email == "" || !validEmail(email) {
			list.Skipped++
			continue
		}
		if seen[email] {
			continue
		}
		seen[email] = true
		list.Emails = append(list.Emails, email)
	}

	return list, nil
}

// Normalize trims and lowercases an address cell.
func Normalize(cell string) string {
	return strings.ToLower(strings.TrimSpace(cell))
}

// bestEmailColumn returns the index of the column with the highest share of
// address-shaped values, or -1 when no column crosses half.
func bestEmailColumn(records [][]string) int {
	width := 0
	for _, row := range records {
		if len(row) > width {
			width = len(row)
		}
	}

	best, bestShare := -1, 0.0
	for col := 0; col < width; col++ {
		valid, total := 0, 0
		for _, row := range records {
			cell := strings.TrimSpace(cellAt(row, col))
			if cell == "" {
				continue
			}
			total++
			if validEmail(cell) {
				valid++
			}
		}
		if total == 0 {
			continue
		}
		share := float64(valid) / float64(total)
		if share > 0.5 && share > bestShare {
			best, bestShare = col, share
		}
	}
	return best
}

func validEmail(s string) bool {
	if !strings.Contains(s, "@") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func cellAt(row []string, col int) string {
	if col < len(row) {
		return row[col]
	}
	return ""
}
