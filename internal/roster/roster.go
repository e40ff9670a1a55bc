package roster

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/domain"
	"github.com/spec-kit/membership-bot/internal/store"
)

// Column names the roster table must carry.
const (
	colRegistration = "roll-no"
	colName         = "name"
	colEmail        = "email"
)

// LoadError indicates the roster source was unreachable or malformed.
// It is fatal at startup; no recovery is attempted.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load roster %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Roster is the read-only set of pre-approved registrants, keyed by
// registration id. It requires no locking after construction.
type Roster struct {
	records map[string]domain.Registrant
}

// Load fetches and parses the roster table from the record store.
func Load(ctx context.Context, docs store.DocumentStore, path string, logger *zap.Logger) (*Roster, error) {
	doc, err := docs.Fetch(ctx, path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	r, err := Parse(doc.Content)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	logger.Info("roster loaded", zap.String("path", path), zap.Int("registrants", r.Len()))
	return r, nil
}

// Parse builds a roster from CSV content with a header row.
func Parse(content string) (*Roster, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing header row")
	}

	idx, err := columnIndex(rows[0], colRegistration, colName, colEmail)
	if err != nil {
		return nil, err
	}

	records := make(map[string]domain.Registrant, len(rows)-1)
	for _, row := range rows[1:] {
		rec := domain.Registrant{
			RegistrationID: row[idx[colRegistration]],
			Name:           row[idx[colName]],
			Email:          row[idx[colEmail]],
		}
		records[rec.RegistrationID] = rec
	}

	return &Roster{records: records}, nil
}

// Lookup returns the registrant for the registration id, if known.
func (r *Roster) Lookup(registrationID string) (domain.Registrant, bool) {
	rec, ok := r.records[registrationID]
	return rec, ok
}

// Len reports how many registrants are loaded.
func (r *Roster) Len() int {
	return len(r.records)
}

func columnIndex(header []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.TrimSpace(col)] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}
	return idx, nil
}
