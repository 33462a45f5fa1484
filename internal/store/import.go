package store

import (
	"context"
	"strings"

	"github.com/roach88/reportflow/internal/record"
)

// ImportFromSource seeds entries from the source dataset. Records with a
// blank company or person are skipped. A record whose key is already present
// is skipped too, except that an empty email on the existing entry is filled
// in. New entries start sent when the record carries the external "already
// sent" flag, without a sent date, and pending otherwise.
func (s *Store) ImportFromSource(ctx context.Context, records []record.Record) (imported, skipped int, err error) {
	changed := false
	for _, rec := range records {
		company := strings.TrimSpace(rec.Company)
		person := strings.TrimSpace(rec.Person)
		if company == "" || person == "" {
			skipped++
			continue
		}
		key := rec.Key()
		email := strings.TrimSpace(rec.Email)

		if existing, ok := s.entries[key]; ok {
			if existing.Email == "" && email != "" {
				existing.Email = email
				s.entries[key] = existing
				changed = true
			}
			skipped++
			continue
		}

		// A seeded sent entry has no sent_date: the delivery happened
		// outside this store and its time is unknown.
		status := StatusPending
		if rec.ReportSent {
			status = StatusSent
		}
		s.entries[key] = Entry{
			Key:     key,
			Company: company,
			Person:  person,
			Email:   email,
			Status:  status,
		}
		imported++
		changed = true
	}
	if !changed {
		return imported, skipped, nil
	}
	if err := s.Save(ctx); err != nil {
		return imported, skipped, err
	}
	return imported, skipped, nil
}
