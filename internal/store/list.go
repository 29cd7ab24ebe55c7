package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"uwrangler/internal/media"
)

var nameCollator = collate.New(language.Und, collate.IgnoreCase, collate.Numeric)

// List returns one page of sources with artifact aggregates and the latest
// job outcome per source. Search is a case-folded substring match on the
// display name; name ordering is collation-aware so "track2" sorts before
// "track10".
func (s *Store) List(ctx context.Context, query ListQuery) (*ListResult, error) {
	if query.PerPage <= 0 {
		query.PerPage = 20
	}
	if query.Page <= 0 {
		query.Page = 1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixedSourceColumns+`,
                COUNT(a.source_id), COALESCE(SUM(a.byte_size), 0), COALESCE(SUM(a.served_count), 0),
                COALESCE(GROUP_CONCAT(a.geometry), ''),
                COALESCE(j.status, ''), COALESCE(j.error, '')
         FROM sources s
         LEFT JOIN artifacts a ON a.source_id = s.id
         LEFT JOIN (
             SELECT source_id, status, error,
                    ROW_NUMBER() OVER (PARTITION BY source_id ORDER BY id DESC) AS rn
             FROM jobs
         ) j ON j.source_id = s.id AND j.rn = 1
         GROUP BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var entries []ListEntry
	for rows.Next() {
		var (
			entry    ListEntry
			kind     string
			seenRaw  string
			geomsRaw string
		)
		if err := rows.Scan(&entry.Source.ID, &entry.Source.Name, &entry.Source.Filename,
			&kind, &entry.Source.ByteSize, &seenRaw,
			&entry.ArtifactCount, &entry.ArtifactBytes, &entry.ServedTotal,
			&geomsRaw, &entry.JobStatus, &entry.JobError); err != nil {
			return nil, err
		}
		entry.Source.Kind = media.Kind(kind)
		if seen, err := time.Parse(time.RFC3339Nano, seenRaw); err == nil {
			entry.Source.FirstSeen = seen
		}
		if geomsRaw != "" {
			entry.Geometries = strings.Split(geomsRaw, ",")
			sort.Strings(entry.Geometries)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries = filterEntries(entries, query.Search)
	sortEntries(entries, query.SortBy, query.Desc)

	total := len(entries)
	totalPages := (total + query.PerPage - 1) / query.PerPage
	if totalPages == 0 {
		totalPages = 1
	}
	if query.Page > totalPages {
		query.Page = totalPages
	}
	start := (query.Page - 1) * query.PerPage
	end := start + query.PerPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return &ListResult{
		Entries:    entries[start:end],
		Page:       query.Page,
		PerPage:    query.PerPage,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

// filterEntries keeps entries whose name contains the search term under
// Unicode case folding, so "MÜNCHEN" matches "münchen".
func filterEntries(entries []ListEntry, search string) []ListEntry {
	if search == "" {
		return entries
	}
	folder := cases.Fold()
	needle := folder.String(search)
	filtered := entries[:0]
	for _, entry := range entries {
		if strings.Contains(folder.String(entry.Source.Name), needle) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

func sortEntries(entries []ListEntry, key SortKey, desc bool) {
	less := func(a, b ListEntry) bool {
		return nameCollator.CompareString(a.Source.Name, b.Source.Name) < 0
	}
	switch key {
	case SortBySize:
		less = func(a, b ListEntry) bool {
			if a.Source.ByteSize != b.Source.ByteSize {
				return a.Source.ByteSize < b.Source.ByteSize
			}
			return nameCollator.CompareString(a.Source.Name, b.Source.Name) < 0
		}
	case SortByDate:
		less = func(a, b ListEntry) bool {
			if !a.Source.FirstSeen.Equal(b.Source.FirstSeen) {
				return a.Source.FirstSeen.Before(b.Source.FirstSeen)
			}
			return nameCollator.CompareString(a.Source.Name, b.Source.Name) < 0
		}
	case SortByServed:
		less = func(a, b ListEntry) bool {
			if a.ServedTotal != b.ServedTotal {
				return a.ServedTotal < b.ServedTotal
			}
			return nameCollator.CompareString(a.Source.Name, b.Source.Name) < 0
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}
