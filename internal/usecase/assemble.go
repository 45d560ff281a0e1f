package usecase

import (
	"sort"

	"mmrag/internal/domain"
)

// MergeHits concatenates per-namespace hit lists and sorts them by score
// descending. Equal scores put shared hits before private ones (or the
// reverse when privateFirst), then order by record id.
func MergeHits(lists [][]domain.SearchHit, privateFirst bool) []domain.SearchHit {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	merged := make([]domain.SearchHit, 0, total)
	for _, l := range lists {
		merged = append(merged, l...)
	}

	rank := func(k domain.NamespaceKind) int {
		if (k == domain.NamespacePrivate) == privateFirst {
			return 0
		}
		return 1
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := rank(a.NamespaceKind), rank(b.NamespaceKind); ra != rb {
			return ra < rb
		}
		return a.RecordID < b.RecordID
	})
	return merged
}

// Dedup collapses hits sharing a content ref, keeping the first (highest
// ranked) occurrence. Input must already be in rank order. Hits without a
// ref are keyed by namespace and id instead.
func Dedup(hits []domain.SearchHit) []domain.SearchHit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]domain.SearchHit, 0, len(hits))
	for _, h := range hits {
		key := "ref:" + h.ContentRef
		if h.ContentRef == "" {
			key = "id:" + string(h.NamespaceKind) + "/" + h.RecordID
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// Truncate caps hits at max entries. max <= 0 means no cap.
func Truncate(hits []domain.SearchHit, max int) []domain.SearchHit {
	if max > 0 && len(hits) > max {
		return hits[:max]
	}
	return hits
}

// Assemble builds the retrieval context in rank order. An entry that would
// push the total over budget is skipped; a later, smaller entry may still
// fit. budget <= 0 means unbounded.
func Assemble(query string, entries []domain.ContextEntry, budget, maxEntries int) domain.RetrievalContext {
	rc := domain.RetrievalContext{
		Query:       query,
		Entries:     make([]domain.ContextEntry, 0, len(entries)),
		BudgetBytes: budget,
		MaxEntries:  maxEntries,
	}

	for _, e := range entries {
		if maxEntries > 0 && len(rc.Entries) >= maxEntries {
			break
		}
		size := e.Size()
		if budget > 0 && rc.UsedBytes+size > budget {
			continue // Skip if it would exceed budget
		}
		rc.Entries = append(rc.Entries, e)
		rc.UsedBytes += size
	}
	return rc
}
