// Package vectorindex holds the vector index backends. Every backend,
// including the index service behind RemoteIndex, ranks through Rank so
// that switching backends never changes result order.
package vectorindex

import (
	"math"
	"sort"

	"mmrag/internal/domain"
)

// Score maps the cosine similarity of a and b from [-1,1] onto [0,1].
// Zero vectors score 0.5.
func Score(a, b []float32) float64 {
	s := (cosineSimilarity(a, b) + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HitLess orders hits by descending score, then ascending record id.
func HitLess(a, b domain.SearchHit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.RecordID < b.RecordID
}

// Rank scores records against query and returns at most topK hits in
// HitLess order. Records of another modality are compared only when they
// live in the same vector space (equal dimension); a record of the query's
// own modality with a different dimension is a DimensionMismatch.
func Rank(records []domain.Record, kind domain.NamespaceKind, query domain.Embedding, topK int, filter *domain.Modality) ([]domain.SearchHit, error) {
	if err := validateQuery(query, topK); err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(records))
	for _, rec := range records {
		if filter != nil && rec.Embedding.Modality != *filter {
			continue
		}
		if rec.Embedding.Dimension() != query.Dimension() {
			if rec.Embedding.Modality == query.Modality {
				return nil, domain.DimensionMismatch(rec.Embedding.Dimension(), query.Dimension())
			}
			continue
		}
		hits = append(hits, domain.SearchHit{
			RecordID:      rec.ID,
			Score:         Score(query.Vector, rec.Embedding.Vector),
			Modality:      rec.Embedding.Modality,
			NamespaceKind: kind,
			ContentRef:    rec.ContentRef,
			Metadata:      rec.Metadata.Clone(),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		return HitLess(hits[i], hits[j])
	})

	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func validateQuery(query domain.Embedding, topK int) error {
	if query.Dimension() == 0 {
		return domain.NewError(domain.KindInput, "query embedding is empty", nil)
	}
	if topK <= 0 {
		return domain.NewError(domain.KindInput, "top_k must be positive", nil)
	}
	return nil
}

// validateRecord checks a record before it enters a namespace.
func validateRecord(rec domain.Record) error {
	if rec.ID == "" {
		return domain.NewError(domain.KindInput, "record id must not be empty", nil)
	}
	if rec.Embedding.Dimension() == 0 {
		return domain.NewError(domain.KindInput, "record embedding is empty", nil)
	}
	switch rec.Embedding.Modality {
	case domain.ModalityText, domain.ModalityImage:
	default:
		return domain.NewError(domain.KindUnsupportedModality, "record modality must be text or image", nil)
	}
	return rec.Metadata.Validate()
}

// checkDimension rejects rec when another record of the same modality in
// records has a different dimension. A record replaced by id is ignored.
func checkDimension(records []domain.Record, rec domain.Record) error {
	for _, existing := range records {
		if existing.ID == rec.ID || existing.Embedding.Modality != rec.Embedding.Modality {
			continue
		}
		if existing.Embedding.Dimension() != rec.Embedding.Dimension() {
			return domain.DimensionMismatch(existing.Embedding.Dimension(), rec.Embedding.Dimension())
		}
		return nil
	}
	return nil
}

func cloneRecord(rec domain.Record) domain.Record {
	vec := make([]float32, len(rec.Embedding.Vector))
	copy(vec, rec.Embedding.Vector)
	rec.Embedding.Vector = vec
	rec.Metadata = rec.Metadata.Clone()
	return rec
}
