package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"mmrag/internal/domain"
)

// imageShingle is the byte window hashed for image features.
const imageShingle = 4

// HashEmbedder is a deterministic local embedder based on signed feature
// hashing. Text features are lowercased words minus stopwords; image
// features are byte shingles. Vectors are L2-normalised, so texts sharing
// words score above unrelated texts. It needs no model and is used as the
// default and in tests.
type HashEmbedder struct {
	dimension int
	model     string
	stopwords map[string]struct{}
}

// NewHashEmbedder creates a HashEmbedder producing vectors of dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{
		dimension: dimension,
		model:     "hash-v1",
		stopwords: defaultStopwords(),
	}
}

func (e *HashEmbedder) Embed(ctx context.Context, input domain.EmbedInput) (domain.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return domain.Embedding{}, err
	}
	modality, err := input.Modality()
	if err != nil {
		return domain.Embedding{}, err
	}

	vec := make([]float32, e.dimension)
	switch modality {
	case domain.ModalityText:
		for _, tok := range e.Tokenize(input.Text) {
			e.add(vec, xxhash.Sum64String(tok))
		}
	case domain.ModalityImage:
		img := input.Image
		if len(img) < imageShingle {
			e.add(vec, xxhash.Sum64(img))
		}
		for i := 0; i+imageShingle <= len(img); i++ {
			e.add(vec, xxhash.Sum64(img[i:i+imageShingle]))
		}
	}
	normalize(vec)

	return domain.Embedding{Vector: vec, Modality: modality, Model: e.model}, nil
}

// add folds one hashed feature into vec: the low bits pick the bucket, the
// top bit the sign.
func (e *HashEmbedder) add(vec []float32, h uint64) {
	idx := h % uint64(len(vec))
	if h>>63 == 0 {
		vec[idx]++
	} else {
		vec[idx]--
	}
}

// Tokenize splits text into lowercase word tokens, dropping stopwords and
// single characters.
func (e *HashEmbedder) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len([]rune(word)) < 2 {
			continue
		}
		if _, isStop := e.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}

	return tokens
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return e.model
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// splitWords splits text into words using unicode word boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// defaultStopwords returns a set of common English stopwords.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
