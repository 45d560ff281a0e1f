package domain

import (
	"fmt"
	"strings"
)

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// ParseModality accepts "text" or "image" in any case.
func ParseModality(s string) (Modality, error) {
	switch Modality(strings.ToLower(strings.TrimSpace(s))) {
	case ModalityText:
		return ModalityText, nil
	case ModalityImage:
		return ModalityImage, nil
	}
	return "", NewError(KindUnsupportedModality, fmt.Sprintf("unknown modality %q", s), nil)
}

// EmbedInput carries exactly one of Text or Image.
type EmbedInput struct {
	Text  string
	Image []byte
}

// Modality reports which field is populated. Both or neither is an error.
func (in EmbedInput) Modality() (Modality, error) {
	hasText := in.Text != ""
	hasImage := len(in.Image) > 0
	switch {
	case hasText && hasImage:
		return "", NewError(KindUnsupportedModality, "both text and image populated", nil)
	case hasText:
		return ModalityText, nil
	case hasImage:
		return ModalityImage, nil
	}
	return "", NewError(KindUnsupportedModality, "neither text nor image populated", nil)
}

// InputFor wraps raw content of the given modality as an EmbedInput.
func InputFor(m Modality, content []byte) EmbedInput {
	if m == ModalityImage {
		return EmbedInput{Image: content}
	}
	return EmbedInput{Text: string(content)}
}

type Embedding struct {
	Vector   []float32 `json:"vector"`
	Modality Modality  `json:"modality"`
	Model    string    `json:"model,omitempty"`
}

func (e Embedding) Dimension() int {
	return len(e.Vector)
}

// MetaField is one scalar metadata entry. Value holds a string, bool,
// integer or float.
type MetaField struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Metadata keeps insertion order.
type Metadata []MetaField

func (m Metadata) Get(key string) (any, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces an existing key in place or appends a new one.
func (m Metadata) Set(key string, value any) Metadata {
	for i := range m {
		if m[i].Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, MetaField{Key: key, Value: value})
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	copy(out, m)
	return out
}

// Validate rejects empty keys and non-scalar values.
func (m Metadata) Validate() error {
	for _, f := range m {
		if f.Key == "" {
			return NewError(KindInput, "metadata key must not be empty", nil)
		}
		switch f.Value.(type) {
		case nil, string, bool, int, int32, int64, float32, float64:
		default:
			return NewError(KindInput, fmt.Sprintf("metadata %q: value must be a scalar", f.Key), nil)
		}
	}
	return nil
}

type Record struct {
	ID         string    `json:"id"`
	Embedding  Embedding `json:"embedding"`
	ContentRef string    `json:"content_ref"`
	Metadata   Metadata  `json:"metadata,omitempty"`
}

type NamespaceKind string

const (
	NamespaceShared  NamespaceKind = "shared"
	NamespacePrivate NamespaceKind = "private"
)

type Namespace struct {
	Kind     NamespaceKind
	Identity string
}

func SharedNamespace() Namespace {
	return Namespace{Kind: NamespaceShared}
}

func PrivateNamespace(identity string) Namespace {
	return Namespace{Kind: NamespacePrivate, Identity: identity}
}

// NamespaceFor maps an optional caller identity to the namespace its
// writes go to.
func NamespaceFor(identity string) Namespace {
	if identity == "" {
		return SharedNamespace()
	}
	return PrivateNamespace(identity)
}

// Key is the canonical string form: "shared" or "private:<identity>".
func (n Namespace) Key() string {
	if n.Kind == NamespacePrivate {
		return string(NamespacePrivate) + ":" + n.Identity
	}
	return string(NamespaceShared)
}

func (n Namespace) String() string {
	return n.Key()
}

func (n Namespace) Validate() error {
	switch n.Kind {
	case NamespaceShared:
		if n.Identity != "" {
			return NewError(KindInput, "shared namespace carries no identity", nil)
		}
		return nil
	case NamespacePrivate:
		if n.Identity == "" {
			return NewError(KindInput, "private namespace requires an identity", nil)
		}
		return nil
	}
	return NewError(KindInput, fmt.Sprintf("unknown namespace kind %q", n.Kind), nil)
}

// ParseNamespace is the inverse of Namespace.Key.
func ParseNamespace(key string) (Namespace, error) {
	if key == string(NamespaceShared) {
		return SharedNamespace(), nil
	}
	if identity, ok := strings.CutPrefix(key, string(NamespacePrivate)+":"); ok && identity != "" {
		return PrivateNamespace(identity), nil
	}
	return Namespace{}, NewError(KindInput, fmt.Sprintf("invalid namespace %q", key), nil)
}

type SearchHit struct {
	RecordID      string        `json:"record_id"`
	Score         float64       `json:"score"`
	Modality      Modality      `json:"modality"`
	NamespaceKind NamespaceKind `json:"namespace_kind"`
	ContentRef    string        `json:"content_ref"`
	Metadata      Metadata      `json:"metadata,omitempty"`
}

// ContextEntry is a resolved hit. Text is set for text entries; Content
// always holds the original bytes.
type ContextEntry struct {
	RecordID      string        `json:"record_id"`
	Modality      Modality      `json:"modality"`
	Score         float64       `json:"score"`
	NamespaceKind NamespaceKind `json:"namespace_kind"`
	ContentRef    string        `json:"content_ref"`
	Text          string        `json:"text,omitempty"`
	Content       []byte        `json:"content,omitempty"`
	Metadata      Metadata      `json:"metadata,omitempty"`
}

func (e ContextEntry) Size() int {
	return len(e.Content)
}

type RetrievalContext struct {
	Query       string         `json:"query,omitempty"`
	Entries     []ContextEntry `json:"entries"`
	UsedBytes   int            `json:"used_bytes"`
	BudgetBytes int            `json:"budget_bytes,omitempty"`
	MaxEntries  int            `json:"max_entries,omitempty"`
	// Degraded lists namespaces that did not answer in time.
	Degraded []string `json:"degraded,omitempty"`
}

type Answer struct {
	Answer    string         `json:"answer"`
	Citations []ContextEntry `json:"citations"`
	Generator string         `json:"generator,omitempty"`
	Degraded  []string       `json:"degraded,omitempty"`
}

// Unit is one piece of extracted content ready for ingestion.
type Unit struct {
	Source   string
	Modality Modality
	Content  []byte
	Metadata Metadata
}
