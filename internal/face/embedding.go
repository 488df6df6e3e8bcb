package face

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// EmbeddingSize is the vector length produced by the in-browser face model.
const EmbeddingSize = 128

// Embedding is a fixed-length face descriptor. Compared by similarity,
// never by equality.
type Embedding []float64

var (
	ErrBadLength    = fmt.Errorf("embedding must have exactly %d elements", EmbeddingSize)
	ErrNotFinite    = errors.New("embedding contains a non-finite value")
	ErrEmptyPayload = errors.New("embedding payload is empty")
)

// Validate reports whether e is a well-formed embedding: exactly
// EmbeddingSize elements, all finite.
func (e Embedding) Validate() error {
	if len(e) != EmbeddingSize {
		return ErrBadLength
	}
	for _, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNotFinite
		}
	}
	return nil
}

// ParseEmbedding decodes a JSON array serialization of an embedding and
// validates it. Roster rows store embeddings in this form.
func ParseEmbedding(raw string) (Embedding, error) {
	if raw == "" {
		return nil, ErrEmptyPayload
	}
	var e Embedding
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Serialize returns the JSON array form used for roster storage.
func (e Embedding) Serialize() (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
