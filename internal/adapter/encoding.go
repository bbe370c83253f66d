package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON defines an interface for JSON operations
type JSON interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// RealJSON implements JSON using the standard encoding/json package
type RealJSON struct{}

// NewJSON creates a new real JSON implementation
func NewJSON() JSON {
	return &RealJSON{}
}

func (j *RealJSON) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (j *RealJSON) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Canonicalizer renders values as RFC 8785 canonical JSON so that equal
// requests always hash to the same digest
type Canonicalizer interface {
	Canonicalize(v interface{}) ([]byte, error)
	// Digest returns the hex SHA-256 of the canonical form of v
	Digest(v interface{}) (string, error)
}

// JCSCanonicalizer implements Canonicalizer with gowebpki/jcs
type JCSCanonicalizer struct {
	json JSON
}

// NewCanonicalizer creates a JCS based canonicalizer
func NewCanonicalizer(j JSON) Canonicalizer {
	return &JCSCanonicalizer{json: j}
}

func (c *JCSCanonicalizer) Canonicalize(v interface{}) ([]byte, error) {
	raw, err := c.json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize json: %w", err)
	}
	return canonical, nil
}

func (c *JCSCanonicalizer) Digest(v interface{}) (string, error) {
	canonical, err := c.Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
