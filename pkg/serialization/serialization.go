// Package serialization encodes cache envelopes for the remote store.
package serialization

import (
	"fmt"
	"strings"
)

const (

	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Codec converts values to and from bytes.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ByName returns the codec registered under name. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", JSONType:
		return JSON{}, nil
	case GobType:
		return Gob{}, nil
	default:
		return nil, fmt.Errorf("unknown serialization type %q", name)
	}
}
