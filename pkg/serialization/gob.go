package serialization

import (
	"bytes"
	"encoding/gob"
)

// Gob encodes values with encoding/gob.
type Gob struct{}

func (Gob) Name() string { return GobType }

// Marshal serializes v using a fresh gob encoder, so every payload carries its own type description.
func (Gob) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a payload produced by Marshal into v.
func (Gob) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
