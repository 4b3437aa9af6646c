package jcs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalizeJSON returns the RFC 8785 (JCS) canonical form of JSON input.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// MarshalStable encodes value with sorted keys, two-space indentation and a
// trailing newline. Equal values always encode to identical bytes.
func MarshalStable(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize json: %w", err)
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, canonical, "", "  "); err != nil {
		return nil, fmt.Errorf("indent json: %w", err)
	}
	indented.WriteByte('\n')
	return indented.Bytes(), nil
}
