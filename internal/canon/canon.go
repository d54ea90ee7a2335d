// Package canon encodes JSON for audit lines and command output. Map keys
// are sorted and HTML characters are left as is, so service messages such as
// "ImpTotal <> ImpNeto + ImpIVA" stay readable.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Encode returns the compact encoding of v without a trailing newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := newEncoder(&buf, "").Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteIndented writes v to w indented by two spaces, followed by a newline.
func WriteIndented(w io.Writer, v any) error {
	if err := newEncoder(w, "  ").Encode(v); err != nil {
		return fmt.Errorf("canonical encoding failed: %w", err)
	}
	return nil
}

func newEncoder(w io.Writer, indent string) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc
}
