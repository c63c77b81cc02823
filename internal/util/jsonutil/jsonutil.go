// Package jsonutil encodes records that people read directly from disk,
// buckets or database rows.
package jsonutil

import (
	"bytes"
	"encoding/json"

	"go.trai.ch/zerr"
)

// MarshalNoEscape encodes v without escaping <, > and & so diagram markup
// such as "A-->B" stays readable in stored records.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalFlex decodes raw into v. A document that was stored as a JSON
// string, i.e. encoded twice, is unwrapped once first.
func UnmarshalFlex(raw []byte, v any) error {
	err := json.Unmarshal(raw, v)
	if err == nil {
		return nil
	}
	var inner string
	if json.Unmarshal(raw, &inner) != nil {
		return zerr.Wrap(err, "decode json")
	}
	if err := json.Unmarshal([]byte(inner), v); err != nil {
		return zerr.Wrap(err, "decode double-encoded json")
	}
	return nil
}
