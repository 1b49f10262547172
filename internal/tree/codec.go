package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Decode reads a JSON array of records and loads it. Numbers are decoded as
// json.Number so large ids keep their precision.
func Decode(r io.Reader) (*Tree, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("tree: decode collection: %w", err)
	}
	return Load(records)
}

// Unmarshal is Decode over a byte slice. An empty input is an empty tree.
func Unmarshal(data []byte) (*Tree, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}
	return Decode(bytes.NewReader(data))
}

// Encode dumps t and writes it as a JSON array with four-space indentation.
func (t *Tree) Encode(w io.Writer) error {
	records, err := t.Dump()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("tree: encode collection: %w", err)
	}
	return nil
}

// Marshal is Encode into a byte slice.
func (t *Tree) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
