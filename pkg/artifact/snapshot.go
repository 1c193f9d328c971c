package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gowebpki/jcs"

	"abiguard/pkg/abi"
)

// Snapshot is the machine-readable form of a catalog. Two runs over the
// same unit produce byte-identical canonical encodings.
type Snapshot struct {
	Tool    string          `json:"tool"`
	Version string          `json:"version"`
	Unit    string          `json:"unit"`
	Symbols []SnapshotEntry `json:"symbols"`
}

type SnapshotEntry struct {
	Name     string           `json:"name"`
	Kind     string           `json:"kind"`
	Growable bool             `json:"growable,omitempty"`
	Size     *int64           `json:"size,omitempty"`
	Fields   []SnapshotField  `json:"fields,omitempty"`
	Members  []SnapshotMember `json:"members,omitempty"`
	Head     string           `json:"head,omitempty"`
	Value    string           `json:"value,omitempty"`
}

type SnapshotField struct {
	Name   string `json:"name"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"` // -1 for a flexible tail
}

type SnapshotMember struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// NewSnapshot records every cataloged symbol in Catalog.Names order.
func NewSnapshot(version, unit string, c *abi.Catalog, p *abi.Policy) (Snapshot, error) {
	s := Snapshot{Tool: "abiguard", Version: version, Unit: unit, Symbols: []SnapshotEntry{}}
	for _, name := range c.Names() {
		sym, _ := c.Get(name)
		e := SnapshotEntry{Name: name, Kind: sym.Kind().String()}
		var err error
		switch v := sym.(type) {
		case *abi.Struct:
			size := v.Size
			e.Size = &size
			for _, f := range v.Fields {
				e.Fields = append(e.Fields, SnapshotField{f.Name, f.Offset, f.Size})
			}
			e.Growable, err = p.GrowableStruct(name)
		case *abi.Enum:
			for _, m := range v.Members {
				e.Members = append(e.Members, SnapshotMember{m.Name, m.Value})
			}
			e.Growable, err = p.GrowableEnum(name)
		case *abi.Macro:
			e.Head, e.Value = v.Head, v.Value
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot %s: %w", name, err)
		}
		s.Symbols = append(s.Symbols, e)
	}
	return s, nil
}

// Canonical is the RFC 8785 encoding of s.
func (s Snapshot) Canonical() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot: %w", err)
	}
	return out, nil
}

// Digest is the hex sha256 of the canonical encoding.
func (s Snapshot) Digest() (string, error) {
	b, err := s.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// WriteSnapshot writes {"digest": ..., "snapshot": ...} in canonical form.
func WriteSnapshot(w io.Writer, s Snapshot) error {
	body, err := s.Canonical()
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	raw, err := json.Marshal(struct {
		Digest   string          `json:"digest"`
		Snapshot json.RawMessage `json:"snapshot"`
	}{hex.EncodeToString(sum[:]), body})
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("canonicalize snapshot envelope: %w", err)
	}
	if _, err := w.Write(append(out, '\n')); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
