package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/replica/internal/ir"
)

// marshalRefs converts child hashes to JSON TEXT for storage.
// Order is preserved; it is part of the chunk hash.
func marshalRefs(refs []ir.Hash) (string, error) {
	if len(refs) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("marshal refs: %w", err)
	}
	return string(data), nil
}

// unmarshalRefs parses JSON TEXT written by marshalRefs.
func unmarshalRefs(data string) ([]ir.Hash, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var refs []ir.Hash
	if err := json.Unmarshal([]byte(data), &refs); err != nil {
		return nil, fmt.Errorf("unmarshal refs: %w", err)
	}
	for _, h := range refs {
		if _, err := ir.ParseHash(string(h)); err != nil {
			return nil, fmt.Errorf("unmarshal refs: %w", err)
		}
	}
	return refs, nil
}
