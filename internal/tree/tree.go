// Package tree implements the replica's key/value state as a
// history-independent hash tree stored in chunks.
//
// A node at depth d holding entry set S is a leaf when |S| <= 32, with
// entries sorted by key. Otherwise it is an internal node with up to 16
// children, partitioned by the d-th nibble of ir.KeyDigest(key). The shape
// depends only on S, so two maps with equal contents have equal root
// hashes however they were built.
//
// Updates are copy-on-write: Apply rewrites the path to each touched key
// and references untouched children by hash.
package tree

import (
	"context"
	"sort"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/ir"
)

// Mutation sets or deletes one key.
type Mutation struct {
	Key    string
	Value  ir.Value
	Delete bool
}

// Put returns a mutation that sets key to v.
func Put(key string, v ir.Value) Mutation {
	return Mutation{Key: key, Value: v}
}

// Del returns a mutation that deletes key.
func Del(key string) Mutation {
	return Mutation{Key: key, Delete: true}
}

// EmptyRoot stores the empty leaf and returns its hash.
func EmptyRoot(ctx context.Context, w chunk.Writer) (ir.Hash, error) {
	return store(ctx, w, &node{leaf: true, entries: []Entry{}})
}

// Get returns the value stored under key.
func Get(ctx context.Context, r chunk.Reader, root ir.Hash, key string) (ir.Value, bool, error) {
	h, parent := root, ir.EmptyHash
	for depth := 0; ; depth++ {
		n, err := load(ctx, r, h, parent)
		if err != nil {
			return nil, false, err
		}
		if n.leaf {
			i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].Key >= key })
			if i < len(n.entries) && n.entries[i].Key == key {
				return n.entries[i].Value, true, nil
			}
			return nil, false, nil
		}
		nib := nibble(key, depth)
		next := ir.EmptyHash
		for _, s := range n.slots {
			if s.nibble == nib {
				next = s.hash
				break
			}
		}
		if next.IsEmpty() {
			return nil, false, nil
		}
		h, parent = next, h
	}
}

// Has reports whether key is present.
func Has(ctx context.Context, r chunk.Reader, root ir.Hash, key string) (bool, error) {
	_, ok, err := Get(ctx, r, root, key)
	return ok, err
}

// Len returns the number of entries under root without visiting children.
func Len(ctx context.Context, r chunk.Reader, root ir.Hash) (int, error) {
	n, err := load(ctx, r, root, ir.EmptyHash)
	if err != nil {
		return 0, err
	}
	return n.count(), nil
}

// Entries returns every entry sorted by key.
func Entries(ctx context.Context, r chunk.Reader, root ir.Hash) ([]Entry, error) {
	out, err := collect(ctx, r, root, ir.EmptyHash, nil)
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

// Apply applies muts to the tree at root and returns the new root. When
// several mutations name the same key the last one wins.
func Apply(ctx context.Context, w chunk.Writer, root ir.Hash, muts []Mutation) (ir.Hash, error) {
	if len(muts) == 0 {
		return root, nil
	}
	h, _, err := apply(ctx, w, root, ir.EmptyHash, 0, normalize(muts))
	return h, err
}

// normalize sorts mutations by key and keeps the last one for each key.
func normalize(muts []Mutation) []Mutation {
	last := make(map[string]Mutation, len(muts))
	for _, m := range muts {
		last[m.Key] = m
	}
	out := make([]Mutation, 0, len(last))
	for _, m := range last {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// apply rewrites the subtree at h and returns its new hash and size.
// An empty h is an absent subtree.
func apply(ctx context.Context, w chunk.Writer, h, parent ir.Hash, depth int, muts []Mutation) (ir.Hash, int, error) {
	n := &node{leaf: true}
	if !h.IsEmpty() {
		var err error
		if n, err = load(ctx, w, h, parent); err != nil {
			return "", 0, err
		}
	}

	if n.leaf {
		entries := mergeLeaf(n.entries, muts)
		if len(entries) == 0 && depth > 0 {
			return "", 0, nil
		}
		nh, err := build(ctx, w, depth, entries)
		return nh, len(entries), err
	}

	var groups [fanout][]Mutation
	for _, m := range muts {
		nib := nibble(m.Key, depth)
		groups[nib] = append(groups[nib], m)
	}

	var current [fanout]slot
	for _, s := range n.slots {
		current[s.nibble] = s
	}

	total := 0
	for nib := range fanout {
		if len(groups[nib]) > 0 {
			ch, cnt, err := apply(ctx, w, current[nib].hash, h, depth+1, groups[nib])
			if err != nil {
				return "", 0, err
			}
			current[nib] = slot{nibble: byte(nib), count: cnt, hash: ch}
		}
		total += current[nib].count
	}

	if total <= MaxLeafEntries {
		// Collapse: a small set is always a single leaf.
		var entries []Entry
		for _, s := range current {
			if s.count == 0 {
				continue
			}
			var err error
			if entries, err = collect(ctx, w, s.hash, h, entries); err != nil {
				return "", 0, err
			}
		}
		if entries == nil {
			entries = []Entry{}
		}
		if len(entries) == 0 && depth > 0 {
			return "", 0, nil
		}
		sortEntries(entries)
		nh, err := store(ctx, w, &node{leaf: true, entries: entries})
		return nh, len(entries), err
	}

	out := &node{}
	for _, s := range current {
		if s.count > 0 {
			out.slots = append(out.slots, s)
		}
	}
	nh, err := store(ctx, w, out)
	return nh, total, err
}

// mergeLeaf applies sorted mutations to sorted entries.
func mergeLeaf(entries []Entry, muts []Mutation) []Entry {
	out := make([]Entry, 0, len(entries)+len(muts))
	i, j := 0, 0
	for i < len(entries) || j < len(muts) {
		switch {
		case j == len(muts) || (i < len(entries) && entries[i].Key < muts[j].Key):
			out = append(out, entries[i])
			i++
		case i == len(entries) || muts[j].Key < entries[i].Key:
			if !muts[j].Delete {
				out = append(out, Entry{Key: muts[j].Key, Value: muts[j].Value})
			}
			j++
		default:
			if !muts[j].Delete {
				out = append(out, Entry{Key: muts[j].Key, Value: muts[j].Value})
			}
			i++
			j++
		}
	}
	return out
}
