package tree

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/ir"
)

const (
	// MaxLeafEntries is the largest entry set stored in a single leaf.
	MaxLeafEntries = 32

	// fanout is the number of children of an internal node, one per nibble.
	fanout = 16

	// maxDepth is the number of nibbles in a key digest.
	maxDepth = 64

	kindLeaf     = "leaf"
	kindInternal = "node"
)

// Entry is one key/value pair.
type Entry struct {
	Key   string
	Value ir.Value
}

// slot is one populated child of an internal node.
type slot struct {
	nibble byte
	count  int
	hash   ir.Hash
}

// node is the decoded form of a tree chunk. Leaves hold entries sorted by
// key; internal nodes hold populated slots sorted by nibble.
type node struct {
	leaf    bool
	entries []Entry
	slots   []slot
}

func (n *node) count() int {
	if n.leaf {
		return len(n.entries)
	}
	total := 0
	for _, s := range n.slots {
		total += s.count
	}
	return total
}

// encode renders the node payload and refs. Leaf payload:
//
//	{"e":[[key,value],...],"t":"leaf"}
//
// Internal payload, with refs holding the child hashes in slot order:
//
//	{"c":[[nibble,count],...],"n":total,"t":"node"}
func (n *node) encode() ([]byte, []ir.Hash, error) {
	var payload ir.Object
	var refs []ir.Hash
	if n.leaf {
		entries := make(ir.Array, len(n.entries))
		for i, e := range n.entries {
			entries[i] = ir.Array{ir.String(e.Key), e.Value}
		}
		payload = ir.Object{"t": ir.String(kindLeaf), "e": entries}
	} else {
		slots := make(ir.Array, len(n.slots))
		refs = make([]ir.Hash, len(n.slots))
		for i, s := range n.slots {
			slots[i] = ir.Array{ir.Int(s.nibble), ir.Int(s.count)}
			refs[i] = s.hash
		}
		payload = ir.Object{
			"t": ir.String(kindInternal),
			"n": ir.Int(n.count()),
			"c": slots,
		}
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode tree node: %w", err)
	}
	return data, refs, nil
}

func decode(c chunk.Chunk) (*node, error) {
	v, err := ir.ParseJSON(c.Data)
	if err != nil {
		return nil, fmt.Errorf("decode tree node %s: %w", c.Hash.Short(), err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("decode tree node %s: payload is %s", c.Hash.Short(), ir.KindOf(v))
	}
	kind, _ := obj["t"].(ir.String)
	switch string(kind) {
	case kindLeaf:
		raw, ok := obj["e"].(ir.Array)
		if !ok {
			return nil, fmt.Errorf("decode tree leaf %s: missing entries", c.Hash.Short())
		}
		n := &node{leaf: true, entries: make([]Entry, 0, len(raw))}
		for _, item := range raw {
			pair, ok := item.(ir.Array)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("decode tree leaf %s: malformed entry", c.Hash.Short())
			}
			key, ok := pair[0].(ir.String)
			if !ok {
				return nil, fmt.Errorf("decode tree leaf %s: non-string key", c.Hash.Short())
			}
			n.entries = append(n.entries, Entry{Key: string(key), Value: pair[1]})
		}
		return n, nil

	case kindInternal:
		raw, ok := obj["c"].(ir.Array)
		if !ok || len(raw) != len(c.Refs) {
			return nil, fmt.Errorf("decode tree node %s: slot/ref mismatch", c.Hash.Short())
		}
		n := &node{slots: make([]slot, len(raw))}
		for i, item := range raw {
			pair, ok := item.(ir.Array)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("decode tree node %s: malformed slot", c.Hash.Short())
			}
			nib, ok1 := pair[0].(ir.Int)
			cnt, ok2 := pair[1].(ir.Int)
			if !ok1 || !ok2 || nib < 0 || nib >= fanout || cnt <= 0 {
				return nil, fmt.Errorf("decode tree node %s: malformed slot", c.Hash.Short())
			}
			n.slots[i] = slot{nibble: byte(nib), count: int(cnt), hash: c.Refs[i]}
		}
		return n, nil
	}
	return nil, fmt.Errorf("decode tree node %s: unknown node type %q", c.Hash.Short(), kind)
}

// load reads and decodes a node. parent names the referencing chunk; when
// set, a missing node is reported as a corrupt graph.
func load(ctx context.Context, r chunk.Reader, h ir.Hash, parent ir.Hash) (*node, error) {
	c, err := r.Get(ctx, h)
	if err != nil {
		if chunk.IsNotFound(err) && !parent.IsEmpty() {
			return nil, &chunk.CorruptGraphError{Hash: h, Parent: parent.String()}
		}
		return nil, err
	}
	return decode(c)
}

func store(ctx context.Context, w chunk.Writer, n *node) (ir.Hash, error) {
	data, refs, err := n.encode()
	if err != nil {
		return "", err
	}
	return w.Put(ctx, data, refs)
}

// nibble returns the d-th 4-bit digit of the key digest.
func nibble(key string, depth int) byte {
	d := ir.KeyDigest(key)
	b := d[depth/2]
	if depth%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// build stores the canonical node for a sorted entry set at depth.
func build(ctx context.Context, w chunk.Writer, depth int, entries []Entry) (ir.Hash, error) {
	if len(entries) <= MaxLeafEntries || depth >= maxDepth {
		return store(ctx, w, &node{leaf: true, entries: entries})
	}

	var buckets [fanout][]Entry
	for _, e := range entries {
		nib := nibble(e.Key, depth)
		buckets[nib] = append(buckets[nib], e)
	}

	n := &node{}
	for nib, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		h, err := build(ctx, w, depth+1, bucket)
		if err != nil {
			return "", err
		}
		n.slots = append(n.slots, slot{nibble: byte(nib), count: len(bucket), hash: h})
	}
	return store(ctx, w, n)
}

// collect appends every entry under h.
func collect(ctx context.Context, r chunk.Reader, h ir.Hash, parent ir.Hash, out []Entry) ([]Entry, error) {
	n, err := load(ctx, r, h, parent)
	if err != nil {
		return nil, err
	}
	if n.leaf {
		return append(out, n.entries...), nil
	}
	for _, s := range n.slots {
		out, err = collect(ctx, r, s.hash, h, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
