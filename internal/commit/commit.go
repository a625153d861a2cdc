// Package commit layers the replica's commit graph on the chunk store.
//
// A commit is a chunk whose payload is canonical JSON metadata and whose
// first ref is the root of its value tree. Two variants exist:
//
//   - Snapshot: server-confirmed state carrying a cookie and the last
//     mutation ID applied for each client. Refs are [value]; the basis is
//     recorded in the payload only, so history behind a snapshot becomes
//     collectible once nothing else reaches it.
//   - Local: one pending client mutation. Refs are [value, basis], keeping
//     the whole pending chain alive down to its base snapshot.
package commit

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/ir"
)

// Meta is the variant-specific part of a commit. It is implemented only by
// SnapshotMeta and LocalMeta; callers switch on the concrete type.
type Meta interface {
	Basis() ir.Hash
	isMeta()
}

// SnapshotMeta describes a server-confirmed state.
type SnapshotMeta struct {
	BasisHash       ir.Hash
	Cookie          cookie.Cookie
	LastMutationIDs map[string]uint64
}

func (m SnapshotMeta) Basis() ir.Hash { return m.BasisHash }
func (SnapshotMeta) isMeta()          {}

// LocalMeta describes one pending mutation.
type LocalMeta struct {
	BasisHash   ir.Hash
	MutatorName string
	MutatorArgs ir.Value
	MutationID  uint64
	ClientID    string
	// Timestamp is the creation time in Unix milliseconds.
	Timestamp int64
}

func (m LocalMeta) Basis() ir.Hash { return m.BasisHash }
func (LocalMeta) isMeta()          {}

// Commit is a decoded commit chunk.
type Commit struct {
	Hash      ir.Hash
	ValueHash ir.Hash
	Meta      Meta
}

// IsSnapshot reports whether c is a snapshot.
func (c Commit) IsSnapshot() bool {
	_, ok := c.Meta.(SnapshotMeta)
	return ok
}

// IsLocal reports whether c is a local mutation.
func (c Commit) IsLocal() bool {
	_, ok := c.Meta.(LocalMeta)
	return ok
}

// Basis returns the hash of the commit c was built on.
func (c Commit) Basis() ir.Hash {
	return c.Meta.Basis()
}

// Local returns the local metadata, or false for a snapshot.
func (c Commit) Local() (LocalMeta, bool) {
	m, ok := c.Meta.(LocalMeta)
	return m, ok
}

// Snapshot returns the snapshot metadata, or false for a local commit.
func (c Commit) Snapshot() (SnapshotMeta, bool) {
	m, ok := c.Meta.(SnapshotMeta)
	return m, ok
}

const (
	typeSnapshot = "snapshot"
	typeLocal    = "local"
)

// Encode renders the chunk payload and refs for a commit.
func Encode(meta Meta, value ir.Hash) ([]byte, []ir.Hash, error) {
	if value.IsEmpty() {
		return nil, nil, fmt.Errorf("encode commit: empty value hash")
	}
	basis := hashValue(meta.Basis())

	var (
		payload ir.Object
		refs    []ir.Hash
	)
	switch m := meta.(type) {
	case SnapshotMeta:
		ck, err := m.Cookie.MarshalJSON()
		if err != nil {
			return nil, nil, fmt.Errorf("encode commit: %w", err)
		}
		lmids := make(ir.Object, len(m.LastMutationIDs))
		for id, n := range m.LastMutationIDs {
			if n > math.MaxInt64 {
				return nil, nil, fmt.Errorf("encode commit: last mutation ID %d for %q out of range", n, id)
			}
			lmids[id] = ir.Int(n)
		}
		payload = ir.Object{
			"type":            ir.String(typeSnapshot),
			"basis":           basis,
			"cookie":          ir.String(ck),
			"lastMutationIDs": lmids,
			"value":           ir.String(value),
		}
		refs = []ir.Hash{value}

	case LocalMeta:
		if m.BasisHash.IsEmpty() {
			return nil, nil, fmt.Errorf("encode commit: local commit without basis")
		}
		if m.MutationID == 0 || m.MutationID > math.MaxInt64 {
			return nil, nil, fmt.Errorf("encode commit: mutation ID %d out of range", m.MutationID)
		}
		args := m.MutatorArgs
		if args == nil {
			args = ir.Null{}
		}
		payload = ir.Object{
			"type":       ir.String(typeLocal),
			"basis":      basis,
			"mutator":    ir.String(m.MutatorName),
			"args":       args,
			"mutationID": ir.Int(m.MutationID),
			"clientID":   ir.String(m.ClientID),
			"timestamp":  ir.Int(m.Timestamp),
			"value":      ir.String(value),
		}
		refs = []ir.Hash{value, m.BasisHash}

	default:
		return nil, nil, fmt.Errorf("encode commit: unknown meta %T", meta)
	}

	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode commit: %w", err)
	}
	return data, refs, nil
}

func hashValue(h ir.Hash) ir.Value {
	if h.IsEmpty() {
		return ir.Null{}
	}
	return ir.String(h)
}

// Put stores a commit and returns it decoded.
func Put(ctx context.Context, w chunk.Writer, meta Meta, value ir.Hash) (Commit, error) {
	data, refs, err := Encode(meta, value)
	if err != nil {
		return Commit{}, err
	}
	h, err := w.Put(ctx, data, refs)
	if err != nil {
		return Commit{}, fmt.Errorf("put commit: %w", err)
	}
	return Commit{Hash: h, ValueHash: value, Meta: meta}, nil
}

// Decode parses a commit chunk.
func Decode(c chunk.Chunk) (Commit, error) {
	v, err := ir.ParseJSON(c.Data)
	if err != nil {
		return Commit{}, fmt.Errorf("decode commit %s: %w", c.Hash.Short(), err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return Commit{}, fmt.Errorf("decode commit %s: payload is %s", c.Hash.Short(), ir.KindOf(v))
	}
	bad := func(field string) error {
		return fmt.Errorf("decode commit %s: bad %s", c.Hash.Short(), field)
	}

	value, ok := obj["value"].(ir.String)
	if !ok || len(c.Refs) == 0 || c.Refs[0] != ir.Hash(value) {
		return Commit{}, bad("value")
	}
	var basis ir.Hash
	switch b := obj["basis"].(type) {
	case ir.Null:
	case ir.String:
		basis = ir.Hash(b)
	default:
		return Commit{}, bad("basis")
	}

	out := Commit{Hash: c.Hash, ValueHash: ir.Hash(value)}
	typ, _ := obj["type"].(ir.String)
	switch string(typ) {
	case typeSnapshot:
		text, ok := obj["cookie"].(ir.String)
		if !ok {
			return Commit{}, bad("cookie")
		}
		ck, err := cookie.Parse([]byte(text))
		if err != nil {
			return Commit{}, fmt.Errorf("decode commit %s: %w", c.Hash.Short(), err)
		}
		raw, ok := obj["lastMutationIDs"].(ir.Object)
		if !ok {
			return Commit{}, bad("lastMutationIDs")
		}
		lmids := make(map[string]uint64, len(raw))
		for id, n := range raw {
			i, ok := n.(ir.Int)
			if !ok || i < 0 {
				return Commit{}, bad("lastMutationIDs")
			}
			lmids[id] = uint64(i)
		}
		out.Meta = SnapshotMeta{BasisHash: basis, Cookie: ck, LastMutationIDs: lmids}

	case typeLocal:
		if len(c.Refs) != 2 || c.Refs[1] != basis {
			return Commit{}, bad("basis")
		}
		name, ok1 := obj["mutator"].(ir.String)
		mid, ok2 := obj["mutationID"].(ir.Int)
		client, ok3 := obj["clientID"].(ir.String)
		ts, ok4 := obj["timestamp"].(ir.Int)
		args, ok5 := obj["args"]
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || mid <= 0 {
			return Commit{}, bad("local meta")
		}
		out.Meta = LocalMeta{
			BasisHash:   basis,
			MutatorName: string(name),
			MutatorArgs: args,
			MutationID:  uint64(mid),
			ClientID:    string(client),
			Timestamp:   int64(ts),
		}

	default:
		return Commit{}, fmt.Errorf("decode commit %s: unknown type %q", c.Hash.Short(), typ)
	}
	return out, nil
}

// ClientIDs returns the clients named in a snapshot's last mutation IDs,
// sorted.
func (m SnapshotMeta) ClientIDs() []string {
	ids := make([]string, 0, len(m.LastMutationIDs))
	for id := range m.LastMutationIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
