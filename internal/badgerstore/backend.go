package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/ir"
)

const (
	prefixChunk = "c/"
	prefixCount = "r/"
	prefixPin   = "p/"
	prefixHead  = "h/"
)

// Backend is a chunk.Backend over BadgerDB.
type Backend struct {
	db      *badger.DB
	gc      *gcRunner
	writeMu sync.Mutex
}

// Open opens a backend with the given configuration. A value log GC
// runner is started when cfg.GCInterval is positive and the database is
// on disk.
func Open(cfg Config) (*Backend, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	b := &Backend{db: db}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		b.gc = runner
		runner.start()
	}
	return b, nil
}

// OpenInMemory opens a backend with InMemoryConfig.
func OpenInMemory() (*Backend, error) {
	return Open(InMemoryConfig())
}

// Close stops the GC runner and closes the database.
func (b *Backend) Close() error {
	if b.gc != nil {
		b.gc.stop()
		b.gc = nil
	}
	if b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}

func (b *Backend) View(ctx context.Context, fn func(chunk.BackendReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return chunk.ErrClosed
	}
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (b *Backend) Update(ctx context.Context, fn func(chunk.BackendWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.db.IsClosed() {
		return chunk.ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// record is the stored form of a chunk.
type record struct {
	Data []byte    `json:"d"`
	Refs []ir.Hash `json:"r,omitempty"`
}

type badgerTx struct {
	txn *badger.Txn
}

func key(prefix, id string) []byte {
	return []byte(prefix + id)
}

func (t *badgerTx) get(k []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *badgerTx) getCounter(k []byte) (int64, error) {
	v, ok, err := t.get(k)
	if err != nil || !ok {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("counter %s: bad length %d", k, len(v))
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

func (t *badgerTx) setCounter(k []byte, n int64) error {
	if n == 0 {
		return t.txn.Delete(k)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return t.txn.Set(k, buf[:])
}

// keys returns every key suffix under prefix, in key order.
func (t *badgerTx) keys(prefix string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Item().Key()), prefix))
	}
	return out, nil
}

func (t *badgerTx) GetChunk(_ context.Context, h ir.Hash) (chunk.Chunk, bool, error) {
	v, ok, err := t.get(key(prefixChunk, string(h)))
	if err != nil {
		return chunk.Chunk{}, false, fmt.Errorf("get chunk: %w", err)
	}
	if !ok {
		return chunk.Chunk{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(v, &rec); err != nil {
		return chunk.Chunk{}, false, fmt.Errorf("decode chunk %s: %w", h.Short(), err)
	}
	return chunk.Chunk{Hash: h, Data: rec.Data, Refs: rec.Refs}, true, nil
}

func (t *badgerTx) RefCount(_ context.Context, h ir.Hash) (int64, error) {
	return t.getCounter(key(prefixCount, string(h)))
}

func (t *badgerTx) PinCount(_ context.Context, h ir.Hash) (int64, error) {
	return t.getCounter(key(prefixPin, string(h)))
}

func (t *badgerTx) GetHead(_ context.Context, name string) (ir.Hash, bool, error) {
	v, ok, err := t.get(key(prefixHead, name))
	if err != nil {
		return "", false, fmt.Errorf("get head: %w", err)
	}
	return ir.Hash(v), ok, nil
}

func (t *badgerTx) Heads(ctx context.Context) (map[string]ir.Hash, error) {
	names, err := t.keys(prefixHead)
	if err != nil {
		return nil, err
	}
	heads := make(map[string]ir.Hash, len(names))
	for _, name := range names {
		h, ok, err := t.GetHead(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			heads[name] = h
		}
	}
	return heads, nil
}

func (t *badgerTx) Unreferenced(ctx context.Context) ([]ir.Hash, error) {
	hashes, err := t.keys(prefixChunk)
	if err != nil {
		return nil, err
	}
	var out []ir.Hash
	for _, s := range hashes {
		n, err := t.RefCount(ctx, ir.Hash(s))
		if err != nil {
			return nil, err
		}
		if n == 0 {
			out = append(out, ir.Hash(s))
		}
	}
	return out, nil
}

func (t *badgerTx) ChunkCount(context.Context) (int, error) {
	hashes, err := t.keys(prefixChunk)
	return len(hashes), err
}

func (t *badgerTx) PutChunk(ctx context.Context, c chunk.Chunk) error {
	k := key(prefixChunk, string(c.Hash))
	if _, ok, err := t.get(k); err != nil || ok {
		return err
	}
	v, err := json.Marshal(record{Data: c.Data, Refs: c.Refs})
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	return t.txn.Set(k, v)
}

func (t *badgerTx) DeleteChunk(_ context.Context, h ir.Hash) error {
	if err := t.txn.Delete(key(prefixChunk, string(h))); err != nil {
		return err
	}
	return t.txn.Delete(key(prefixCount, string(h)))
}

func (t *badgerTx) SetRefCount(_ context.Context, h ir.Hash, n int64) error {
	return t.setCounter(key(prefixCount, string(h)), n)
}

func (t *badgerTx) SetPinCount(_ context.Context, h ir.Hash, n int64) error {
	return t.setCounter(key(prefixPin, string(h)), n)
}

func (t *badgerTx) SetHead(_ context.Context, name string, h ir.Hash) error {
	return t.txn.Set(key(prefixHead, name), []byte(h))
}

func (t *badgerTx) DeleteHead(_ context.Context, name string) error {
	return t.txn.Delete(key(prefixHead, name))
}

var (
	_ chunk.Backend       = (*Backend)(nil)
	_ chunk.BackendWriter = (*badgerTx)(nil)
)
