package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/ir"
)

// sqlTx adapts a *sql.Tx to chunk.BackendWriter.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) GetChunk(ctx context.Context, h ir.Hash) (chunk.Chunk, bool, error) {
	var (
		data []byte
		refs string
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT data, refs FROM chunks WHERE hash = ?`, string(h),
	).Scan(&data, &refs)
	if errors.Is(err, sql.ErrNoRows) {
		return chunk.Chunk{}, false, nil
	}
	if err != nil {
		return chunk.Chunk{}, false, fmt.Errorf("get chunk: %w", err)
	}
	parsed, err := unmarshalRefs(refs)
	if err != nil {
		return chunk.Chunk{}, false, fmt.Errorf("get chunk %s: %w", h.Short(), err)
	}
	return chunk.Chunk{Hash: h, Data: data, Refs: parsed}, true, nil
}

func (t *sqlTx) RefCount(ctx context.Context, h ir.Hash) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT ref_count FROM chunks WHERE hash = ?`, string(h),
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ref count: %w", err)
	}
	return n, nil
}

func (t *sqlTx) PinCount(ctx context.Context, h ir.Hash) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT count FROM pins WHERE hash = ?`, string(h),
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pin count: %w", err)
	}
	return n, nil
}

func (t *sqlTx) GetHead(ctx context.Context, name string) (ir.Hash, bool, error) {
	var h string
	err := t.tx.QueryRowContext(ctx,
		`SELECT hash FROM heads WHERE name = ?`, name,
	).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get head: %w", err)
	}
	return ir.Hash(h), true, nil
}

func (t *sqlTx) Heads(ctx context.Context) (map[string]ir.Hash, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT name, hash FROM heads ORDER BY name ASC COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("list heads: %w", err)
	}
	defer rows.Close()

	heads := make(map[string]ir.Hash)
	for rows.Next() {
		var name, h string
		if err := rows.Scan(&name, &h); err != nil {
			return nil, fmt.Errorf("list heads: scan: %w", err)
		}
		heads[name] = ir.Hash(h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list heads: %w", err)
	}
	return heads, nil
}

func (t *sqlTx) Unreferenced(ctx context.Context) ([]ir.Hash, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT hash FROM chunks WHERE ref_count = 0 ORDER BY hash ASC COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("list unreferenced: %w", err)
	}
	defer rows.Close()

	var out []ir.Hash
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("list unreferenced: scan: %w", err)
		}
		out = append(out, ir.Hash(h))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unreferenced: %w", err)
	}
	return out, nil
}

func (t *sqlTx) ChunkCount(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// PutChunk uses ON CONFLICT(hash) DO NOTHING; identical content maps to
// the same row, so a repeated put leaves data and count untouched.
func (t *sqlTx) PutChunk(ctx context.Context, c chunk.Chunk) error {
	refs, err := marshalRefs(c.Refs)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO chunks (hash, data, refs, ref_count)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(hash) DO NOTHING
	`, string(c.Hash), c.Data, refs)
	if err != nil {
		return fmt.Errorf("put chunk: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteChunk(ctx context.Context, h ir.Hash) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM chunks WHERE hash = ?`, string(h)); err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}

func (t *sqlTx) SetRefCount(ctx context.Context, h ir.Hash, n int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE chunks SET ref_count = ? WHERE hash = ?`, n, string(h))
	if err != nil {
		return fmt.Errorf("set ref count: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return &chunk.NotFoundError{Hash: h}
	}
	return nil
}

func (t *sqlTx) SetPinCount(ctx context.Context, h ir.Hash, n int64) error {
	var err error
	if n == 0 {
		_, err = t.tx.ExecContext(ctx, `DELETE FROM pins WHERE hash = ?`, string(h))
	} else {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO pins (hash, count) VALUES (?, ?)
			ON CONFLICT(hash) DO UPDATE SET count = excluded.count
		`, string(h), n)
	}
	if err != nil {
		return fmt.Errorf("set pin count: %w", err)
	}
	return nil
}

func (t *sqlTx) SetHead(ctx context.Context, name string, h ir.Hash) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO heads (name, hash) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET hash = excluded.hash
	`, name, string(h))
	if err != nil {
		return fmt.Errorf("set head: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteHead(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM heads WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete head: %w", err)
	}
	return nil
}

var _ chunk.BackendWriter = (*sqlTx)(nil)
