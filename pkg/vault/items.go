package vault

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/clipvault/pkg/audit"
	"github.com/forest6511/clipvault/pkg/crypto"
)

// searchBatch is how many rows Search decrypts per round trip.
const searchBatch = 256

func validateContent(content []byte) error {
	if len(content) == 0 {
		return ErrEmptyContent
	}
	if len(content) > MaxContentSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrContentTooLarge, len(content), MaxContentSize)
	}
	return nil
}

// Insert stores a captured item. Content already present is not duplicated:
// the existing row takes the new timestamp and content type instead.
//
// A zero Timestamp means "now". Capture timestamps never go backwards and
// never collide, so the returned item is always the newest in the vault.
// An explicit Timestamp is kept as given unless another row owns it, in which
// case it moves forward to the next free value.
func (v *Vault) Insert(ctx context.Context, item Item) (Item, error) {
	if err := validateContent(item.Content); err != nil {
		return Item{}, err
	}
	if item.ContentType == "" {
		item.ContentType = DefaultContentType
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dek == nil {
		return Item{}, ErrVaultLocked
	}
	if err := checkDiskSpaceForWrite(v.path, len(item.Content), v.logger); err != nil {
		return Item{}, err
	}

	sum := sha256.Sum256(item.Content)
	idx := v.index(sum[:])
	sealed, err := crypto.Seal(v.dek, item.Content)
	if err != nil {
		return Item{}, fmt.Errorf("vault: failed to encrypt content: %w", err)
	}

	capture := item.Timestamp == 0
	requested := item.Timestamp
	if capture {
		requested = v.opts.Clock().UnixNano()
	}

	var stored int64
	err = v.withTx(ctx, "insert", func(tx *sql.Tx) error {
		id, err := lookupID(ctx, tx, idx)
		if err != nil {
			return err
		}
		if stored, err = v.assignTimestamp(ctx, tx, requested, id, capture); err != nil {
			return err
		}
		if id == 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO items (hash_index, content_type, content, size, ts)
				VALUES (?, ?, ?, ?, ?)`,
				idx, item.ContentType, sealed, len(item.Content), stored)
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE items SET content_type = ?, ts = ? WHERE id = ?`,
			item.ContentType, stored, id)
		return err
	})
	if err != nil {
		return Item{}, err
	}

	return Item{
		ContentHash: HashContent(item.Content),
		ContentType: item.ContentType,
		Content:     item.Content,
		Timestamp:   stored,
		Size:        len(item.Content),
	}, nil
}

// Update replaces the content of the item identified by hash. The item keeps
// its content type, gets a new hash and becomes the newest entry. If the new
// content already exists as another item, that item is folded into this one.
func (v *Vault) Update(ctx context.Context, hash string, content []byte) (Item, error) {
	if err := validateContent(content); err != nil {
		return Item{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dek == nil {
		return Item{}, ErrVaultLocked
	}
	oldIdx, err := v.indexFromHex(hash)
	if err != nil {
		return Item{}, err
	}
	if err := checkDiskSpaceForWrite(v.path, len(content), v.logger); err != nil {
		return Item{}, err
	}

	sum := sha256.Sum256(content)
	newIdx := v.index(sum[:])
	sealed, err := crypto.Seal(v.dek, content)
	if err != nil {
		return Item{}, fmt.Errorf("vault: failed to encrypt content: %w", err)
	}

	var (
		contentType string
		stored      int64
	)
	err = v.withTx(ctx, "update", func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id, content_type FROM items WHERE hash_index = ?`, oldIdx).
			Scan(&id, &contentType)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE hash_index = ? AND id != ?`, newIdx, id); err != nil {
			return err
		}
		if stored, err = v.assignTimestamp(ctx, tx, v.opts.Clock().UnixNano(), id, true); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE items SET hash_index = ?, content = ?, size = ?, ts = ? WHERE id = ?`,
			newIdx, sealed, len(content), stored, id)
		return err
	})
	if err != nil {
		return Item{}, err
	}

	newHash := HashContent(content)
	v.logAudit(audit.OpItemUpdate, v.audit.Ref(newHash))
	return Item{
		ContentHash: newHash,
		ContentType: contentType,
		Content:     content,
		Timestamp:   stored,
		Size:        len(content),
	}, nil
}

// Delete removes the item identified by hash. Deleting an absent item is
// reported as ErrNotFound.
func (v *Vault) Delete(ctx context.Context, hash string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dek == nil {
		return ErrVaultLocked
	}
	idx, err := v.indexFromHex(hash)
	if err != nil {
		return err
	}

	err = v.withTx(ctx, "delete", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE hash_index = ?`, idx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.logAudit(audit.OpItemDelete, v.audit.Ref(strings.ToLower(hash)))
	return nil
}

// Wipe deletes every item. The header and settings are kept.
func (v *Vault) Wipe(ctx context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dek == nil {
		return 0, ErrVaultLocked
	}

	var n int64
	err := v.withTx(ctx, "wipe", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM items`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	v.logAudit(audit.OpVaultWipe, "")
	return n, nil
}

// Get returns the item identified by hash.
func (v *Vault) Get(ctx context.Context, hash string) (Item, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return Item{}, ErrVaultLocked
	}
	idx, err := v.indexFromHex(hash)
	if err != nil {
		return Item{}, err
	}

	var r row
	err = v.retry(ctx, "get", func(ctx context.Context) error {
		return v.db.QueryRowContext(ctx, `SELECT content_type, content, size, ts FROM items WHERE hash_index = ?`, idx).
			Scan(&r.contentType, &r.sealed, &r.size, &r.ts)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return v.decrypt(r)
}

// Latest returns the most recent item, or ErrNotFound when the vault is empty.
func (v *Vault) Latest(ctx context.Context) (Item, error) {
	items, _, err := v.List(ctx, 1, nil)
	if err != nil {
		return Item{}, err
	}
	if len(items) == 0 {
		return Item{}, ErrNotFound
	}
	return items[0], nil
}

// Count returns the number of stored items.
func (v *Vault) Count(ctx context.Context) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return 0, ErrVaultLocked
	}
	var n int
	err := v.retry(ctx, "count", func(ctx context.Context) error {
		return v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n)
	})
	return n, err
}

// List returns up to limit items strictly older than after (all items when
// after is nil), newest first. hasMore reports whether older items remain
// beyond the returned page. A limit <= 0 returns everything.
func (v *Vault) List(ctx context.Context, limit int, after *int64) ([]Item, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return nil, false, ErrVaultLocked
	}

	fetch := 0
	if limit > 0 {
		fetch = limit + 1
	}
	rows, err := v.page(ctx, "list", after, fetch)
	if err != nil {
		return nil, false, err
	}

	hasMore := false
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		hasMore = true
	}
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		it, err := v.decrypt(r)
		if err != nil {
			return nil, false, err
		}
		items = append(items, it)
	}
	return items, hasMore, nil
}

// Search returns items matching query, newest first, with the same paging
// contract as List. Text items match on a case-insensitive substring of
// their content. Other items match on their content type only and are not
// decrypted unless they match. A blank query behaves like List.
func (v *Vault) Search(ctx context.Context, query string, limit int, after *int64) ([]Item, bool, error) {
	if strings.TrimSpace(query) == "" {
		return v.List(ctx, limit, after)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return nil, false, ErrVaultLocked
	}

	needle := fold(query)
	cursor := after
	var found []Item
	for {
		rows, err := v.page(ctx, "search", cursor, searchBatch)
		if err != nil {
			return nil, false, err
		}
		for _, r := range rows {
			if !IsTextType(r.contentType) && !strings.Contains(fold(r.contentType), needle) {
				continue
			}
			it, err := v.decrypt(r)
			if err != nil {
				return nil, false, err
			}
			if it.IsText() && !strings.Contains(fold(string(it.Content)), needle) {
				continue
			}
			if limit > 0 && len(found) == limit {
				return found, true, nil
			}
			found = append(found, it)
		}
		if len(rows) < searchBatch {
			return found, false, nil
		}
		last := rows[len(rows)-1].ts
		cursor = &last
	}
}

// fold normalizes s for case-insensitive matching.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

type row struct {
	contentType string
	sealed      []byte
	size        int
	ts          int64
}

// page reads up to n raw rows older than after. n <= 0 reads all of them.
func (v *Vault) page(ctx context.Context, op string, after *int64, n int) ([]row, error) {
	q := `SELECT content_type, content, size, ts FROM items`
	var args []any
	if after != nil {
		q += ` WHERE ts < ?`
		args = append(args, *after)
	}
	q += ` ORDER BY ts DESC`
	if n > 0 {
		q += ` LIMIT ?`
		args = append(args, n)
	}

	var out []row
	err := v.retry(ctx, op, func(ctx context.Context) error {
		out = out[:0]
		rows, err := v.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.contentType, &r.sealed, &r.size, &r.ts); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (v *Vault) decrypt(r row) (Item, error) {
	content, err := crypto.Open(v.dek, r.sealed)
	if err != nil {
		return Item{}, fmt.Errorf("%w: item at %d does not decrypt: %w", ErrCorrupt, r.ts, err)
	}
	return Item{
		ContentHash: HashContent(content),
		ContentType: r.contentType,
		Content:     content,
		Timestamp:   r.ts,
		Size:        len(content),
	}, nil
}

func lookupID(ctx context.Context, tx *sql.Tx, idx []byte) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM items WHERE hash_index = ?`, idx).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// assignTimestamp picks the timestamp for row self (0 for a new row).
// Captures are lifted above the current maximum; any result that collides
// with another row moves forward until it is free.
func (v *Vault) assignTimestamp(ctx context.Context, tx *sql.Tx, ts, self int64, capture bool) (int64, error) {
	if capture {
		var max sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(ts) FROM items WHERE id != ?`, self).Scan(&max); err != nil {
			return 0, err
		}
		if max.Valid && ts <= max.Int64 {
			ts = max.Int64 + 1
		}
	}
	for {
		var owner int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM items WHERE ts = ?`, ts).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner == self) {
			return ts, nil
		}
		if err != nil {
			return 0, err
		}
		ts++
	}
}
