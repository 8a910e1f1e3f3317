// Package registry persists the stores couponclip knows about and which
// users have added them. Credentials are never stored; callers supply them
// per run.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/couponclip/dbopen"
	"github.com/hazyhaar/couponclip/model"
)

// ErrNotFound is returned when no store matches.
var ErrNotFound = errors.New("registry: store not found")

// Schema is the registry DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS stores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    base_url TEXT NOT NULL UNIQUE,
    login_url TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stores_name ON stores(name);

CREATE TABLE IF NOT EXISTS user_stores (
    user_id INTEGER NOT NULL,
    store_id INTEGER NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, store_id)
);
CREATE INDEX IF NOT EXISTS idx_user_stores_store ON user_stores(store_id);
`

// Registry is a SQLite-backed store registry.
type Registry struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps db, which must already carry Schema.
func New(db *sql.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// Upsert inserts cfg or refreshes the name and login URL of the store with
// the same base URL. The returned config carries the store ID.
func (r *Registry) Upsert(ctx context.Context, cfg model.StoreConfig) (model.StoreConfig, error) {
	ts := r.now().Unix()
	var id int64
	err := dbopen.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO stores (name, base_url, login_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(base_url) DO UPDATE SET
				name = excluded.name,
				login_url = excluded.login_url,
				updated_at = excluded.updated_at
			RETURNING id`,
			cfg.Name, cfg.BaseURL, cfg.LoginURL, ts, ts).Scan(&id)
	})
	if err != nil {
		return model.StoreConfig{}, fmt.Errorf("registry: upsert %s: %w", cfg.BaseURL, err)
	}
	cfg.ID = &id
	return cfg, nil
}

// GetByID returns the store with the given ID.
func (r *Registry) GetByID(ctx context.Context, id int64) (model.StoreConfig, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, login_url FROM stores WHERE id = ?`, id))
}

// GetByBaseURL returns the store registered under baseURL.
func (r *Registry) GetByBaseURL(ctx context.Context, baseURL string) (model.StoreConfig, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, login_url FROM stores WHERE base_url = ?`, baseURL))
}

// Delete removes a store and its user associations.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stores WHERE id = ?`, id); err != nil {
		return fmt.Errorf("registry: delete %d: %w", id, err)
	}
	return nil
}

// ListForUser returns the stores userID has added, by name.
func (r *Registry) ListForUser(ctx context.Context, userID int64) ([]model.StoreConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.base_url, s.login_url
		FROM stores s JOIN user_stores us ON us.store_id = s.id
		WHERE us.user_id = ?
		ORDER BY s.name, s.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("registry: list for user %d: %w", userID, err)
	}
	defer rows.Close()

	stores := []model.StoreConfig{}
	for rows.Next() {
		cfg, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan: %w", err)
		}
		stores = append(stores, cfg)
	}
	return stores, rows.Err()
}

// Associate adds storeID to userID's stores. It is a no-op when the
// association exists.
func (r *Registry) Associate(ctx context.Context, userID, storeID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_stores (user_id, store_id, created_at) VALUES (?, ?, ?)`,
		userID, storeID, r.now().Unix())
	if err != nil {
		return fmt.Errorf("registry: associate %d/%d: %w", userID, storeID, err)
	}
	return nil
}

// Dissociate removes storeID from userID's stores and reports whether an
// association existed.
func (r *Registry) Dissociate(ctx context.Context, userID, storeID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_stores WHERE user_id = ? AND store_id = ?`, userID, storeID)
	if err != nil {
		return false, fmt.Errorf("registry: dissociate %d/%d: %w", userID, storeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("registry: dissociate %d/%d: %w", userID, storeID, err)
	}
	return n > 0, nil
}

// IsAssociated reports whether userID has added storeID.
func (r *Registry) IsAssociated(ctx context.Context, userID, storeID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_stores WHERE user_id = ? AND store_id = ?`, userID, storeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry: lookup %d/%d: %w", userID, storeID, err)
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Registry) scanOne(row *sql.Row) (model.StoreConfig, error) {
	cfg, err := scanStore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoreConfig{}, ErrNotFound
	}
	if err != nil {
		return model.StoreConfig{}, fmt.Errorf("registry: scan: %w", err)
	}
	return cfg, nil
}

func scanStore(s scanner) (model.StoreConfig, error) {
	var (
		cfg model.StoreConfig
		id  int64
	)
	if err := s.Scan(&id, &cfg.Name, &cfg.BaseURL, &cfg.LoginURL); err != nil {
		return model.StoreConfig{}, err
	}
	cfg.ID = &id
	return cfg, nil
}
