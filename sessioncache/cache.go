// Package sessioncache persists serialised browser authentication state per
// (user, store) pair.
//
// Layout: one directory per user id, one file per store key:
//
//	<dir>/<user_id>/store_<store_key>_session.json
//
// Records expire a fixed TTL after creation (7 days by default); expiry is
// hard, never sliding. Writes are atomic (temp file + rename) and
// serialised per key only, so unrelated users and stores never contend.
package sessioncache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/hazyhaar/couponclip/model"
)

// DefaultTTL is the lifetime of a session record.
const DefaultTTL = 7 * 24 * time.Hour

var storeKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrInvalidKey is returned for store keys that cannot be embedded in a
// file name.
var ErrInvalidKey = errors.New("sessioncache: invalid store key")

// Metadata is the bookkeeping block stored next to the state.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	UserID    int64     `json:"user_id"`
	StoreID   string    `json:"store_id"`
}

// record is the on-disk file. Exactly one of State and Sealed is set.
type record struct {
	State    *model.StorageState `json:"state,omitempty"`
	Sealed   []byte              `json:"sealed,omitempty"`
	Metadata Metadata            `json:"_metadata"`
}

// Config configures a Cache.
type Config struct {
	// Dir is the cache root. Created with mode 0700 when missing.
	Dir string
	// TTL bounds record age. Default: 7 days.
	TTL time.Duration
	// Secret, when set, seals the state of every record at rest.
	Secret string
	Logger *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Cache is a file-backed session store. It is safe for concurrent use.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
	seal   *sealer
	locks  keyLocks

	// writeFile performs atomic record writes. Replaced in tests to inject
	// failures.
	writeFile func(path string, data []byte) error
}

// New opens the cache rooted at cfg.Dir.
func New(cfg Config) (*Cache, error) {
	cfg.defaults()
	if cfg.Dir == "" {
		return nil, errors.New("sessioncache: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("sessioncache: mkdir %s: %w", cfg.Dir, err)
	}
	c := &Cache{
		dir:       cfg.Dir,
		ttl:       cfg.TTL,
		logger:    cfg.Logger,
		now:       cfg.Now,
		writeFile: atomicWrite,
	}
	if cfg.Secret != "" {
		s, err := newSealer(cfg.Secret)
		if err != nil {
			return nil, err
		}
		c.seal = s
	}
	return c, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// TTL returns the record lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) path(userID int64, storeKey string) (string, error) {
	if !storeKeyRe.MatchString(storeKey) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, storeKey)
	}
	return filepath.Join(c.dir, strconv.FormatInt(userID, 10), "store_"+storeKey+"_session.json"), nil
}

func lockKey(userID int64, storeKey string) string {
	return strconv.FormatInt(userID, 10) + "/" + storeKey
}

// Save writes state for (userID, storeKey), replacing any prior record.
func (c *Cache) Save(userID int64, storeKey string, state *model.StorageState) error {
	path, err := c.path(userID, storeKey)
	if err != nil {
		return err
	}
	unlock := c.locks.lock(lockKey(userID, storeKey))
	defer unlock()
	return c.write(path, userID, storeKey, state)
}

func (c *Cache) write(path string, userID int64, storeKey string, state *model.StorageState) error {
	if state == nil {
		state = &model.StorageState{}
	}
	rec := record{Metadata: Metadata{
		CreatedAt: c.now().UTC(),
		UserID:    userID,
		StoreID:   storeKey,
	}}
	if c.seal != nil {
		plain, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("sessioncache: marshal state: %w", err)
		}
		rec.Sealed = c.seal.seal(plain, []byte(lockKey(userID, storeKey)))
	} else {
		rec.State = state
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("sessioncache: marshal record: %w", err)
	}
	// Cleanup may remove an emptied user directory between MkdirAll and
	// the write; one retry recreates it.
	for attempt := 0; ; attempt++ {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("sessioncache: mkdir: %w", err)
		}
		err := c.writeFile(path, data)
		if err == nil {
			return nil
		}
		if attempt > 0 || !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("sessioncache: write %s: %w", filepath.Base(path), err)
		}
	}
}

// Load returns the state for (userID, storeKey). A missing, unreadable,
// corrupt or expired record is a miss; expired records are deleted.
func (c *Cache) Load(userID int64, storeKey string) (*model.StorageState, bool) {
	path, err := c.path(userID, storeKey)
	if err != nil {
		c.logger.Warn("sessioncache: load", "error", err)
		return nil, false
	}
	unlock := c.locks.lock(lockKey(userID, storeKey))
	defer unlock()

	rec, err := readRecord(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("sessioncache: unreadable record", "user_id", userID, "store", storeKey, "error", err)
		}
		return nil, false
	}
	if c.expired(rec.Metadata, c.ttl) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("sessioncache: remove expired", "user_id", userID, "store", storeKey, "error", err)
		}
		c.logger.Info("sessioncache: expired", "user_id", userID, "store", storeKey,
			"created_at", rec.Metadata.CreatedAt)
		return nil, false
	}
	state, err := c.open(rec, userID, storeKey)
	if err != nil {
		c.logger.Warn("sessioncache: corrupt record", "user_id", userID, "store", storeKey, "error", err)
		return nil, false
	}
	return state, true
}

func (c *Cache) open(rec *record, userID int64, storeKey string) (*model.StorageState, error) {
	if rec.Sealed == nil {
		if rec.State == nil {
			return nil, errors.New("record has no state")
		}
		return rec.State, nil
	}
	if c.seal == nil {
		return nil, errors.New("record is sealed and no secret is configured")
	}
	plain, err := c.seal.open(rec.Sealed, []byte(lockKey(userID, storeKey)))
	if err != nil {
		return nil, err
	}
	var st model.StorageState
	if err := json.Unmarshal(plain, &st); err != nil {
		return nil, fmt.Errorf("unmarshal sealed state: %w", err)
	}
	return &st, nil
}

// Delete removes the record for (userID, storeKey). Deleting a missing
// record is not an error.
func (c *Cache) Delete(userID int64, storeKey string) error {
	path, err := c.path(userID, storeKey)
	if err != nil {
		return err
	}
	unlock := c.locks.lock(lockKey(userID, storeKey))
	defer unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("sessioncache: delete: %w", err)
	}
	return nil
}

// Rotate replaces the record for (userID, storeKey) with state. The prior
// record is backed up first and restored if the write fails, in which case
// Rotate returns false and the prior record is left intact.
func (c *Cache) Rotate(userID int64, storeKey string, state *model.StorageState) bool {
	path, err := c.path(userID, storeKey)
	if err != nil {
		c.logger.Warn("sessioncache: rotate", "error", err)
		return false
	}
	unlock := c.locks.lock(lockKey(userID, storeKey))
	defer unlock()

	backup := path + ".bak"
	hadPrior := false
	if old, err := os.ReadFile(path); err == nil {
		if err := atomicWrite(backup, old); err != nil {
			c.logger.Warn("sessioncache: rotate backup", "user_id", userID, "store", storeKey, "error", err)
			return false
		}
		hadPrior = true
	}

	if err := c.write(path, userID, storeKey, state); err != nil {
		c.logger.Warn("sessioncache: rotate write", "user_id", userID, "store", storeKey, "error", err)
		if hadPrior {
			if rerr := os.Rename(backup, path); rerr != nil {
				c.logger.Error("sessioncache: rotate restore", "user_id", userID, "store", storeKey, "error", rerr)
			}
		}
		return false
	}
	if hadPrior {
		if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("sessioncache: rotate discard backup", "error", err)
		}
	}
	return true
}

func (c *Cache) expired(m Metadata, maxAge time.Duration) bool {
	return c.now().Sub(m.CreatedAt) > maxAge
}

func readRecord(path string) (*record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if rec.Metadata.CreatedAt.IsZero() {
		return nil, fmt.Errorf("decode %s: missing created_at", filepath.Base(path))
	}
	return &rec, nil
}

// atomicWrite writes data to a temp file in the target directory, syncs it
// and renames it over path.
func atomicWrite(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
