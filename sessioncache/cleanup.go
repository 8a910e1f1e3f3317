package sessioncache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CleanupExpired removes every record older than maxAgeDays (the cache TTL
// when maxAgeDays <= 0) and every user directory left empty. Unreadable
// records are logged and skipped. It returns the number of records removed.
func (c *Cache) CleanupExpired(maxAgeDays int) (int, error) {
	maxAge := c.ttl
	if maxAgeDays > 0 {
		maxAge = time.Duration(maxAgeDays) * 24 * time.Hour
	}

	users, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("sessioncache: cleanup: %w", err)
	}

	removed := 0
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		userID, err := strconv.ParseInt(u.Name(), 10, 64)
		if err != nil {
			continue
		}
		removed += c.cleanupUser(userID, maxAge)
	}
	if removed > 0 {
		c.logger.Info("sessioncache: cleanup", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}

func (c *Cache) cleanupUser(userID int64, maxAge time.Duration) int {
	dir := filepath.Join(c.dir, strconv.FormatInt(userID, 10))
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.logger.Warn("sessioncache: cleanup read user dir", "user_id", userID, "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		storeKey, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		if c.cleanupRecord(userID, storeKey, filepath.Join(dir, e.Name()), maxAge) {
			removed++
		}
	}

	// Remove the partition only if nothing is left in it. A concurrent
	// Save recreates the directory on demand.
	if left, err := os.ReadDir(dir); err == nil && len(left) == 0 {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("sessioncache: cleanup remove user dir", "user_id", userID, "error", err)
		}
	}
	return removed
}

func (c *Cache) cleanupRecord(userID int64, storeKey, path string, maxAge time.Duration) bool {
	unlock := c.locks.lock(lockKey(userID, storeKey))
	defer unlock()

	rec, err := readRecord(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("sessioncache: cleanup skip unreadable", "user_id", userID, "store", storeKey, "error", err)
		}
		return false
	}
	if !c.expired(rec.Metadata, maxAge) {
		return false
	}
	if err := os.Remove(path); err != nil {
		c.logger.Warn("sessioncache: cleanup remove", "user_id", userID, "store", storeKey, "error", err)
		return false
	}
	return true
}

// parseFileName extracts the store key from store_<key>_session.json.
func parseFileName(name string) (string, bool) {
	const prefix, suffix = "store_", "_session.json"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return "", false
	}
	key := name[len(prefix) : len(name)-len(suffix)]
	return key, storeKeyRe.MatchString(key)
}
