package sessioncache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/couponclip/model"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(t *testing.T, secret string) (*Cache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(Config{Dir: t.TempDir(), Secret: secret, Now: clk.now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, clk
}

func sampleState(token string) *model.StorageState {
	return &model.StorageState{
		Cookies: []model.Cookie{{
			Name: "session", Value: token, Domain: ".acme.test", Path: "/",
			Expires: -1, HTTPOnly: true, Secure: true, SameSite: "Lax",
		}},
		Origins: []model.OriginState{{
			Origin:       "https://www.acme.test",
			LocalStorage: []model.NameValue{{Name: "cart", Value: "[]"}},
		}},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t, "")
	want := sampleState("abc")
	if err := c.Save(7, "42", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := c.Load(7, "42")
	if !ok {
		t.Fatal("Load: miss after Save")
	}
	if len(got.Cookies) != 1 || got.Cookies[0] != want.Cookies[0] {
		t.Errorf("cookies: got %+v, want %+v", got.Cookies, want.Cookies)
	}
	if len(got.Origins) != 1 || got.Origins[0].LocalStorage[0] != want.Origins[0].LocalStorage[0] {
		t.Errorf("origins: got %+v", got.Origins)
	}

	path := filepath.Join(c.Dir(), "7", "store_42_session.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if !bytes.Contains(data, []byte(`"_metadata"`)) || !bytes.Contains(data, []byte(`"store_id": "42"`)) {
		t.Errorf("record layout: %s", data)
	}
}

func TestSave_Overwrites(t *testing.T) {
	c, _ := newTestCache(t, "")
	if err := c.Save(1, "9", sampleState("old")); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(1, "9", sampleState("new")); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Load(1, "9")
	if !ok || got.Cookies[0].Value != "new" {
		t.Errorf("Load after overwrite: got %+v ok=%v", got, ok)
	}
}

func TestLoad_Missing(t *testing.T) {
	c, _ := newTestCache(t, "")
	if _, ok := c.Load(1, "404"); ok {
		t.Error("expected miss")
	}
}

func TestLoad_ExpiredIsDeleted(t *testing.T) {
	c, clk := newTestCache(t, "")
	if err := c.Save(3, "5", sampleState("x")); err != nil {
		t.Fatal(err)
	}
	clk.advance(DefaultTTL + time.Minute)

	if _, ok := c.Load(3, "5"); ok {
		t.Fatal("expected expired record to miss")
	}
	path := filepath.Join(c.Dir(), "3", "store_5_session.json")
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expired record still on disk: %v", err)
	}
	if _, ok := c.Load(3, "5"); ok {
		t.Error("expired record resurrected")
	}
}

func TestLoad_WithinTTL(t *testing.T) {
	c, clk := newTestCache(t, "")
	if err := c.Save(3, "5", sampleState("x")); err != nil {
		t.Fatal(err)
	}
	clk.advance(DefaultTTL - time.Minute)
	if _, ok := c.Load(3, "5"); !ok {
		t.Error("record within TTL should load")
	}
}

func TestLoad_CorruptIsMiss(t *testing.T) {
	c, _ := newTestCache(t, "")
	dir := filepath.Join(c.Dir(), "2")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "store_1_session.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Load(2, "1"); ok {
		t.Error("corrupt record should miss")
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t, "")
	if err := c.Save(1, "1", sampleState("x")); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(1, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Load(1, "1"); ok {
		t.Error("record survived Delete")
	}
	if err := c.Delete(1, "1"); err != nil {
		t.Errorf("Delete of missing record: %v", err)
	}
}

func TestInvalidKey(t *testing.T) {
	c, _ := newTestCache(t, "")
	if err := c.Save(1, "../../etc", sampleState("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Save: got %v, want ErrInvalidKey", err)
	}
	if _, ok := c.Load(1, ""); ok {
		t.Error("Load with empty key should miss")
	}
}

func TestStoreKeyHashIsValidKey(t *testing.T) {
	c, _ := newTestCache(t, "")
	key := model.StoreKey(model.StoreConfig{BaseURL: "https://www.acme.test"})
	if err := c.Save(1, key, sampleState("x")); err != nil {
		t.Fatalf("Save with hashed key %q: %v", key, err)
	}
}

func TestRotate_Success(t *testing.T) {
	c, _ := newTestCache(t, "")
	if err := c.Save(4, "8", sampleState("old")); err != nil {
		t.Fatal(err)
	}
	if !c.Rotate(4, "8", sampleState("new")) {
		t.Fatal("Rotate returned false")
	}
	got, ok := c.Load(4, "8")
	if !ok || got.Cookies[0].Value != "new" {
		t.Errorf("after rotate: got %+v ok=%v", got, ok)
	}
	bak := filepath.Join(c.Dir(), "4", "store_8_session.json.bak")
	if _, err := os.Stat(bak); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("backup not discarded: %v", err)
	}
}

func TestRotate_WithoutPrior(t *testing.T) {
	c, _ := newTestCache(t, "")
	if !c.Rotate(4, "8", sampleState("first")) {
		t.Fatal("Rotate returned false")
	}
	if _, ok := c.Load(4, "8"); !ok {
		t.Error("rotated record missing")
	}
}

func TestRotate_WriteFailureKeepsPrior(t *testing.T) {
	c, _ := newTestCache(t, "")
	if err := c.Save(4, "8", sampleState("old")); err != nil {
		t.Fatal(err)
	}
	c.writeFile = func(string, []byte) error { return errors.New("disk full") }

	if c.Rotate(4, "8", sampleState("new")) {
		t.Fatal("Rotate should report failure")
	}
	got, ok := c.Load(4, "8")
	if !ok || got.Cookies[0].Value != "old" {
		t.Errorf("prior record not intact: got %+v ok=%v", got, ok)
	}
	bak := filepath.Join(c.Dir(), "4", "store_8_session.json.bak")
	if _, err := os.Stat(bak); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("backup left behind: %v", err)
	}
}

func TestSave_RecreatesRemovedUserDir(t *testing.T) {
	c, _ := newTestCache(t, "")
	calls := 0
	c.writeFile = func(path string, data []byte) error {
		calls++
		if calls == 1 {
			// An empty partition swept between mkdir and write.
			if err := os.Remove(filepath.Dir(path)); err != nil {
				t.Fatal(err)
			}
		}
		return atomicWrite(path, data)
	}

	if err := c.Save(6, "2", sampleState("tok")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if calls != 2 {
		t.Errorf("write calls: got %d, want 2", calls)
	}
	if got, ok := c.Load(6, "2"); !ok || got.Cookies[0].Value != "tok" {
		t.Errorf("Load: got %+v ok=%v", got, ok)
	}
}

func TestSave_MissingDirFailsAfterRetry(t *testing.T) {
	c, _ := newTestCache(t, "")
	calls := 0
	c.writeFile = func(string, []byte) error {
		calls++
		return os.ErrNotExist
	}
	if err := c.Save(6, "2", sampleState("tok")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Save: got %v, want ErrNotExist", err)
	}
	if calls != 2 {
		t.Errorf("write calls: got %d, want 2", calls)
	}
}

func TestSealed_RoundTripAndAtRest(t *testing.T) {
	c, _ := newTestCache(t, "correct horse battery staple")
	if err := c.Save(5, "1", sampleState("topsecret-token")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(c.Dir(), "5", "store_1_session.json"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("topsecret-token")) {
		t.Error("sealed record contains plaintext cookie")
	}
	got, ok := c.Load(5, "1")
	if !ok || got.Cookies[0].Value != "topsecret-token" {
		t.Errorf("sealed load: got %+v ok=%v", got, ok)
	}

	other, err := New(Config{Dir: c.Dir(), Secret: "another secret", Now: c.now})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := other.Load(5, "1"); ok {
		t.Error("record opened with the wrong secret")
	}
}

func TestSealed_BoundToKey(t *testing.T) {
	c, _ := newTestCache(t, "s3cret")
	if err := c.Save(5, "1", sampleState("x")); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(c.Dir(), "5", "store_1_session.json")
	dst := filepath.Join(c.Dir(), "5", "store_2_session.json")
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Load(5, "2"); ok {
		t.Error("sealed record opened under another key")
	}
}

func TestConcurrentKeys(t *testing.T) {
	c, _ := newTestCache(t, "")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := strconv.Itoa(i % 4)
			for j := 0; j < 10; j++ {
				if err := c.Save(int64(i%3), key, sampleState("v")); err != nil {
					t.Errorf("Save: %v", err)
					return
				}
				c.Load(int64(i%3), key)
			}
		}(i)
	}
	wg.Wait()
	if len(c.locks.m) != 0 {
		t.Errorf("lock table not drained: %d entries", len(c.locks.m))
	}
}
