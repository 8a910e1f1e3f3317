package couponclip

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/couponclip/guard"
	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/registry"
)

func TestAddStore(t *testing.T) {
	f := newFixture(t, "Cereal")
	ctx := context.Background()

	cfg, err := f.engine.AddStore(ctx, 5, "www.acme.test/weekly-ad", creds)
	if err != nil {
		t.Fatalf("AddStore: %v", err)
	}
	if cfg.ID == nil || cfg.Name != "Acme Grocery" || cfg.BaseURL != home {
		t.Errorf("store: got %+v", cfg)
	}
	if cfg.Credentials != nil {
		t.Error("returned store carries credentials")
	}
	if _, ok := f.cache.Load(5, model.StoreKey(cfg)); !ok {
		t.Error("session not cached under the registry ID")
	}

	stores, err := f.engine.ListStores(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(stores) != 1 || *stores[0].ID != *cfg.ID {
		t.Errorf("list: got %+v", stores)
	}

	if _, err := f.engine.AddStore(ctx, 5, home, creds); !errors.Is(err, ErrAlreadyAdded) {
		t.Errorf("second add: got %v, want ErrAlreadyAdded", err)
	}

	other, err := f.engine.AddStore(ctx, 6, home, creds)
	if err != nil {
		t.Fatalf("AddStore for another user: %v", err)
	}
	if *other.ID != *cfg.ID {
		t.Errorf("other user store ID: got %d, want %d", *other.ID, *cfg.ID)
	}
}

func TestAddStore_VerificationFailureRemovesStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddStore(ctx, 5, home, model.Credentials{Identifier: "jane", Password: "wrong"})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("got %v, want ErrVerificationFailed", err)
	}
	if _, err := f.registry.GetByBaseURL(ctx, home); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("unverified store kept: %v", err)
	}
	stores, err := f.engine.ListStores(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(stores) != 0 {
		t.Errorf("list: got %d stores, want 0", len(stores))
	}
}

func TestAddStore_DiscoveryFailure(t *testing.T) {
	f := newFixture(t)
	f.retailer.Err = errors.New("connection refused")
	if _, err := f.engine.AddStore(context.Background(), 5, home, creds); !errors.Is(err, ErrDiscoveryFailed) {
		t.Errorf("got %v, want ErrDiscoveryFailed", err)
	}
}

func TestAddStore_UnsafeTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.AddStore(context.Background(), 5, "https://shop.intranet.test", creds)
	if !errors.Is(err, ErrDiscoveryFailed) || !errors.Is(err, guard.ErrUnsafeTarget) {
		t.Errorf("got %v, want ErrDiscoveryFailed wrapping ErrUnsafeTarget", err)
	}
}

func TestRegisterStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  model.StoreConfig
	}{
		{"no name", model.StoreConfig{BaseURL: home, LoginURL: home + "/login"}.WithCredentials(creds)},
		{"no login url", model.StoreConfig{Name: "Acme", BaseURL: home}.WithCredentials(creds)},
		{"no credentials", model.StoreConfig{Name: "Acme", BaseURL: home, LoginURL: home + "/login"}},
		{"private login url", model.StoreConfig{Name: "Acme", BaseURL: home, LoginURL: "http://10.0.0.1/login"}.WithCredentials(creds)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.RegisterStore(ctx, 5, tt.cfg); !errors.Is(err, ErrInvalidStore) {
				t.Errorf("got %v, want ErrInvalidStore", err)
			}
		})
	}

	cfg, err := f.engine.RegisterStore(ctx, 5,
		model.StoreConfig{Name: "Acme", BaseURL: home + "/deals?x=1", LoginURL: home + "/login"}.WithCredentials(creds))
	if err != nil {
		t.Fatalf("RegisterStore: %v", err)
	}
	if cfg.BaseURL != home {
		t.Errorf("base url: got %q, want %q", cfg.BaseURL, home)
	}
}

func TestClipStore(t *testing.T) {
	f := newFixture(t, "Cereal", "Milk")
	ctx := context.Background()

	cfg, err := f.engine.AddStore(ctx, 5, home, creds)
	if err != nil {
		t.Fatalf("AddStore: %v", err)
	}
	res, err := f.engine.ClipStore(ctx, 5, *cfg.ID, nil)
	if err != nil {
		t.Fatalf("ClipStore: %v", err)
	}
	if !res.Success || len(res.Clipped) != 2 {
		t.Errorf("clip: got %+v", res)
	}
	if f.retailer.Logins() != 1 {
		t.Errorf("logins: got %d, want 1", f.retailer.Logins())
	}

	if _, err := f.engine.ClipStore(ctx, 6, *cfg.ID, nil); !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("other user: got %v, want ErrStoreNotFound", err)
	}
}

func TestClipStore_FreshCredentialsAfterExpiry(t *testing.T) {
	f := newFixture(t, "Cereal")
	ctx := context.Background()

	cfg, err := f.engine.AddStore(ctx, 5, home, creds)
	if err != nil {
		t.Fatalf("AddStore: %v", err)
	}
	f.retailer.Expire()

	c := creds
	res, err := f.engine.ClipStore(ctx, 5, *cfg.ID, &c)
	if err != nil {
		t.Fatalf("ClipStore: %v", err)
	}
	if !res.Success || len(res.Clipped) != 1 {
		t.Errorf("clip: got %+v", res)
	}
	if f.retailer.Logins() != 2 {
		t.Errorf("logins: got %d, want 2", f.retailer.Logins())
	}
}

func TestRemoveStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.engine.AddStore(ctx, 5, home, creds)
	if err != nil {
		t.Fatalf("AddStore: %v", err)
	}
	if err := f.engine.RemoveStore(ctx, 5, *cfg.ID); err != nil {
		t.Fatalf("RemoveStore: %v", err)
	}
	if _, ok := f.cache.Load(5, model.StoreKey(cfg)); ok {
		t.Error("session still cached after removal")
	}
	if _, err := f.engine.GetStore(ctx, 5, *cfg.ID); !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("get after remove: got %v, want ErrStoreNotFound", err)
	}
	if _, err := f.registry.GetByID(ctx, *cfg.ID); err != nil {
		t.Errorf("store row should stay registered: %v", err)
	}
	if err := f.engine.RemoveStore(ctx, 5, *cfg.ID); !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("second remove: got %v, want ErrStoreNotFound", err)
	}
}

func TestStoreOperations_NoRegistry(t *testing.T) {
	f := newFixture(t)
	e, err := New(Config{Launcher: f.retailer, Cache: f.cache})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ListStores(context.Background(), 1); !errors.Is(err, ErrNoRegistry) {
		t.Errorf("got %v, want ErrNoRegistry", err)
	}
	if err := e.RemoveStore(context.Background(), 1, 1); !errors.Is(err, ErrNoRegistry) {
		t.Errorf("got %v, want ErrNoRegistry", err)
	}
}
