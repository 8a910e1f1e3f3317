package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/couponclip/dbopen"
	"github.com/hazyhaar/couponclip/model"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

var acme = model.StoreConfig{
	Name:     "Acme Grocery",
	BaseURL:  "https://acme.example",
	LoginURL: "https://acme.example/login",
}

func TestUpsert_AssignsID(t *testing.T) {
	ctx := context.Background()
	r := setupRegistry(t)

	cfg, err := r.Upsert(ctx, acme)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if cfg.ID == nil || *cfg.ID <= 0 {
		t.Fatalf("ID: got %v", cfg.ID)
	}

	got, err := r.GetByID(ctx, *cfg.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != acme.Name || got.BaseURL != acme.BaseURL || got.LoginURL != acme.LoginURL {
		t.Errorf("GetByID: got %+v", got)
	}
}

func TestUpsert_SameBaseURLKeepsID(t *testing.T) {
	ctx := context.Background()
	r := setupRegistry(t)

	first, err := r.Upsert(ctx, acme)
	if err != nil {
		t.Fatal(err)
	}
	renamed := acme
	renamed.Name = "Acme Fresh"
	renamed.LoginURL = "https://acme.example/account/sign-in"
	second, err := r.Upsert(ctx, renamed)
	if err != nil {
		t.Fatal(err)
	}
	if *first.ID != *second.ID {
		t.Errorf("ID changed: %d -> %d", *first.ID, *second.ID)
	}

	got, err := r.GetByBaseURL(ctx, acme.BaseURL)
	if err != nil {
		t.Fatalf("GetByBaseURL: %v", err)
	}
	if got.Name != "Acme Fresh" || got.LoginURL != renamed.LoginURL {
		t.Errorf("refresh: got %+v", got)
	}
}

func TestUpsert_NeverStoresCredentials(t *testing.T) {
	ctx := context.Background()
	r := setupRegistry(t)

	cfg, err := r.Upsert(ctx, acme.WithCredentials(model.Credentials{Identifier: "jane", Password: "hunter2"}))
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.GetByID(ctx, *cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Credentials != nil {
		t.Error("credentials must not round-trip through the registry")
	}
}

func TestGet_NotFound(t *testing.T) {
	ctx := context.Background()
	r := setupRegistry(t)
	if _, err := r.GetByID(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID: got %v, want ErrNotFound", err)
	}
	if _, err := r.GetByBaseURL(ctx, "https://nowhere.example"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByBaseURL: got %v, want ErrNotFound", err)
	}
}

func TestAssociations(t *testing.T) {
	ctx := context.Background()
	r := setupRegistry(t)

	a, _ := r.Upsert(ctx, acme)
	b, _ := r.Upsert(ctx, model.StoreConfig{Name: "Bay Market", BaseURL: "https://bay.example", LoginURL: "https://bay.example/signin"})

	if err := r.Associate(ctx, 7, *a.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.Associate(ctx, 7, *b.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.Associate(ctx, 7, *a.ID); err != nil {
		t.Fatalf("repeat Associate: %v", err)
	}
	if err := r.Associate(ctx, 8, *b.ID); err != nil {
		t.Fatal(err)
	}

	stores, err := r.ListForUser(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(stores) != 2 || stores[0].Name != "Acme Grocery" || stores[1].Name != "Bay Market" {
		t.Errorf("ListForUser(7): got %+v", stores)
	}

	ok, err := r.IsAssociated(ctx, 8, *a.ID)
	if err != nil || ok {
		t.Errorf("IsAssociated(8, acme): got %v, %v", ok, err)
	}

	removed, err := r.Dissociate(ctx, 7, *a.ID)
	if err != nil || !removed {
		t.Errorf("Dissociate: got %v, %v", removed, err)
	}
	removed, err = r.Dissociate(ctx, 7, *a.ID)
	if err != nil || removed {
		t.Errorf("second Dissociate: got %v, %v", removed, err)
	}
	stores, _ = r.ListForUser(ctx, 7)
	if len(stores) != 1 || *stores[0].ID != *b.ID {
		t.Errorf("after Dissociate: got %+v", stores)
	}
}

func TestListForUser_Empty(t *testing.T) {
	r := setupRegistry(t)
	stores, err := r.ListForUser(context.Background(), 99)
	if err != nil {
		t.Fatal(err)
	}
	if stores == nil || len(stores) != 0 {
		t.Errorf("got %v, want empty non-nil slice", stores)
	}
}

func TestDelete_CascadesAssociations(t *testing.T) {
	ctx := context.Background()
	r := setupRegistry(t)
	a, _ := r.Upsert(ctx, acme)
	r.Associate(ctx, 7, *a.ID)

	if err := r.Delete(ctx, *a.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := r.IsAssociated(ctx, 7, *a.ID); ok {
		t.Error("association should be removed with the store")
	}
	if _, err := r.GetByID(ctx, *a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID after Delete: got %v", err)
	}
}
