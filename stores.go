package couponclip

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/couponclip/discovery"
	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/registry"
)

var (
	ErrNoRegistry         = errors.New("couponclip: no store registry configured")
	ErrStoreNotFound      = errors.New("couponclip: store not found")
	ErrAlreadyAdded       = errors.New("couponclip: store already added")
	ErrDiscoveryFailed    = errors.New("couponclip: store discovery failed")
	ErrVerificationFailed = errors.New("couponclip: login verification failed")
	ErrInvalidStore       = errors.New("couponclip: invalid store")
)

// AddStore discovers the store at rawURL, verifies creds against it and
// adds it to userID's stores.
func (e *Engine) AddStore(ctx context.Context, userID int64, rawURL string, creds model.Credentials) (model.StoreConfig, error) {
	if e.config.Registry == nil {
		return model.StoreConfig{}, ErrNoRegistry
	}
	cfg, err := e.Discover(ctx, rawURL, creds)
	if err != nil {
		return model.StoreConfig{}, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	return e.register(ctx, userID, cfg.WithCredentials(creds))
}

// RegisterStore verifies an explicit store configuration, which must carry
// credentials, and adds it to userID's stores.
func (e *Engine) RegisterStore(ctx context.Context, userID int64, cfg model.StoreConfig) (model.StoreConfig, error) {
	if e.config.Registry == nil {
		return model.StoreConfig{}, ErrNoRegistry
	}
	if cfg.Name == "" || cfg.LoginURL == "" {
		return model.StoreConfig{}, fmt.Errorf("%w: name and login_url are required", ErrInvalidStore)
	}
	origin, err := discovery.Origin(cfg.BaseURL)
	if err != nil {
		return model.StoreConfig{}, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	for _, target := range []string{cfg.BaseURL, cfg.LoginURL} {
		if err := e.checkTarget(ctx, target); err != nil {
			return model.StoreConfig{}, fmt.Errorf("%w: %w", ErrInvalidStore, err)
		}
	}
	cfg.BaseURL = origin
	cfg.ID = nil
	return e.register(ctx, userID, cfg)
}

// register stores cfg, verifies its credentials under the registry ID so
// the cached session is found by later clip runs, then associates it. A
// store created here is removed again when verification fails.
func (e *Engine) register(ctx context.Context, userID int64, cfg model.StoreConfig) (model.StoreConfig, error) {
	reg := e.config.Registry
	if cfg.Credentials == nil || !cfg.Credentials.Valid() {
		return model.StoreConfig{}, fmt.Errorf("%w: credentials are required", ErrInvalidStore)
	}

	created := false
	existing, err := reg.GetByBaseURL(ctx, cfg.BaseURL)
	switch {
	case err == nil:
		added, err := reg.IsAssociated(ctx, userID, *existing.ID)
		if err != nil {
			return model.StoreConfig{}, err
		}
		if added {
			return model.StoreConfig{}, ErrAlreadyAdded
		}
	case errors.Is(err, registry.ErrNotFound):
		created = true
	default:
		return model.StoreConfig{}, err
	}

	stored, err := reg.Upsert(ctx, cfg)
	if err != nil {
		return model.StoreConfig{}, err
	}
	if !e.VerifyLogin(ctx, stored, userID) {
		if created {
			if err := reg.Delete(context.WithoutCancel(ctx), *stored.ID); err != nil {
				e.config.Logger.Warn("couponclip: remove unverified store", "error", err, "store_id", *stored.ID)
			}
		}
		return model.StoreConfig{}, ErrVerificationFailed
	}
	if err := reg.Associate(ctx, userID, *stored.ID); err != nil {
		return model.StoreConfig{}, err
	}
	stored.Credentials = nil
	e.config.Logger.InfoContext(ctx, "couponclip: store added", "store", stored.Name, "store_id", *stored.ID, "user_id", userID)
	return stored, nil
}

// ListStores returns userID's stores.
func (e *Engine) ListStores(ctx context.Context, userID int64) ([]model.StoreConfig, error) {
	if e.config.Registry == nil {
		return nil, ErrNoRegistry
	}
	return e.config.Registry.ListForUser(ctx, userID)
}

// GetStore returns one of userID's stores.
func (e *Engine) GetStore(ctx context.Context, userID, storeID int64) (model.StoreConfig, error) {
	if e.config.Registry == nil {
		return model.StoreConfig{}, ErrNoRegistry
	}
	added, err := e.config.Registry.IsAssociated(ctx, userID, storeID)
	if err != nil {
		return model.StoreConfig{}, err
	}
	if !added {
		return model.StoreConfig{}, ErrStoreNotFound
	}
	cfg, err := e.config.Registry.GetByID(ctx, storeID)
	if errors.Is(err, registry.ErrNotFound) {
		return model.StoreConfig{}, ErrStoreNotFound
	}
	return cfg, err
}

// RemoveStore removes storeID from userID's stores and drops the cached
// session. The store itself stays registered for other users.
func (e *Engine) RemoveStore(ctx context.Context, userID, storeID int64) error {
	if e.config.Registry == nil {
		return ErrNoRegistry
	}
	removed, err := e.config.Registry.Dissociate(ctx, userID, storeID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrStoreNotFound
	}
	key := model.StoreKey(model.StoreConfig{ID: &storeID})
	if err := e.config.Cache.Delete(userID, key); err != nil {
		e.config.Logger.Warn("couponclip: drop session", "error", err, "store_id", storeID)
	}
	return nil
}

// ClipStore clips one of userID's stores. creds may be nil when a cached
// session is expected to be valid.
func (e *Engine) ClipStore(ctx context.Context, userID, storeID int64, creds *model.Credentials) (model.ClipResult, error) {
	cfg, err := e.GetStore(ctx, userID, storeID)
	if err != nil {
		return model.ClipResult{}, err
	}
	if creds != nil {
		cfg = cfg.WithCredentials(*creds)
	}
	return e.Clip(ctx, cfg, userID), nil
}
