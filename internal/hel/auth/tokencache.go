package auth

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/timescale/hel/common/crypto"
	"github.com/timescale/hel/internal/hel/statestore"
)

const (
	cacheTokenKey  = "_auth_token_enc"
	cacheExpiryKey = "_auth_token_exp"
)

// cacheable is implemented by providers whose credential is a short-lived
// token fetched over the network rather than a static secret already held
// in config or a file: oauth2 and google_service_account.
type cacheable interface {
	loadCachedToken(token string, expiresAt time.Time)
	onRefresh(fn func(token string, expiresAt time.Time))
}

// AttachCache persists a cacheable provider's access token in the
// source's state store entry, encrypted with HEL_MASTER_KEY, so a process
// restart reuses the last-fetched token instead of hitting the token
// endpoint immediately on every start. If HEL_MASTER_KEY is not set,
// caching is silently skipped and the provider behaves as if AttachCache
// were never called.
func AttachCache(ctx context.Context, provider Provider, store statestore.Store, sourceID string, logger *slog.Logger) {
	c, ok := provider.(cacheable)
	if !ok {
		return
	}
	key, err := crypto.LoadMasterKey()
	if err != nil {
		return
	}

	tc := &tokenCache{store: store, sourceID: sourceID, key: key, logger: logger}
	if token, expiresAt, ok := tc.load(ctx); ok {
		c.loadCachedToken(token, expiresAt)
	}
	c.onRefresh(func(token string, expiresAt time.Time) {
		tc.save(context.Background(), token, expiresAt)
	})
}

type tokenCache struct {
	store    statestore.Store
	sourceID string
	key      []byte
	logger   *slog.Logger
}

func (tc *tokenCache) load(ctx context.Context) (string, time.Time, bool) {
	state, err := tc.store.Get(ctx, tc.sourceID)
	if err != nil {
		return "", time.Time{}, false
	}
	encB64, ok := state[cacheTokenKey]
	if !ok {
		return "", time.Time{}, false
	}
	expRaw, ok := state[cacheExpiryKey]
	if !ok {
		return "", time.Time{}, false
	}
	expiresAt, err := time.Parse(time.RFC3339, expRaw)
	if err != nil || !time.Now().Before(expiresAt) {
		return "", time.Time{}, false
	}
	enc, err := base64.StdEncoding.DecodeString(encB64)
	if err != nil {
		return "", time.Time{}, false
	}
	plain, err := crypto.Decrypt(tc.key, enc)
	if err != nil {
		if tc.logger != nil {
			tc.logger.Warn("auth: failed to decrypt cached token, re-authenticating", "source", tc.sourceID, "error", err)
		}
		return "", time.Time{}, false
	}
	return string(plain), expiresAt, true
}

func (tc *tokenCache) save(ctx context.Context, token string, expiresAt time.Time) {
	enc, err := crypto.Encrypt(tc.key, []byte(token))
	if err != nil {
		return
	}
	delta := map[string]string{
		cacheTokenKey:  base64.StdEncoding.EncodeToString(enc),
		cacheExpiryKey: expiresAt.Format(time.RFC3339),
	}
	if err := tc.store.Set(ctx, tc.sourceID, delta); err != nil && tc.logger != nil {
		tc.logger.Warn("auth: failed to persist token cache", "source", tc.sourceID, "error", err)
	}
}
