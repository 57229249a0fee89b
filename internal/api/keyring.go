package api

import (
	"crypto/subtle"
	"errors"
	"strings"

	"kajabook/internal/config"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
)

// keyring holds the configured admin keys. Header names are lower-cased so
// the same ring serves HTTP headers and gRPC metadata.
type keyring struct {
	apiKeyHeader string
	extraHeader  string
	clients      map[string]config.APIClientKey
}

func newKeyring(cfg config.APIAuthConfig) *keyring {
	k := &keyring{
		apiKeyHeader: headerName(cfg.HeaderAPIKey, apiKeyHeaderDefault),
		extraHeader:  headerName(cfg.HeaderExtra, apiExtraHeaderDefault),
		clients:      make(map[string]config.APIClientKey, len(cfg.APIKeys)),
	}
	for _, c := range cfg.APIKeys {
		k.clients[c.Key] = c
	}
	return k
}

func headerName(v, def string) string {
	if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
		return v
	}
	return def
}

// verify checks the key pair and that the client holds the required
// permission ("" needs none). The error is one of the err* values above.
func (k *keyring) verify(apiKey, extra, required string) (config.APIClientKey, error) {
	apiKey, extra = strings.TrimSpace(apiKey), strings.TrimSpace(extra)
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, errMissingKey
	}
	client, ok := k.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	if !client.Allows(required) {
		return client, errPermissionDenied
	}
	return client, nil
}
