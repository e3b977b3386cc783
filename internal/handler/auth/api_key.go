package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/krobus00/market-feed-service/internal/config"
)

var (
	ErrAPIKeyMissing  = errors.New("api key is required")
	ErrAPIKeyInvalid  = errors.New("invalid api key")
	ErrAPIKeyInactive = errors.New("api key is inactive")
	ErrAPIKeyExpired  = errors.New("api key is expired")
)

// ResolveAPIKey reads the X-API-Key header, falling back to the api_key query
// parameter for browser websocket clients that cannot set headers.
func ResolveAPIKey(r *http.Request) string {
	if headerKey := strings.TrimSpace(r.Header.Get("X-API-Key")); headerKey != "" {
		return headerKey
	}

	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

// ValidateAPIKey checks rawAPIKey against the configured api_keys.
func ValidateAPIKey(rawAPIKey string) error {
	return validateAt(rawAPIKey, configuredKeys(), time.Now().UTC())
}

// RequireAPIKey rejects requests without a valid api key with 401.
func RequireAPIKey(next http.Handler, reject func(w http.ResponseWriter, err error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ValidateAPIKey(ResolveAPIKey(r)); err != nil {
			reject(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func configuredKeys() []config.APIKeyConfig {
	if config.Env == nil {
		return nil
	}
	return config.Env.APIKeys
}

func validateAt(rawAPIKey string, keys []config.APIKeyConfig, now time.Time) error {
	apiKey := strings.TrimSpace(rawAPIKey)
	if apiKey == "" {
		return ErrAPIKeyMissing
	}

	for _, candidate := range keys {
		storedKey := strings.TrimSpace(candidate.Key)
		if storedKey == "" {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(storedKey)) != 1 {
			continue
		}

		if !candidate.Active {
			return ErrAPIKeyInactive
		}

		expiredAt, hasExpiry, err := parseExpiry(candidate.ExpiredAt)
		if err != nil {
			return ErrAPIKeyInvalid
		}
		if hasExpiry && !now.Before(expiredAt) {
			return ErrAPIKeyExpired
		}

		return nil
	}

	return ErrAPIKeyInvalid
}

// parseExpiry accepts RFC3339 timestamps and plain dates. A plain date stays
// valid through the end of that day.
func parseExpiry(value any) (time.Time, bool, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v.UTC(), !v.IsZero(), nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false, nil
		}

		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC(), true, nil
		}

		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return time.Time{}, false, err
		}

		return parsed.UTC().Add(24 * time.Hour), true, nil
	default:
		return time.Time{}, false, errors.New("unsupported expiry type")
	}
}
