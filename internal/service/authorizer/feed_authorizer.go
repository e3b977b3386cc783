package authorizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-feed-service/internal/config"
	"github.com/krobus00/market-feed-service/internal/constant"
	"github.com/krobus00/market-feed-service/internal/entity"
)

const maxErrorBodyBytes = 4 << 10

type authorizeResponse struct {
	Status string `json:"status"`
	Data   struct {
		AuthorizedRedirectURI string `json:"authorizedRedirectUri"`
	} `json:"data"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errors"`
}

// FeedAuthorizer exchanges the long-lived bearer credential for a single-use
// streaming URL. Every call hits the authorization endpoint; URLs are never cached.
type FeedAuthorizer struct {
	baseURL     string
	accessToken string
	apiVersion  string
	timeout     time.Duration
	httpClient  *http.Client
}

func NewFeedAuthorizer(cfg config.FeedConfig, httpClient *http.Client) *FeedAuthorizer {
	cfg = cfg.WithDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &FeedAuthorizer{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		apiVersion:  cfg.APIVersion,
		timeout:     cfg.AuthorizeTimeout,
		httpClient:  httpClient,
	}
}

// Header returns the headers the streaming socket handshake repeats.
func (a *FeedAuthorizer) Header() http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.accessToken)
	header.Set("Api-Version", a.apiVersion)
	return header
}

// GetStreamURL returns a fresh authorized stream URL. Errors wrap
// entity.ErrAuthorization; a rejected credential additionally wraps
// entity.ErrInvalidCredential.
func (a *FeedAuthorizer) GetStreamURL(ctx context.Context) (string, error) {
	if a.accessToken == "" {
		return "", fmt.Errorf("%w: %w: access token is empty", entity.ErrAuthorization, entity.ErrInvalidCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+constant.FeedAuthorizePath, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", entity.ErrAuthorization, err)
	}

	req.Header = a.Header()
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s: %w", entity.ErrAuthorization, a.timeout, err)
		}
		return "", fmt.Errorf("%w: %w", entity.ErrAuthorization, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", entity.ErrAuthorization, err)
	}

	var payload authorizeResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: %w: status %d: %s", entity.ErrAuthorization, entity.ErrInvalidCredential, resp.StatusCode, errorMessage(payload, body))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", entity.ErrAuthorization, resp.StatusCode, errorMessage(payload, body))
	}

	if decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %w", entity.ErrAuthorization, decodeErr)
	}

	redirectURI := strings.TrimSpace(payload.Data.AuthorizedRedirectURI)
	if redirectURI == "" {
		return "", fmt.Errorf("%w: response has no authorizedRedirectUri", entity.ErrAuthorization)
	}

	return redirectURI, nil
}

func errorMessage(payload authorizeResponse, body []byte) string {
	messages := make([]string, 0, len(payload.Errors))
	for _, e := range payload.Errors {
		if e.Message == "" {
			continue
		}
		if e.ErrorCode != "" {
			messages = append(messages, e.ErrorCode+" "+e.Message)
			continue
		}
		messages = append(messages, e.Message)
	}
	if len(messages) > 0 {
		return strings.Join(messages, "; ")
	}

	raw := strings.TrimSpace(string(body))
	if len(raw) > maxErrorBodyBytes {
		raw = raw[:maxErrorBodyBytes]
	}
	return raw
}
