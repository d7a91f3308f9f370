// Package roblox is a thin client for the public Roblox users API. It only
// covers the three endpoints the verification flow needs: keyword search,
// exact-username lookup and profile fetch.
package roblox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"yeoyu-guard/internal/config"
)

var (
	// ErrNotFound means every lookup came back empty: the handle does not
	// resolve to any account. Terminal for the caller.
	ErrNotFound = errors.New("roblox account not found")
	// ErrUnavailable means the API could not be reached or kept failing;
	// the caller may retry without losing flow state.
	ErrUnavailable = errors.New("roblox api unavailable")
)

// Account is the resolved identity of a Roblox user.
type Account struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Profile is an account plus its public "About" text.
type Profile struct {
	Account
	Description string `json:"description"`
}

type Client struct {
	http       *http.Client
	baseURL    string
	maxRetries uint64
	retryDelay time.Duration
	flight     singleflight.Group
	logger     *zap.Logger
}

func New(cfg config.RobloxConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delay := time.Duration(cfg.RetryDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: uint64(max(cfg.MaxRetries, 0)),
		retryDelay: delay,
		logger:     logger.Named("roblox"),
	}
}

// Resolve maps a free-text handle to an account. An exact case-insensitive
// username match anywhere in the search results wins; otherwise the first
// candidate is taken as a lenient best-effort match. An empty search falls
// back to the exact-username endpoint before giving up with ErrNotFound.
func (c *Client) Resolve(ctx context.Context, handle string) (Account, error) {
	candidates, err := c.SearchByHandle(ctx, handle)
	if err != nil {
		return Account{}, err
	}
	if len(candidates) > 0 {
		for _, candidate := range candidates {
			if strings.EqualFold(candidate.Name, handle) {
				return candidate, nil
			}
		}
		return candidates[0], nil
	}
	return c.LookupExact(ctx, handle)
}

// ResolveIDOrName accepts either a numeric Roblox id or a handle. Used by the
// manual-verify admin command, which takes both forms in one argument.
func (c *Client) ResolveIDOrName(ctx context.Context, input string) (Account, error) {
	if id, err := strconv.ParseInt(input, 10, 64); err == nil {
		profile, err := c.Profile(ctx, id)
		if err != nil {
			return Account{}, err
		}
		return profile.Account, nil
	}
	return c.Resolve(ctx, input)
}

// SearchByHandle queries the keyword-search endpoint. An empty result slice
// with a nil error means the search found nothing.
func (c *Client) SearchByHandle(ctx context.Context, handle string) ([]Account, error) {
	endpoint := fmt.Sprintf("%s/v1/users/search?keyword=%s&limit=10", c.baseURL, url.QueryEscape(handle))

	var response struct {
		Data []Account `json:"data"`
	}
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// LookupExact resolves one exact username via the bulk usernames endpoint.
func (c *Client) LookupExact(ctx context.Context, name string) (Account, error) {
	body, err := sonic.Marshal(map[string]any{
		"usernames":          []string{name},
		"excludeBannedUsers": true,
	})
	if err != nil {
		return Account{}, err
	}

	var response struct {
		Data []Account `json:"data"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/v1/usernames/users", body, &response); err != nil {
		return Account{}, err
	}
	if len(response.Data) == 0 {
		return Account{}, ErrNotFound
	}
	return response.Data[0], nil
}

// Profile fetches an account's public profile, including the About text the
// challenge token is expected in. Concurrent fetches for the same id share
// one request.
func (c *Client) Profile(ctx context.Context, id int64) (Profile, error) {
	key := strconv.FormatInt(id, 10)
	result, err, _ := c.flight.Do(key, func() (any, error) {
		var profile Profile
		endpoint := fmt.Sprintf("%s/v1/users/%d", c.baseURL, id)
		if err := c.getJSON(ctx, endpoint, &profile); err != nil {
			return Profile{}, err
		}
		return profile, nil
	})
	if err != nil {
		return Profile{}, err
	}
	return result.(Profile), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte, out any) error {
	return c.doJSON(ctx, http.MethodPost, endpoint, body, out)
}

// doJSON performs one API call with bounded exponential retry. HTTP 404
// becomes ErrNotFound immediately; transport errors, 429 and 5xx are retried
// and collapse to ErrUnavailable once retries are exhausted.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte, out any) error {
	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, string(payload)))
		}

		if err := sonic.Unmarshal(payload, out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode: %w", ErrUnavailable, err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Warn("roblox api call failed", zap.String("endpoint", endpoint), zap.Error(err))
		return err
	}
	return nil
}
