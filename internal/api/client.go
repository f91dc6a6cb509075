// Package api adapts the app's internal operation vocabulary (login,
// refresh, profile, sync dispatch) onto the concrete backend HTTP contract.
// The backend surface does not match one-to-one: it issues no refresh
// token, so refresh is simulated client-side with rotation bookkeeping (an
// interim scheme pending a real backend-issued refresh flow).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/platform"
	"github.com/glucolog/glucolog/internal/vault"
)

// Client talks to the backend. Base URL always comes from the platform
// resolver; every request carries a bounded timeout.
type Client struct {
	base     string
	hc       *http.Client
	vault    vault.Vault
	resolver *platform.Resolver
	signKey  []byte
	log      *zap.Logger

	refreshThreshold time.Duration
	maxRotations     int

	// refreshGroup collapses concurrent refresh attempts into one rotation;
	// late callers await the in-flight result.
	refreshGroup singleflight.Group
}

// New constructs a Client. signKey signs locally minted access tokens
// during simulated refresh; a device-local random key is fine.
func New(resolver *platform.Resolver, v vault.Vault, signKey []byte, log *zap.Logger) (*Client, error) {
	cfg, err := resolver.Config()
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}
	return &Client{
		base:             resolver.APIBaseURL(),
		hc:               &http.Client{Transport: transport, Timeout: 10 * time.Second},
		vault:            v,
		resolver:         resolver,
		signKey:          signKey,
		log:              log,
		refreshThreshold: cfg.RefreshThreshold,
		maxRotations:     cfg.MaxRotations,
	}, nil
}

// doJSON issues a request with an optional JSON body and decodes a JSON
// response into out (when non-nil). Transport failures and timeouts map to
// ErrNetwork; non-2xx statuses map through mapStatus.
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return netErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapStatus(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", errs.ErrServer, method, path, err)
	}
	return nil
}

// doForm posts a form-encoded body (the backend token endpoint speaks
// application/x-www-form-urlencoded) and decodes a JSON response.
func (c *Client) doForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return netErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapStatus(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// errorBody is the backend's error payload shape.
type errorBody struct {
	Detail string `json:"detail"`
}

// mapStatus normalizes a non-2xx response into the error taxonomy. 4xx
// application errors are not retryable; 5xx and transport failures are.
func (c *Client) mapStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	detail := strings.ToLower(eb.Detail)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errs.ErrInvalidCredentials
	case resp.StatusCode == http.StatusForbidden:
		if strings.Contains(detail, "pending") {
			return errs.ErrAccountPending
		}
		return errs.ErrAccountDisabled
	case resp.StatusCode == http.StatusNotFound:
		if strings.Contains(detail, "user") {
			return errs.ErrUserNotFound
		}
		return errs.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", errs.ErrConflict, eb.Detail)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", errs.ErrValidation, eb.Detail)
	default:
		return fmt.Errorf("%w: status %d", errs.ErrServer, resp.StatusCode)
	}
}

// netErr folds transport errors and timeouts into ErrNetwork; a canceled
// context stays a cancellation.
func netErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrNetwork, err)
}
