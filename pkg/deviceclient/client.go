// Package deviceclient calls the device registration API on behalf of one user.
//
// Each Client wraps calls in the retry policy and remembers fingerprints the
// server has already recognized, so a returning device does not hit the network
// again until the entry expires. The server stays authoritative: a cached entry
// only skips a call, it never decides a registration.
package deviceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/tendant/simple-device/pkg/device/api"
	apperrors "github.com/tendant/simple-device/pkg/errors"
	"github.com/tendant/simple-device/pkg/fingerprint"
	"github.com/tendant/simple-device/pkg/retry"
)

const (
	DefaultCacheTTL  = time.Hour
	DefaultTimeout   = 10 * time.Second
	maxCachedDevices = 1024
)

// Result describes a registration as seen by the caller
type Result struct {
	DeviceID    uuid.UUID
	DeviceLabel string
	Outcome     string
	// Cached is set when the result came from the local cache without a server call
	Cached bool
}

// Client registers devices for the user whose token it carries
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	policy     retry.Policy
	cacheTTL   time.Duration
	cache      *ristretto.Cache[string, Result]
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the bearer token sent with every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithPolicy replaces the default retry policy
func WithPolicy(policy retry.Policy) Option {
	return func(c *Client) { c.policy = policy }
}

// WithCacheTTL sets how long a recognized fingerprint is trusted locally; 0 disables the cache
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cacheTTL = ttl }
}

// New creates a client for the device API mounted at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		policy:     retry.DefaultPolicy(),
		cacheTTL:   DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, Result]{
			NumCounters:        10 * maxCachedDevices,
			MaxCost:            maxCachedDevices,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create registration cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Close releases the cache
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// Register reports the device described by rawFingerprint. Invalid fingerprints
// fail locally with VALIDATION_FAILED. Server errors keep their codes; transport
// failures surface as RESOURCE_UNAVAILABLE after the retry policy gives up.
func (c *Client) Register(ctx context.Context, rawFingerprint any) (Result, error) {
	fp, err := fingerprint.Canonicalize(rawFingerprint)
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "invalid fingerprint")
	}
	key := fingerprint.Hash(fp)

	if cached, ok := c.lookup(key); ok {
		cached.Cached = true
		return cached, nil
	}

	var result Result
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.register(ctx, fp)
		return callErr
	})
	if err != nil {
		return Result{}, err
	}

	c.remember(key, result)
	return result, nil
}

// Forget drops a fingerprint from the local cache so the next Register asks the server
func (c *Client) Forget(rawFingerprint any) {
	if c.cache == nil {
		return
	}
	fp, err := fingerprint.Canonicalize(rawFingerprint)
	if err != nil {
		return
	}
	c.cache.Del(fingerprint.Hash(fp))
	c.cache.Wait()
}

func (c *Client) lookup(key string) (Result, bool) {
	if c.cache == nil {
		return Result{}, false
	}
	return c.cache.Get(key)
}

func (c *Client) remember(key string, result Result) {
	if c.cache == nil {
		return
	}
	if !c.cache.SetWithTTL(key, result, 1, c.cacheTTL) {
		slog.Debug("Registration cache dropped entry", "deviceID", result.DeviceID)
		return
	}
	c.cache.Wait()
}

func (c *Client) register(ctx context.Context, fp fingerprint.Fingerprint) (Result, error) {
	body, err := json.Marshal(map[string]any{"fingerprint": fp})
	if err != nil {
		return Result{}, apperrors.InternalWrap(err, "failed to encode fingerprint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return Result{}, apperrors.InternalWrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, apperrors.Wrap(err, apperrors.ErrCodeResourceUnavailable, "device service unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrCodeResourceUnavailable, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{}, decodeError(resp.StatusCode, data)
	}

	var reg api.RegisterDeviceResponse
	if err := json.Unmarshal(data, &reg); err != nil {
		return Result{}, apperrors.InternalWrap(err, "failed to decode registration")
	}
	return Result{
		DeviceID:    reg.Device.ID,
		DeviceLabel: reg.Device.DeviceLabel,
		Outcome:     reg.Outcome,
	}, nil
}

// decodeError rebuilds the coded error from an error body. Bodies without a code
// are classified by status so gateway failures stay retryable.
func decodeError(status int, data []byte) error {
	var body apperrors.Response
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		return apperrors.New(body.Code, body.Message).WithDetails(body.Details)
	}

	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return apperrors.Newf(apperrors.ErrCodeResourceUnavailable, "device service returned %d", status)
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(strings.TrimSpace(string(data)))
	case http.StatusForbidden:
		return apperrors.Forbidden(strings.TrimSpace(string(data)))
	default:
		return apperrors.Newf(apperrors.ErrCodeInternal, "device service returned %d", status)
	}
}
