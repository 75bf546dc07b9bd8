// Package client implements the typed HTTP client for the license server.
//
// Every request carries the fixed client-identity header set and a JSON body,
// and is bounded by the configured timeout so a hung server can never stall
// the validation scheduler. Network failures and 5xx responses map to
// ErrServerUnavailable (retryable); explicit rejections map to
// ErrInvalidLicense or ErrUnauthorized (never retried automatically).
package client

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

	"boxlic/internal/config"
	apperrors "boxlic/internal/errors"
	"boxlic/pkg/contracts/domain"
)

// Client talks to the remote license server.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	clientType    string
	clientAuth    string
	clientVersion string
	timeout       time.Duration
}

// New creates a Client from the license configuration.
func New(cfg config.LicenseConfig) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.ServerURL, "/"),
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		clientType:    cfg.ClientType,
		clientAuth:    cfg.ClientAuth,
		clientVersion: cfg.ClientVersion,
		timeout:       cfg.RequestTimeout,
	}
}

type registerRequest struct {
	BoxID      string `json:"box_id"`
	HardwareID string `json:"hardware_id"`
}

type registerResponse struct {
	APIKey string `json:"api_key"`
}

type lookupRequest struct {
	HardwareID string `json:"hardware_id"`
}

type lookupResponse struct {
	BoxID string `json:"box_id"`
}

type activateRequest struct {
	BoxID      string `json:"box_id"`
	HardwareID string `json:"hardware_id"`
	LicenseKey string `json:"license_key"`
}

type renewRequest struct {
	BoxID string `json:"box_id"`
	Token string `json:"token"`
}

type tamperRequest struct {
	BoxID      string    `json:"box_id"`
	HardwareID string    `json:"hardware_id"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Register registers this box with the server and returns its API key.
// Registering an already-known box_id/hardware_id pair succeeds without
// side effects.
func (c *Client) Register(ctx context.Context, boxID, hardwareID string) (string, error) {
	var resp registerResponse
	err := c.post(ctx, "/box/register", registerRequest{
		BoxID:      boxID,
		HardwareID: hardwareID,
	}, &resp, func(status int) error {
		return fmt.Errorf("%w: register returned status %d", apperrors.ErrServerUnavailable, status)
	})
	if err != nil {
		return "", err
	}
	return resp.APIKey, nil
}

// LookupByHardware recovers the box_id registered for this hardware, for
// identity recovery after a reinstall without a local cache. Returns
// ErrNotFound when the server has no mapping.
func (c *Client) LookupByHardware(ctx context.Context, hardwareID string) (string, error) {
	var resp lookupResponse
	err := c.post(ctx, "/box/lookup-by-hardware", lookupRequest{
		HardwareID: hardwareID,
	}, &resp, func(status int) error {
		if status == http.StatusNotFound {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("%w: lookup returned status %d", apperrors.ErrServerUnavailable, status)
	})
	if err != nil {
		return "", err
	}
	return resp.BoxID, nil
}

// Activate redeems a license key for this box. Returns ErrInvalidLicense when
// the server rejects the key (4xx) and ErrServerUnavailable on network or
// server errors.
func (c *Client) Activate(ctx context.Context, boxID, hardwareID, licenseKey string) (*domain.Grant, error) {
	var grant domain.Grant
	err := c.post(ctx, "/box/activate", activateRequest{
		BoxID:      boxID,
		HardwareID: hardwareID,
		LicenseKey: licenseKey,
	}, &grant, func(status int) error {
		if status >= 400 && status < 500 {
			return fmt.Errorf("%w: server rejected key with status %d", apperrors.ErrInvalidLicense, status)
		}
		return fmt.Errorf("%w: activate returned status %d", apperrors.ErrServerUnavailable, status)
	})
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// Renew performs the periodic heartbeat keyed by the stored token. Returns
// ErrUnauthorized on explicit rejection — trusted over a network failure, the
// caller revokes immediately — and ErrServerUnavailable on anything
// transient.
func (c *Client) Renew(ctx context.Context, boxID, jwtToken string) (*domain.Grant, error) {
	var grant domain.Grant
	err := c.post(ctx, "/box/renew", renewRequest{
		BoxID: boxID,
		Token: jwtToken,
	}, &grant, func(status int) error {
		if status >= 400 && status < 500 {
			return fmt.Errorf("%w: server rejected token with status %d", apperrors.ErrUnauthorized, status)
		}
		return fmt.Errorf("%w: renew returned status %d", apperrors.ErrServerUnavailable, status)
	})
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// ReportTampering notifies the server of detected local tampering. Best
// effort: failures are logged, never propagated, so reporting can never block
// the fail-closed transition.
func (c *Client) ReportTampering(ctx context.Context, boxID, hardwareID, reason string) {
	err := c.post(ctx, "/box/report-tampering", tamperRequest{
		BoxID:      boxID,
		HardwareID: hardwareID,
		Reason:     reason,
		Timestamp:  time.Now(),
	}, nil, func(status int) error {
		return fmt.Errorf("tamper report returned status %d", status)
	})
	if err != nil {
		slog.Warn("failed to report tampering",
			slog.String("box_id", boxID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info("tampering reported to license server",
		slog.String("box_id", boxID),
		slog.String("reason", reason),
	)
}

// post sends a JSON POST and decodes the response into out on 200. Non-200
// statuses are mapped by onStatus; transport errors map to
// ErrServerUnavailable.
func (c *Client) post(ctx context.Context, path string, body, out interface{}, onStatus func(int) error) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Type", c.clientType)
	req.Header.Set("X-Client-Auth", c.clientAuth)
	req.Header.Set("X-Client-Version", c.clientVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrServerUnavailable, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return onStatus(resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", apperrors.ErrServerUnavailable, err)
	}
	return nil
}
