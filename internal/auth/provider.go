// Package auth verifies bearer tokens against the external auth provider
// and caches successful verifications.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mealex/peerdir/pkg/config"
	pkgerrors "github.com/mealex/peerdir/pkg/errors"
	"github.com/mealex/peerdir/pkg/resilience"
)

// Provider verifies an opaque bearer token into a principal id. It fails
// with pkg/errors.ErrInvalidToken for rejected tokens and
// ErrUpstreamUnavailable when the provider cannot be reached.
type Provider interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// HTTPProvider verifies tokens against a remote verification endpoint.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider creates a Provider calling the configured verify URL.
func NewHTTPProvider(cfg config.AuthConfig) *HTTPProvider {
	return &HTTPProvider{
		url: cfg.VerifyURL,
		client: &http.Client{
			Timeout: cfg.VerifyTimeout,
		},
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	UID string `json:"uid"`
}

// VerifyToken posts the token to the verifier. A definitive rejection is
// returned immediately; transient transport failures get one retry before
// surfacing as ErrUpstreamUnavailable.
func (p *HTTPProvider) VerifyToken(ctx context.Context, token string) (string, error) {
	var principal string
	err := resilience.Retry(ctx, "token-verify", resilience.RetryConfig{MaxAttempts: 2}, func() error {
		body, err := json.Marshal(verifyRequest{Token: token})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("calling auth provider: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var vr verifyResponse
			if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
				return fmt.Errorf("decoding verify response: %w", err)
			}
			if vr.UID == "" {
				return fmt.Errorf("verify response missing uid")
			}
			principal = vr.UID
			return nil
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			// Definitive answer; retrying cannot help.
			principal = ""
			return nil
		default:
			return fmt.Errorf("auth provider returned %d", resp.StatusCode)
		}
	})
	if err != nil {
		// The message is what API clients see; the attempt errors were
		// already logged by the retry loop.
		return "", pkgerrors.New(pkgerrors.ErrUpstreamUnavailable,
			http.StatusServiceUnavailable, "authentication service unreachable")
	}
	if principal == "" {
		return "", pkgerrors.ErrInvalidToken
	}
	return principal, nil
}
