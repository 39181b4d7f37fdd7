// Package auth exchanges the long-lived refresh credential for short-lived
// bearer credentials at the OAuth2 token endpoint.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/qbo-backfill/pkg/logging"
)

var tokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "qbo_token_refreshes_total",
	Help: "Token exchanges by outcome",
}, []string{"outcome"})

// Credential is a bearer token held in memory for the duration of a run.
type Credential struct {
	AccessToken string
	ObtainedAt  time.Time
}

// AuthorizationHeader returns the value for the Authorization header.
func (c Credential) AuthorizationHeader() string {
	return "Bearer " + c.AccessToken
}

// AuthError reports a failed refresh exchange.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	case e.StatusCode != http.StatusOK:
		return fmt.Sprintf("token exchange failed (status %d): %s", e.StatusCode, e.Body)
	default:
		return "token exchange failed: response has no access_token"
	}
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Config holds the OAuth client and the refresh credential.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Provider obtains bearer credentials. It keeps no token state: each call
// performs exactly one exchange and the caller owns the result.
type Provider struct {
	httpClient *http.Client
	config     Config
	emitter    logging.Emitter
	now        func() time.Time
}

// NewProvider creates a Provider. A nil httpClient uses a 30s-timeout client.
func NewProvider(cfg Config, httpClient *http.Client, emitter logging.Emitter) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if emitter == nil {
		emitter = logging.Nop{}
	}
	return &Provider{
		httpClient: httpClient,
		config:     cfg,
		emitter:    emitter,
		now:        time.Now,
	}
}

// Obtain performs one refresh-token exchange. It does not retry.
func (p *Provider) Obtain(ctx context.Context) (Credential, error) {
	logging.Emit(p.emitter, logging.LevelInfo, logging.PhaseAuth, "requesting access token", nil)

	cred, err := p.exchange(ctx)
	if err != nil {
		tokenRefreshesTotal.WithLabelValues("failure").Inc()
		logging.EmitError(p.emitter, logging.PhaseAuthError, "token refresh failed", err, nil)
		return Credential{}, err
	}

	tokenRefreshesTotal.WithLabelValues("success").Inc()
	return cred, nil
}

func (p *Provider) exchange(ctx context.Context) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", p.config.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, &AuthError{Err: fmt.Errorf("create request: %w", err)}
	}
	basic := base64.StdEncoding.EncodeToString([]byte(p.config.ClientID + ":" + p.config.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if parsed.AccessToken == "" {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode}
	}

	return Credential{AccessToken: parsed.AccessToken, ObtainedAt: p.now().UTC()}, nil
}
