package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const DefaultEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// SiteVerifyConfig configures a SiteVerifier.
type SiteVerifyConfig struct {
	Endpoint string
	Secret   string
	// MinScore rejects score-based tokens below it. Zero disables the check.
	MinScore float64
	// Action, when set, must match the action reported for the token.
	Action  string
	Timeout time.Duration
	// Retries is the number of extra attempts after a transport failure or
	// a 5xx response.
	Retries    uint64
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// SiteVerifier checks tokens against a reCAPTCHA-compatible siteverify
// endpoint.
type SiteVerifier struct {
	cfg    SiteVerifyConfig
	client *http.Client
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// NewSiteVerifier validates cfg and fills in defaults.
func NewSiteVerifier(cfg SiteVerifyConfig) (*SiteVerifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("captcha secret required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("captcha endpoint: %w", err)
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return nil, errors.New("captcha MinScore must be between 0 and 1")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &SiteVerifier{cfg: cfg, client: client}, nil
}

// Check posts the token and interprets the verdict. Transport failures and
// 5xx responses are retried and end in ErrUnavailable; a negative verdict
// is ErrRejected.
func (v *SiteVerifier) Check(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}

	var verdict siteVerifyResponse
	backoff := retry.WithMaxRetries(v.cfg.Retries, retry.NewExponential(v.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := v.post(ctx, token)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return retry.RetryableError(fmt.Errorf("siteverify status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("siteverify status %d", resp.StatusCode)
		}
		return json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&verdict)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if !verdict.Success {
		return fmt.Errorf("%w: %s", ErrRejected, strings.Join(verdict.ErrorCodes, ","))
	}
	if v.cfg.MinScore > 0 && verdict.Score != nil && *verdict.Score < v.cfg.MinScore {
		return fmt.Errorf("%w: score %.2f", ErrRejected, *verdict.Score)
	}
	if v.cfg.Action != "" && verdict.Action != "" && verdict.Action != v.cfg.Action {
		return fmt.Errorf("%w: action %q", ErrRejected, verdict.Action)
	}
	return nil
}

func (v *SiteVerifier) post(ctx context.Context, token string) (*http.Response, error) {
	form := url.Values{}
	form.Set("secret", v.cfg.Secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return v.client.Do(req)
}
