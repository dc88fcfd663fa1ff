package extract

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

	"audiocache/internal/ident"
	"audiocache/internal/logging"
)

// maxProxyResponse bounds how much of an upstream response body is read.
const maxProxyResponse = 1 << 20

// ProxyConfig holds configuration for the upstream extraction backend.
type ProxyConfig struct {
	BaseURL string // UPSTREAM_URL
	Token   string // UPSTREAM_TOKEN
	Timeout time.Duration
}

// ProxyExtractor implements Extractor by delegating to a remote backend that
// exposes the same /download contract, authenticated with a bearer token.
type ProxyExtractor struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

type proxyResponse struct {
	AudioURL string `json:"audioUrl"`
	Error    string `json:"error"`
}

// NewProxyExtractor creates a new upstream-backed extractor.
func NewProxyExtractor(cfg ProxyConfig) (*ProxyExtractor, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream url is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("upstream token is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ProxyExtractor{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

// Extract asks the upstream backend to extract sourceURL and maps its answer.
// The artifact's creation time is the moment the upstream answered.
func (p *ProxyExtractor) Extract(ctx context.Context, sourceURL string) (*Result, error) {
	key, err := ident.ExtractID(sourceURL)
	if err != nil {
		return nil, newError(ErrInvalidURL, "invalid video URL", err)
	}

	endpoint := p.baseURL + "/download?videoUrl=" + url.QueryEscape(sourceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(ErrDownloadFailed, "failed to contact upstream", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")

	logging.Extract.Printf("key=%s delegating to upstream", key)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, newError(ErrDownloadFailed, "upstream request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyResponse))
	if err != nil {
		return nil, newError(ErrDownloadFailed, "failed to read upstream response", err)
	}

	var pr proxyResponse
	decodeErr := json.Unmarshal(body, &pr)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		msg := pr.Error
		if msg == "" {
			msg = "upstream rejected the video URL"
		}
		return nil, newError(ErrInvalidURL, msg, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newError(ErrDownloadFailed, "upstream rejected credentials",
			fmt.Errorf("upstream returned status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, newError(ErrDownloadFailed, "upstream extraction failed",
			fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, strings.TrimSpace(pr.Error)))
	}

	if decodeErr != nil {
		return nil, newError(ErrDownloadFailed, "upstream returned an invalid response", decodeErr)
	}
	if pr.AudioURL == "" {
		return nil, newError(ErrDownloadFailed, "upstream returned no audio URL", nil)
	}

	return &Result{
		Key:       key,
		AudioURL:  pr.AudioURL,
		CreatedAt: p.now(),
	}, nil
}
