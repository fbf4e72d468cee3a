package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HubClient is the opaque hub-transport contract: list a snapshot's
// files, fetch one file's remote ETag, and stream a file's content to
// an io.Writer. Grounded on wudi-pdfkit/security/validation/revocation.go's
// http.Client{Timeout}+http.NewRequestWithContext pattern for the
// real implementation; tests use an in-memory fake.
type HubClient interface {
	ResolveRevision(ctx context.Context, modelID string) (revision string, files []string, err error)
	FetchETag(ctx context.Context, modelID, revision, relativePath string) (etag string, err error)
	Download(ctx context.Context, modelID, revision, relativePath string, dest io.Writer) error
}

// HTTPHubClient is a minimal real HubClient backed by stdlib net/http
// against a Hugging-Face-Hub-shaped REST surface (HEAD for ETag, GET
// for content). Listing is not implemented: ResolveRevision always
// returns an error, so EnsureReady cannot resolve a remote id through
// this client on its own. It is not wired into any
// default path today — no pack repo ships a concrete hub SDK, and
// EnsureReady accepts any HubClient, so a caller plugs in a real one.
type HTTPHubClient struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPHubClient constructs a client against baseURL (e.g.
// "https://huggingface.co") with a bounded request timeout.
func NewHTTPHubClient(baseURL string) *HTTPHubClient {
	return &HTTPHubClient{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{Timeout: 30 * time.Second}}
}

func (c *HTTPHubClient) ResolveRevision(ctx context.Context, modelID string) (string, []string, error) {
	return "", nil, fmt.Errorf("delivery: HTTPHubClient.ResolveRevision not implemented for model %q", modelID)
}

func (c *HTTPHubClient) FetchETag(ctx context.Context, modelID, revision, relativePath string) (string, error) {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.BaseURL, modelID, revision, relativePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", fmt.Errorf("delivery: build HEAD request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("delivery: HEAD %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("delivery: HEAD %s: status %d", url, resp.StatusCode)
	}
	return resp.Header.Get("ETag"), nil
}

func (c *HTTPHubClient) Download(ctx context.Context, modelID, revision, relativePath string, dest io.Writer) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.BaseURL, modelID, revision, relativePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("delivery: build GET request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery: GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("delivery: GET %s: status %d", url, resp.StatusCode)
	}
	_, err = io.Copy(dest, resp.Body)
	return err
}

// normalizeETag strips a leading weak-validator marker and outer
// quotes, then lowercases the result (spec.md §4.6).
func normalizeETag(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"`)
	return strings.ToLower(s)
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
