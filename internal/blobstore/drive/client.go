// Package drive is a blob backend for the Google Drive v3 REST API.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notehub/internal/blobstore"
	"notehub/internal/config"
	"notehub/internal/domain"
)

const (
	DefaultAPIBaseURL    = "https://www.googleapis.com/drive/v3"
	DefaultUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"
	DefaultDownloadURL   = "https://drive.google.com/uc"

	// Error bodies beyond this are truncated in messages
	maxErrorBody = 4 << 10
)

// TokenProvider supplies bearer tokens
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// Config configures a Client
type Config struct {
	APIBaseURL    string
	UploadBaseURL string
	DownloadURL   string
	FolderID      string // parent folder for new files (optional)
	HTTPClient    *http.Client

	// CleanupTimeout bounds the delete of a file that could not be shared
	CleanupTimeout time.Duration
}

// Client implements blobstore.Backend
type Client struct {
	apiBaseURL    string
	uploadBaseURL string
	downloadURL   string
	folderID      string
	httpClient    *http.Client
	cleanup       time.Duration
	tokens        TokenProvider
	logger        *slog.Logger
}

var _ blobstore.Backend = (*Client)(nil)

// New creates a drive client
func New(cfg Config, tokens TokenProvider, logger *slog.Logger) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.UploadBaseURL == "" {
		cfg.UploadBaseURL = DefaultUploadBaseURL
	}
	if cfg.DownloadURL == "" {
		cfg.DownloadURL = DefaultDownloadURL
	}
	if cfg.HTTPClient == nil {
		// Per-call deadlines come from ctx; this only caps a stuck connection
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = config.BlobMetadataTimeout
	}
	return &Client{
		apiBaseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		uploadBaseURL: strings.TrimRight(cfg.UploadBaseURL, "/"),
		downloadURL:   cfg.DownloadURL,
		folderID:      cfg.FolderID,
		httpClient:    cfg.HTTPClient,
		cleanup:       cfg.CleanupTimeout,
		tokens:        tokens,
		logger:        logger.With("component", "drive"),
	}
}

// Name identifies the backend
func (c *Client) Name() string { return "drive" }

type fileMetadata struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
	Trashed  bool     `json:"trashed,omitempty"`
}

type permission struct {
	Role string `json:"role"`
	Type string `json:"type"`
}

// Create makes an empty file and shares it read-only with anyone holding
// the link, so the derived download URL works without our credentials.
func (c *Client) Create(ctx context.Context, name, mimeType string) (string, error) {
	meta := fileMetadata{Name: name, MimeType: mimeType}
	if c.folderID != "" {
		meta.Parents = []string{c.folderID}
	}

	var created fileMetadata
	if err := c.doJSON(ctx, http.MethodPost, c.apiBaseURL+"/files?fields=id", meta, &created); err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create file: response carried no id")
	}

	perm := permission{Role: "reader", Type: "anyone"}
	endpoint := fmt.Sprintf("%s/files/%s/permissions", c.apiBaseURL, url.PathEscape(created.ID))
	if err := c.doJSON(ctx, http.MethodPost, endpoint, perm, nil); err != nil {
		// Unshared files are useless to readers; remove it so it is not orphaned
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanup)
		defer cancel()
		if delErr := c.Delete(cleanupCtx, created.ID); delErr != nil && !errors.Is(delErr, blobstore.ErrNotExist) {
			c.logger.Error("failed to remove unshared file",
				"blob_ref", created.ID,
				"error", delErr,
				"alert", "orphaned_blob",
			)
		}
		return "", fmt.Errorf("share file %s: %w", created.ID, err)
	}

	return created.ID, nil
}

// Write uploads content with a simple media upload
func (c *Client) Write(ctx context.Context, ref string, content []byte, mimeType string) error {
	endpoint := fmt.Sprintf("%s/files/%s?uploadType=media", c.uploadBaseURL, url.PathEscape(ref))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if err := c.do(ctx, http.MethodPatch, endpoint, mimeType, content, nil); err != nil {
		return fmt.Errorf("upload content: %w", err)
	}
	return nil
}

// Stat reports ErrNotExist for missing and trashed files
func (c *Client) Stat(ctx context.Context, ref string) error {
	endpoint := fmt.Sprintf("%s/files/%s?fields=id,trashed", c.apiBaseURL, url.PathEscape(ref))

	var meta fileMetadata
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &meta); err != nil {
		return err
	}
	if meta.Trashed {
		return blobstore.ErrNotExist
	}
	return nil
}

// Delete permanently removes the file
func (c *Client) Delete(ctx context.Context, ref string) error {
	endpoint := fmt.Sprintf("%s/files/%s", c.apiBaseURL, url.PathEscape(ref))
	return c.do(ctx, http.MethodDelete, endpoint, "", nil, nil)
}

// URL is the public download link for a shared file
func (c *Client) URL(ref string) string {
	return c.downloadURL + "?export=download&id=" + url.QueryEscape(ref)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body []byte
	contentType := ""
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		contentType = "application/json"
	}
	return c.do(ctx, method, endpoint, contentType, body, out)
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body []byte, out interface{}) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrTransientStore, method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }() // Error ignored: response consumed

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return c.statusError(resp.StatusCode, method, req.URL.Path, msg)
}

// statusError maps an API status onto blobstore/domain errors
func (c *Client) statusError(status int, method, path string, body []byte) error {
	detail := fmt.Sprintf("%s %s: status %d: %s", method, path, status, strings.TrimSpace(string(body)))

	switch {
	case status == http.StatusNotFound:
		return blobstore.ErrNotExist
	case status == http.StatusUnauthorized:
		// The token looked valid to us; drop it so the retry refreshes
		c.tokens.Invalidate()
		return fmt.Errorf("%w: %s", domain.ErrTransientStore, detail)
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrTransientStore, detail)
	case status == http.StatusForbidden && isRateLimit(body):
		return fmt.Errorf("%w: %s", domain.ErrTransientStore, detail)
	default:
		return fmt.Errorf("drive api error: %s", detail)
	}
}

// isRateLimit detects Drive's 403 rate limit responses
func isRateLimit(body []byte) bool {
	var payload struct {
		Error struct {
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	for _, e := range payload.Error.Errors {
		if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
