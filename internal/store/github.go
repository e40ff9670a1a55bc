package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/config"
)

// GitHubStore keeps documents as files in a hosted repository, using the
// contents API. The blob SHA serves as the document version, which gives
// Overwrite its optimistic-concurrency semantics for free: the API rejects
// an update whose sha no longer matches the current blob.
type GitHubStore struct {
	cfg    config.GitHubConfig
	client *http.Client
	logger *zap.Logger
}

// NewGitHubStore builds a store client for the configured repository.
func NewGitHubStore(cfg config.GitHubConfig, logger *zap.Logger) *GitHubStore {
	return &GitHubStore{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

type updateRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch,omitempty"`
}

type updateResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// Fetch downloads and decodes the file at path.
func (s *GitHubStore) Fetch(ctx context.Context, path string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.contentsURL(path), nil)
	if err != nil {
		return Document{}, err
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Document{}, ErrNotFound
	default:
		return Document{}, fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}

	var payload contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Document{}, fmt.Errorf("fetch %s: decode response: %w", path, err)
	}

	raw, err := base64.StdEncoding.DecodeString(stripNewlines(payload.Content))
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: decode content: %w", path, err)
	}

	return Document{Path: path, Content: string(raw), Version: payload.SHA}, nil
}

// Overwrite replaces the file, expecting the current blob sha to match.
func (s *GitHubStore) Overwrite(ctx context.Context, path, content, expectedVersion string) (string, error) {
	body, err := json.Marshal(updateRequest{
		Message: fmt.Sprintf("update %s", path),
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		SHA:     expectedVersion,
		Branch:  s.cfg.Branch,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.contentsURL(path), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("overwrite %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// The API reports a stale sha as 409 or 422 depending on the path.
		s.logger.Debug("stale document version", zap.String("path", path))
		return "", ErrConflict
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("overwrite %s: unexpected status %d: %s", path, resp.StatusCode, msg)
	}

	var payload updateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("overwrite %s: decode response: %w", path, err)
	}
	return payload.Content.SHA, nil
}

func (s *GitHubStore) contentsURL(path string) string {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		s.cfg.APIBaseURL, s.cfg.Owner, s.cfg.Repo, url.PathEscape(path))
	if s.cfg.Branch != "" {
		u += "?ref=" + url.QueryEscape(s.cfg.Branch)
	}
	return u
}

func (s *GitHubStore) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
}

func stripNewlines(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		buf = append(buf, s[i])
	}
	return string(buf)
}
