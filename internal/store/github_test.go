package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/config"
)

func newGitHubFixture(t *testing.T, handler http.HandlerFunc) *GitHubStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewGitHubStore(config.GitHubConfig{
		APIBaseURL: server.URL,
		Token:      "test-token",
		Owner:      "acme",
		Repo:       "records",
		Branch:     "main",
	}, zap.NewNop())
}

func TestGitHubStoreFetch(t *testing.T) {
	s := newGitHubFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/repos/acme/records/contents/students.csv", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "main", r.URL.Query().Get("ref"))

		// the API wraps base64 content with newlines
		encoded := base64.StdEncoding.EncodeToString([]byte("roll-no,name,email\n"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":  encoded[:10] + "\n" + encoded[10:],
			"encoding": "base64",
			"sha":      "abc123",
		})
	})

	doc, err := s.Fetch(context.Background(), "students.csv")
	require.NoError(t, err)
	assert.Equal(t, "roll-no,name,email\n", doc.Content)
	assert.Equal(t, "abc123", doc.Version)
}

func TestGitHubStoreFetchNotFound(t *testing.T) {
	s := newGitHubFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := s.Fetch(context.Background(), "students.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGitHubStoreOverwrite(t *testing.T) {
	s := newGitHubFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			SHA     string `json:"sha"`
			Branch  string `json:"branch"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc123", body.SHA)
		assert.Equal(t, "main", body.Branch)

		raw, err := base64.StdEncoding.DecodeString(body.Content)
		require.NoError(t, err)
		assert.Equal(t, "id,roll-no,guilds\n", string(raw))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]any{"sha": "def456"},
		})
	})

	version, err := s.Overwrite(context.Background(), "members.csv", "id,roll-no,guilds\n", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "def456", version)
}

func TestGitHubStoreOverwriteConflict(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusUnprocessableEntity} {
		s := newGitHubFixture(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := s.Overwrite(context.Background(), "members.csv", "content", "stale")
		assert.ErrorIs(t, err, ErrConflict)
	}
}
