package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/chat-service/internal/types"
)

func newDirectoryServer(t *testing.T, hits *atomic.Int32, participants map[string][]types.Participant) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/appointments/{conversationId}/participants", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		p, ok := participants[r.PathValue("conversationId")]
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPDirectory_Participants(t *testing.T) {
	var hits atomic.Int32
	srv := newDirectoryServer(t, &hits, map[string][]types.Participant{
		"appt-1": {
			{SubjectId: "pat-1", DisplayName: "Pat", Role: types.RolePatient},
			{SubjectId: "doc-1", DisplayName: "Dr. Grey", Role: types.RoleDoctor},
		},
	})

	dir := NewHTTPDirectory(srv.URL)

	participants, err := dir.Participants(context.Background(), "appt-1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "pat-1", participants[0].SubjectId)
	assert.Equal(t, types.RoleDoctor, participants[1].Role)
}

func TestHTTPDirectory_cachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	srv := newDirectoryServer(t, &hits, map[string][]types.Participant{
		"appt-1": {{SubjectId: "pat-1"}},
	})

	dir := NewHTTPDirectory(srv.URL)

	_, err := dir.Participants(context.Background(), "appt-1")
	require.NoError(t, err)
	_, err = dir.Participants(context.Background(), "appt-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load(), "expected second lookup served from cache")
}

func TestHTTPDirectory_invalidateForcesRefetch(t *testing.T) {
	var hits atomic.Int32
	srv := newDirectoryServer(t, &hits, map[string][]types.Participant{
		"appt-1": {{SubjectId: "pat-1"}},
	})

	dir := NewHTTPDirectory(srv.URL)

	_, err := dir.Participants(context.Background(), "appt-1")
	require.NoError(t, err)

	dir.Invalidate("appt-1")

	_, err = dir.Participants(context.Background(), "appt-1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load(), "expected invalidation to bypass the cache")
}

func TestHTTPDirectory_notFound(t *testing.T) {
	var hits atomic.Int32
	srv := newDirectoryServer(t, &hits, nil)

	dir := NewHTTPDirectory(srv.URL)

	_, err := dir.Participants(context.Background(), "appt-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPDirectory_upstreamErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		dir := NewHTTPDirectory(srv.URL)
		_, err := dir.Participants(context.Background(), "appt-1")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("unreachable host", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		dir := NewHTTPDirectory(srv.URL)
		_, err := dir.Participants(context.Background(), "appt-1")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}))
		t.Cleanup(srv.Close)

		dir := NewHTTPDirectory(srv.URL)
		_, err := dir.Participants(context.Background(), "appt-1")
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestHTTPDirectory_errorsAreNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := newDirectoryServer(t, &hits, nil)

	dir := NewHTTPDirectory(srv.URL)

	_, err := dir.Participants(context.Background(), "appt-1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = dir.Participants(context.Background(), "appt-1")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, int32(2), hits.Load(), "expected each failed lookup to hit the directory")
}
