package membership

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMembershipService serves GET /members/{id} from a fixed table.
func fakeMembershipService(t *testing.T, members map[uuid.UUID]Status) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	r := chi.NewRouter()
	r.Get("/members/{id}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status, ok := members[id]
		if !ok {
			http.Error(w, "member not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Member{ID: id, Status: status})
	})
	r.Get("/broken/members/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClient_IsEligible(t *testing.T) {
	active, suspended := uuid.New(), uuid.New()
	srv, _ := fakeMembershipService(t, map[uuid.UUID]Status{
		active:    StatusActive,
		suspended: StatusSuspended,
	})
	c := NewClient(srv.URL+"/", 100)
	ctx := context.Background()

	ok, err := c.IsEligible(ctx, active)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsEligible(ctx, suspended)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_NotFound(t *testing.T) {
	srv, _ := fakeMembershipService(t, nil)
	c := NewClient(srv.URL, 100)

	_, err := c.IsEligible(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestClient_ServerError(t *testing.T) {
	srv, _ := fakeMembershipService(t, nil)
	c := NewClient(srv.URL+"/broken", 100)

	_, err := c.IsEligible(context.Background(), uuid.New())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMemberNotFound)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_RespectsContextWhileThrottled(t *testing.T) {
	srv, _ := fakeMembershipService(t, nil)
	c := NewClient(srv.URL, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetMember(ctx, uuid.New())
	assert.ErrorIs(t, err, context.Canceled)
}
