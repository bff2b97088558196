package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clusterplane/internal/auth"
	"clusterplane/internal/controller/handlers"
	"clusterplane/internal/entitlement"
	"clusterplane/internal/store"

	"github.com/google/uuid"
)

// stubStore embeds the factory interface and overrides only what the
// routing tests reach. Anything else panics, which is what we want.
type stubStore struct {
	handlers.StoreFactory
	keyHash string
	user    *store.User
}

func (s *stubStore) Ping(ctx context.Context) error { return nil }

func (s *stubStore) GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error) {
	if s.user != nil && hash == s.keyHash {
		return s.user, nil
	}
	return nil, store.ErrNotFound
}

type stubManager struct{}

func (stubManager) Provision(ctx context.Context, req entitlement.ProvisionRequest) (uuid.UUID, error) {
	return uuid.Nil, entitlement.ErrDefinitionNotFound
}

func (stubManager) Grant(ctx context.Context, instanceID, userID uuid.UUID, role store.Role, startAt, endAt time.Time) error {
	return nil
}

func (stubManager) CheckAccess(ctx context.Context, instanceID, userID uuid.UUID, required store.Role) (bool, error) {
	return false, nil
}

func (stubManager) Suspend(ctx context.Context, instanceID uuid.UUID) error   { return nil }
func (stubManager) Resume(ctx context.Context, instanceID uuid.UUID) error    { return nil }
func (stubManager) Terminate(ctx context.Context, instanceID uuid.UUID) error { return nil }

func newTestServer(opts Options) (*httptest.Server, string) {
	key := "cpk_test"
	fs := &stubStore{
		keyHash: auth.HashKey(key),
		user:    &store.User{ID: uuid.New(), Active: true},
	}
	if opts.Manager == nil {
		opts.Manager = stubManager{}
	}
	srv := New(":0", fs, opts)
	return httptest.NewServer(srv.httpServer.Handler), key
}

func TestServer_HealthzIsPublic(t *testing.T) {
	ts, _ := newTestServer(Options{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestServer_ProtectedRouteRequiresKey(t *testing.T) {
	ts, _ := newTestServer(Options{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/instances", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_BadKeyRejected(t *testing.T) {
	ts, _ := newTestServer(Options{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/instances/"+uuid.NewString(), nil)
	req.Header.Set("X-API-Key", "cpk_wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_RateLimitKicksIn(t *testing.T) {
	ts, key := newTestServer(Options{RateLimit: 0.01, RateLimitBurst: 1})
	defer ts.Close()

	get := func() int {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/instances/"+uuid.NewString(), nil)
		req.Header.Set("X-API-Key", key)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get(); code == http.StatusTooManyRequests {
		t.Fatalf("first request throttled")
	}
	if code := get(); code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", code)
	}
}
