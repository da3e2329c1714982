package tokenmanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
	apperrors "github.com/antigravity-gateway/gateway/pkg/errors"
)

type fakeStore struct {
	mu    sync.Mutex
	saves int
}

func (s *fakeStore) Save(pool *entity.ProjectPool, oauth *entity.OAuthConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func testLogger() *zap.Logger { return zap.NewNop() }

func TestPickNext_EmptyPool(t *testing.T) {
	pool := &entity.ProjectPool{}
	m := New(pool, &entity.OAuthConfig{}, 1, &fakeStore{}, http.DefaultClient, testLogger())
	if _, err := m.PickNext(context.Background()); !apperrors.IsNoProjects(err) {
		t.Fatalf("expected NoProjects error, got %v", err)
	}
}

func TestPickNext_AllDisabled(t *testing.T) {
	pool := &entity.ProjectPool{Projects: []*entity.Project{
		{ProjectID: "p1", Enabled: false},
	}}
	m := New(pool, &entity.OAuthConfig{}, 1, &fakeStore{}, http.DefaultClient, testLogger())
	if _, err := m.PickNext(context.Background()); !apperrors.IsAllDisabled(err) {
		t.Fatalf("expected AllDisabled error, got %v", err)
	}
}

func TestPickNext_RotatesAfterQuota(t *testing.T) {
	pool := &entity.ProjectPool{Projects: []*entity.Project{
		{ProjectID: "p1", Enabled: true},
		{ProjectID: "p2", Enabled: true},
	}}
	m := New(pool, &entity.OAuthConfig{}, 2, &fakeStore{}, http.DefaultClient, testLogger())

	seen := []string{}
	for i := 0; i < 4; i++ {
		p, err := m.PickNext(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen = append(seen, p.ProjectID)
	}
	want := []string{"p1", "p1", "p2", "p2"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("pick %d = %s, want %s (full sequence %v)", i, seen[i], want[i], seen)
		}
	}
}

func TestPickNext_SkipsDisabledAndWraps(t *testing.T) {
	pool := &entity.ProjectPool{Projects: []*entity.Project{
		{ProjectID: "p1", Enabled: true},
		{ProjectID: "p2", Enabled: false},
		{ProjectID: "p3", Enabled: true},
	}}
	m := New(pool, &entity.OAuthConfig{}, 1, &fakeStore{}, http.DefaultClient, testLogger())

	first, _ := m.PickNext(context.Background())
	second, _ := m.PickNext(context.Background())
	third, _ := m.PickNext(context.Background())

	if first.ProjectID != "p1" || second.ProjectID != "p3" || third.ProjectID != "p1" {
		t.Fatalf("expected p1,p3,p1 skipping disabled p2; got %s,%s,%s", first.ProjectID, second.ProjectID, third.ProjectID)
	}
}

func TestGetAccessToken_UsesCachedWhenFresh(t *testing.T) {
	p := &entity.Project{ProjectID: "p1", AccessToken: "cached", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	pool := &entity.ProjectPool{Projects: []*entity.Project{p}}
	m := New(pool, &entity.OAuthConfig{}, 1, &fakeStore{}, http.DefaultClient, testLogger())

	token, err := m.GetAccessToken(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "cached" {
		t.Fatalf("expected cached token, got %s", token)
	}
}

func TestGetAccessToken_RefreshesWhenExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if r.FormValue("grant_type") != "refresh_token" {
			t.Fatalf("expected grant_type=refresh_token, got %s", r.FormValue("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh-token", "expires_in": 3599})
	}))
	defer server.Close()

	p := &entity.Project{ProjectID: "p1", RefreshToken: "rt1"}
	pool := &entity.ProjectPool{Projects: []*entity.Project{p}}
	store := &fakeStore{}
	m := New(pool, &entity.OAuthConfig{ClientID: "cid", ClientSecret: "secret", TokenURL: server.URL}, 1, store, server.Client(), testLogger())

	token, err := m.GetAccessToken(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "fresh-token" {
		t.Fatalf("expected fresh-token, got %s", token)
	}
	if p.ExpiresAt == 0 {
		t.Fatalf("expected expiresAt to be set")
	}
	if store.saves != 1 {
		t.Fatalf("expected one persisted save, got %d", store.saves)
	}
}

func TestGetAccessToken_RefreshFailureReturnsAppError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	p := &entity.Project{ProjectID: "p1", RefreshToken: "rt1"}
	pool := &entity.ProjectPool{Projects: []*entity.Project{p}}
	m := New(pool, &entity.OAuthConfig{TokenURL: server.URL}, 1, &fakeStore{}, server.Client(), testLogger())

	_, err := m.GetAccessToken(context.Background(), p)
	if err == nil {
		t.Fatal("expected error on non-200 refresh response")
	}
	if !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("expected error to include response body, got: %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected error to include status code, got: %v", err)
	}
}

func TestReloadPool_PreservesCursorByProjectID(t *testing.T) {
	pool := &entity.ProjectPool{Projects: []*entity.Project{
		{ProjectID: "p1", Enabled: true},
		{ProjectID: "p2", Enabled: true},
	}}
	m := New(pool, &entity.OAuthConfig{}, 1, &fakeStore{}, http.DefaultClient, testLogger())

	// Serve p1, then advance the cursor onto p2.
	for i := 0; i < 2; i++ {
		if _, err := m.PickNext(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	newPool := &entity.ProjectPool{Projects: []*entity.Project{
		{ProjectID: "p2", Enabled: true},
		{ProjectID: "p3", Enabled: true},
	}}
	m.ReloadPool(newPool, &entity.OAuthConfig{ClientID: "new"})

	next, err := m.PickNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ProjectID != "p3" {
		t.Fatalf("expected cursor to resume past p2, got %s", next.ProjectID)
	}
}

func TestReloadPool_FallsBackWhenCurrentProjectGone(t *testing.T) {
	pool := &entity.ProjectPool{Projects: []*entity.Project{
		{ProjectID: "p1", Enabled: true},
	}}
	m := New(pool, &entity.OAuthConfig{}, 1, &fakeStore{}, http.DefaultClient, testLogger())

	newPool := &entity.ProjectPool{Projects: []*entity.Project{
		{ProjectID: "p9", Enabled: true},
	}}
	m.ReloadPool(newPool, &entity.OAuthConfig{})

	next, err := m.PickNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ProjectID != "p9" {
		t.Fatalf("expected p9, got %s", next.ProjectID)
	}
}

func TestDisable_MarksProjectPermanently(t *testing.T) {
	p := &entity.Project{ProjectID: "p1", Enabled: true}
	pool := &entity.ProjectPool{Projects: []*entity.Project{p}}
	store := &fakeStore{}
	m := New(pool, &entity.OAuthConfig{}, 1, store, http.DefaultClient, testLogger())

	m.Disable(context.Background(), p, "401 after retry")

	if p.Enabled {
		t.Fatal("expected project to be disabled")
	}
	if p.DisabledReason != "401 after retry" {
		t.Fatalf("unexpected disabled reason: %s", p.DisabledReason)
	}
	if store.saves != 1 {
		t.Fatalf("expected persisted save, got %d", store.saves)
	}
}
