package streaming

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
)

type fakeTokenManager struct {
	accessToken     string
	handleAuthCalls int32
	disableCalls    int32
	disableReason   string
}

func (f *fakeTokenManager) PickNext(ctx context.Context) (*entity.Project, error) { return nil, nil }

func (f *fakeTokenManager) GetAccessToken(ctx context.Context, p *entity.Project) (string, error) {
	return f.accessToken, nil
}

func (f *fakeTokenManager) HandleAuthError(ctx context.Context, p *entity.Project) (string, error) {
	atomic.AddInt32(&f.handleAuthCalls, 1)
	f.accessToken = "refreshed-token"
	return f.accessToken, nil
}

func (f *fakeTokenManager) Disable(ctx context.Context, p *entity.Project, reason string) {
	atomic.AddInt32(&f.disableCalls, 1)
	f.disableReason = reason
}

func testProject() *entity.Project {
	return &entity.Project{ProjectID: "proj-1", Enabled: true}
}

func TestSend_SucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer good-token" {
			t.Errorf("unexpected auth header: %q", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tokens := &fakeTokenManager{accessToken: "good-token"}
	proxy := New(srv.URL, tokens, zap.NewNop())

	body, status, err := proxy.Send(context.Background(), testProject(), map[string]string{"a": "b"}, "/v1internal:generateContent", DefaultTimeout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if tokens.handleAuthCalls != 0 {
		t.Fatalf("should not have retried on a clean 200")
	}
}

func TestSend_RetriesOnceOnAuthFailureThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer refreshed-token" {
			t.Errorf("expected refreshed token on retry, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tokens := &fakeTokenManager{accessToken: "stale-token"}
	proxy := New(srv.URL, tokens, zap.NewNop())

	body, status, err := proxy.Send(context.Background(), testProject(), map[string]string{}, "/v1internal:generateContent", DefaultTimeout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", status)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if tokens.handleAuthCalls != 1 {
		t.Fatalf("expected exactly 1 auth retry, got %d", tokens.handleAuthCalls)
	}
	if tokens.disableCalls != 0 {
		t.Fatalf("should not disable after a successful retry")
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 upstream calls, got %d", calls)
	}
}

func TestSend_DisablesProjectWhenRetryStillFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tokens := &fakeTokenManager{accessToken: "stale-token"}
	proxy := New(srv.URL, tokens, zap.NewNop())

	_, _, err := proxy.Send(context.Background(), testProject(), map[string]string{}, "/v1internal:generateContent", DefaultTimeout)
	if err == nil {
		t.Fatal("expected an error after both attempts fail auth")
	}
	if tokens.handleAuthCalls != 1 {
		t.Fatalf("expected exactly 1 retry attempt, got %d", tokens.handleAuthCalls)
	}
	if tokens.disableCalls != 1 {
		t.Fatalf("expected the project to be disabled, got %d calls", tokens.disableCalls)
	}
}

func TestSend_SurfacesNon200StatusAfterNoAuthRetryNeeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	tokens := &fakeTokenManager{accessToken: "good-token"}
	proxy := New(srv.URL, tokens, zap.NewNop())

	body, status, err := proxy.Send(context.Background(), testProject(), map[string]string{}, "/v1internal:generateContent", DefaultTimeout)
	if err == nil {
		t.Fatal("expected an error for a non-200 upstream status")
	}
	if status != http.StatusInternalServerError {
		t.Fatalf("expected status surfaced as 500, got %d", status)
	}
	if string(body) != `{"error":"boom"}` {
		t.Fatalf("expected upstream body surfaced, got %s", body)
	}
}

func TestStream_ReturnsReadableBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: {\"x\":1}\n\n"))
	}))
	defer srv.Close()

	tokens := &fakeTokenManager{accessToken: "good-token"}
	proxy := New(srv.URL, tokens, zap.NewNop())

	rc, err := proxy.Stream(context.Background(), testProject(), map[string]string{}, "/v1internal:streamGenerateContent?alt=sse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(out) != "data: {\"x\":1}\n\n" {
		t.Fatalf("unexpected stream body: %s", out)
	}
}

func TestDoImageHeartbeat_PumpsHeartbeatsUntilTaskCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"done":true}`))
	}))
	defer srv.Close()

	tokens := &fakeTokenManager{accessToken: "good-token"}
	proxy := New(srv.URL, tokens, zap.NewNop())

	var heartbeats int32
	body, status, err := proxy.DoImageHeartbeat(context.Background(), testProject(), map[string]string{}, "/v1internal:generateContent", 15*time.Millisecond, func() error {
		atomic.AddInt32(&heartbeats, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if string(body) != `{"done":true}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if heartbeats == 0 {
		t.Fatalf("expected at least one heartbeat to be pumped while the task ran")
	}
}

func TestDoImageHeartbeat_CancellationStopsTask(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	tokens := &fakeTokenManager{accessToken: "good-token"}
	proxy := New(srv.URL, tokens, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := proxy.DoImageHeartbeat(ctx, testProject(), map[string]string{}, "/v1internal:generateContent", 10*time.Millisecond, func() error {
		return nil
	})
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
}
