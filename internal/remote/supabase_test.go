package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedTestToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "user",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

func TestTokenUsable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		if tokenUsable("", now) {
			t.Error("empty token should not be usable")
		}
	})
	t.Run("garbage", func(t *testing.T) {
		if tokenUsable("not-a-jwt", now) {
			t.Error("malformed token should not be usable")
		}
	})
	t.Run("valid", func(t *testing.T) {
		token := signedTestToken(t, now.Add(time.Hour))
		if !tokenUsable(token, now) {
			t.Error("unexpired token should be usable")
		}
	})
	t.Run("expired", func(t *testing.T) {
		token := signedTestToken(t, now.Add(-time.Hour))
		if tokenUsable(token, now) {
			t.Error("expired token should not be usable")
		}
	})
}

// fakeSupabase is a minimal storage endpoint: one object, upsert on POST,
// Last-Modified metadata on HEAD.
type fakeSupabase struct {
	mu       sync.Mutex
	content  []byte
	exists   bool
	modified time.Time
}

func (f *fakeSupabase) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			f.content = body
			f.exists = true
			f.modified = time.Now().UTC().Truncate(time.Second)
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Last-Modified", f.modified.Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(f.content)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func newTestProvider(t *testing.T) (*Supabase, *fakeSupabase) {
	t.Helper()

	fake := &fakeSupabase{}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	provider := NewSupabase(SupabaseConfig{
		URL:        server.URL,
		APIKey:     "anon-key",
		HTTPClient: server.Client(),
	})
	token := signedTestToken(t, time.Now().Add(time.Hour))
	if err := provider.Initialize(context.Background(), token); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return provider, fake
}

func TestSupabaseDownloadAbsent(t *testing.T) {
	provider, _ := newTestProvider(t)

	_, ok, err := provider.Download(context.Background())
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if ok {
		t.Error("expected no backup before first upload")
	}
}

func TestSupabaseUploadDownload(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	modified, err := provider.Upload(ctx, `{"meters":[]}`)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if modified == nil {
		t.Error("expected a modified timestamp from upload")
	}

	content, ok, err := provider.Download(ctx)
	if err != nil || !ok {
		t.Fatalf("Download = (%v, %v)", ok, err)
	}
	if content != `{"meters":[]}` {
		t.Errorf("Download content = %q", content)
	}

	meta, ok, err := provider.LastModified(ctx)
	if err != nil || !ok || meta == nil {
		t.Fatalf("LastModified = (%v, %v, %v)", meta, ok, err)
	}
}

func TestSupabaseRequiresSession(t *testing.T) {
	fake := &fakeSupabase{}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	provider := NewSupabase(SupabaseConfig{URL: server.URL, HTTPClient: server.Client()})

	if _, err := provider.Upload(context.Background(), "data"); err != ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}

	ok, err := provider.IsAuthenticated(context.Background())
	if err != nil || ok {
		t.Errorf("IsAuthenticated = (%v, %v), want (false, nil)", ok, err)
	}
}
