package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default object location inside the project's storage bucket.
const (
	DefaultBucket = "budgetr"
	DefaultObject = "backup.json"
)

// SupabaseConfig configures the Supabase storage provider.
type SupabaseConfig struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co
	URL string

	// APIKey is the project's anon API key, sent with every request.
	APIKey string

	// Email and Password drive the password-grant sign-in flow.
	Email    string
	Password string

	// Bucket and Object locate the backup blob (defaults above).
	Bucket string
	Object string

	// HTTPClient overrides the default client (10s timeout).
	HTTPClient *http.Client
}

// Supabase stores the backup as a single object in a Supabase storage bucket.
//
// Sessions are bearer JWTs; IsAuthenticated inspects the stored token's
// expiry claim locally so the engine's frequent session checks cost no
// network round-trips.
type Supabase struct {
	config SupabaseConfig
	client *http.Client

	mu          sync.Mutex
	accessToken string
}

// NewSupabase creates a provider for the given project.
func NewSupabase(config SupabaseConfig) *Supabase {
	if config.Bucket == "" {
		config.Bucket = DefaultBucket
	}
	if config.Object == "" {
		config.Object = DefaultObject
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Supabase{config: config, client: client}
}

// Initialize adopts a previously stored access token without hitting the
// network. An expired token is kept; IsAuthenticated will report false.
func (s *Supabase) Initialize(ctx context.Context, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = credential
	return nil
}

// AccessToken returns the held access token, empty when signed out. Callers
// persist it and feed it back through Initialize on the next run.
func (s *Supabase) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// IsAuthenticated reports whether a non-expired access token is held.
func (s *Supabase) IsAuthenticated(ctx context.Context) (bool, error) {
	s.mu.Lock()
	token := s.accessToken
	s.mu.Unlock()
	return tokenUsable(token, time.Now()), nil
}

// Authenticate signs in with the configured email/password and stores the
// resulting access token.
func (s *Supabase) Authenticate(ctx context.Context) (bool, error) {
	if s.config.Email == "" || s.config.Password == "" {
		// No credentials configured; report the current session state.
		return s.IsAuthenticated(ctx)
	}

	body, err := json.Marshal(map[string]string{
		"email":    s.config.Email,
		"password": s.config.Password,
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode sign-in request: %w", err)
	}

	endpoint := strings.TrimRight(s.config.URL, "/") + "/auth/v1/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build sign-in request: %w", err)
	}
	req.Header.Set("apikey", s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("sign-in request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var session struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return false, fmt.Errorf("failed to decode sign-in response: %w", err)
	}
	if session.AccessToken == "" {
		return false, nil
	}

	s.mu.Lock()
	s.accessToken = session.AccessToken
	s.mu.Unlock()
	return true, nil
}

// SignOut discards the session token.
func (s *Supabase) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	return nil
}

// Download implements Store.Download.
func (s *Supabase) Download(ctx context.Context) (string, bool, error) {
	resp, err := s.objectRequest(ctx, http.MethodGet)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		content, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", false, fmt.Errorf("failed to read backup content: %w", err)
		}
		return string(content), true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("backup download returned status %d", resp.StatusCode)
	}
}

// Upload implements Store.Upload. The object is created or replaced, and the
// provider's new modification time is fetched from object metadata.
func (s *Supabase) Upload(ctx context.Context, content string) (*time.Time, error) {
	token, err := s.requireToken()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(), strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	s.setAuthHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backup upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backup upload returned status %d", resp.StatusCode)
	}

	modified, ok, err := s.LastModified(ctx)
	if err != nil || !ok {
		// The upload itself succeeded; the caller falls back to its clock.
		return nil, nil
	}
	return modified, nil
}

// LastModified implements Store.LastModified using a metadata-only request.
func (s *Supabase) LastModified(ctx context.Context) (*time.Time, bool, error) {
	resp, err := s.objectRequest(ctx, http.MethodHead)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		modified, err := http.ParseTime(resp.Header.Get("Last-Modified"))
		if err != nil {
			return nil, false, fmt.Errorf("failed to parse Last-Modified header: %w", err)
		}
		return &modified, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("backup metadata request returned status %d", resp.StatusCode)
	}
}

func (s *Supabase) objectRequest(ctx context.Context, method string) (*http.Response, error) {
	token, err := s.requireToken()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, s.objectURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	s.setAuthHeaders(req, token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	return resp, nil
}

func (s *Supabase) objectURL() string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s",
		strings.TrimRight(s.config.URL, "/"),
		url.PathEscape(s.config.Bucket),
		url.PathEscape(s.config.Object))
}

func (s *Supabase) requireToken() (string, error) {
	s.mu.Lock()
	token := s.accessToken
	s.mu.Unlock()
	if !tokenUsable(token, time.Now()) {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

func (s *Supabase) setAuthHeaders(req *http.Request, token string) {
	req.Header.Set("apikey", s.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
}

// tokenUsable reports whether the JWT is present and not expired at now.
// The signature is not verified; the server does that. A token without an
// expiry claim is treated as usable.
func tokenUsable(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.After(now)
}
