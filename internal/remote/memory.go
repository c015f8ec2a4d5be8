package remote

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and local experiments. Its
// PutExternal method plays the part of another device writing to the shared
// backup.
type Memory struct {
	mu            sync.Mutex
	authenticated bool
	content       string
	hasContent    bool
	modified      time.Time

	// Error injection for failure-path tests. When set, the corresponding
	// operation fails with this error.
	UploadErr   error
	DownloadErr error
	MetadataErr error

	now func() time.Time

	uploads int
}

// NewMemory creates an authenticated, empty in-memory store.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an in-memory store reading time from now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{authenticated: true, now: now}
}

func (m *Memory) Initialize(ctx context.Context, credential string) error {
	return nil
}

func (m *Memory) IsAuthenticated(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated, nil
}

func (m *Memory) Authenticate(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = true
	return true, nil
}

func (m *Memory) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = false
	return nil
}

func (m *Memory) Download(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DownloadErr != nil {
		return "", false, m.DownloadErr
	}
	if !m.authenticated {
		return "", false, ErrNotAuthenticated
	}
	return m.content, m.hasContent, nil
}

func (m *Memory) Upload(ctx context.Context, content string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UploadErr != nil {
		return nil, m.UploadErr
	}
	if !m.authenticated {
		return nil, ErrNotAuthenticated
	}
	m.content = content
	m.hasContent = true
	m.modified = m.now()
	m.uploads++
	mod := m.modified
	return &mod, nil
}

func (m *Memory) LastModified(ctx context.Context) (*time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MetadataErr != nil {
		return nil, false, m.MetadataErr
	}
	if !m.hasContent {
		return nil, false, nil
	}
	mod := m.modified
	return &mod, true, nil
}

// PutExternal overwrites the blob as another device would, without touching
// the local session.
func (m *Memory) PutExternal(content string, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
	m.hasContent = true
	m.modified = modified
}

// ExpireSession invalidates the session, simulating a token that expired
// while the app was closed.
func (m *Memory) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = false
}

// Uploads returns how many uploads have been accepted.
func (m *Memory) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Content returns the current blob content.
func (m *Memory) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content
}
