package playback

import (
	"sync"
)

// Repository is the concurrency-safe registry of sessions.
type Repository interface {
	// Add registers a session. Registering the same id twice fails with
	// ErrDuplicateSession.
	Add(s *Session) error

	// Get returns the session with id.
	Get(id SessionID) (*Session, bool)

	// Remove unregisters and returns the session with id.
	Remove(id SessionID) (*Session, bool)

	// List returns every registered session.
	List() []*Session

	// ActiveForElement returns the live session bound to elementID, if any.
	ActiveForElement(elementID string) (*Session, bool)

	// ActiveSessionCount returns the number of sessions not yet torn down.
	// Used for metrics.
	ActiveSessionCount() int
}

// InMemoryRepository is a concurrency-safe Repository over a Store.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Add implements Repository.Add.
func (r *InMemoryRepository) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetSession(s.ID); exists {
		return ErrDuplicateSession
	}
	r.store.SetSession(s)
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetSession(id)
}

// Remove implements Repository.Remove.
func (r *InMemoryRepository) Remove(id SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return nil, false
	}
	r.store.DeleteSession(id)
	return s, true
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListSessionIDs()
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.store.GetSession(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// ActiveForElement implements Repository.ActiveForElement.
func (r *InMemoryRepository) ActiveForElement(elementID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.store.ListSessionIDs() {
		if s, ok := r.store.GetSession(id); ok && s.Request.ElementID == elementID && s.Active() {
			return s, true
		}
	}
	return nil, false
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if s, ok := r.store.GetSession(id); ok && s.Active() {
			n++
		}
	}
	return n
}
