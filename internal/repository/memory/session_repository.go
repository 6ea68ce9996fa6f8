package memory

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps live sessions in process memory. Entries expire
// ttl after their last Save or Touch.
type SessionRepository[T any] struct {
	cache *cache.Cache
}

func NewSessionRepository[T any](ttl time.Duration) *SessionRepository[T] {
	if ttl <= 0 {
		ttl = time.Hour
	}
	cleanup := ttl / 6
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &SessionRepository[T]{
		cache: cache.New(ttl, cleanup),
	}
}

// OnEvicted registers fn for sessions that expire or are deleted.
func (r *SessionRepository[T]) OnEvicted(fn func(id string, session T)) {
	r.cache.OnEvicted(func(id string, v interface{}) {
		if session, ok := v.(T); ok {
			fn(id, session)
		}
	})
}

func (r *SessionRepository[T]) Save(id string, session T) {
	r.cache.Set(id, session, cache.DefaultExpiration)
}

func (r *SessionRepository[T]) Get(id string) (T, bool) {
	if x, found := r.cache.Get(id); found {
		return x.(T), true
	}
	var zero T
	return zero, false
}

// Touch pushes the expiry of a live session back to a full ttl.
func (r *SessionRepository[T]) Touch(id string) bool {
	x, found := r.cache.Get(id)
	if !found {
		return false
	}
	r.cache.Set(id, x, cache.DefaultExpiration)
	return true
}

func (r *SessionRepository[T]) Delete(id string) {
	r.cache.Delete(id)
}

func (r *SessionRepository[T]) Count() int {
	return r.cache.ItemCount()
}

// Flush evicts every session.
func (r *SessionRepository[T]) Flush() {
	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
}
