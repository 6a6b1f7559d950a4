package session

import (
	"sync"

	"github.com/AlexanderGrooff/spindle/pkg/common"
)

// Registry tracks every session opened during one fan-out run so they can be
// closed together once the run is over. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions []Session
	disposed bool
	once     sync.Once
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers an open session. Sessions added after Dispose are closed
// immediately so they cannot leak. A nil session is ignored.
func (r *Registry) Add(s Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	if !r.disposed {
		r.sessions = append(r.sessions, s)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	closeQuietly(s)
}

// Len returns the number of sessions still waiting to be disposed.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Dispose closes every registered session. Close errors are logged and
// otherwise ignored. Only the first call has any effect.
func (r *Registry) Dispose() {
	r.once.Do(func() {
		r.mu.Lock()
		sessions := r.sessions
		r.sessions = nil
		r.disposed = true
		r.mu.Unlock()

		for _, s := range sessions {
			closeQuietly(s)
		}
		common.LogDebug("Disposed sessions", map[string]interface{}{
			"count": len(sessions),
		})
	})
}

func closeQuietly(s Session) {
	if err := s.Close(); err != nil {
		common.LogWarn("Failed to close session", map[string]interface{}{
			"host":  s.Host(),
			"error": err.Error(),
		})
	}
}
