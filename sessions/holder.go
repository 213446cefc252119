package sessions

import "sync/atomic"

// Holder is the process-wide slot for the current session.
type Holder struct {
	current atomic.Pointer[Session]
}

func NewHolder() *Holder {
	return &Holder{}
}

func (h *Holder) Load() *Session {
	return h.current.Load()
}

func (h *Holder) Store(s *Session) {
	h.current.Store(s)
}

func (h *Holder) Clear() {
	h.current.Store(nil)
}
