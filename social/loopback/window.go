package loopback

import (
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/go-auth-client/social"
	"github.com/pkg/errors"
)

const messageBuffer = 4

var ErrWindowClosed = errors.New("window already closed")

// window is the server side view of a browser tab opened on an authorize
// URL. The browser cannot be closed from here; Close only detaches it.
// Messages are accepted until then, even after the tab reported closing.
type window struct {
	provider   string
	messages   chan social.Message
	userClosed atomic.Bool
	detached   atomic.Bool
	once       sync.Once
	detach     func(*window)
}

var _ social.Window = (*window)(nil)

func newWindow(provider string, detach func(*window)) *window {
	return &window{
		provider: provider,
		messages: make(chan social.Message, messageBuffer),
		detach:   detach,
	}
}

func (w *window) Messages() <-chan social.Message {
	return w.messages
}

// Closed reports whether the tab signalled that it went away.
func (w *window) Closed() bool {
	return w.userClosed.Load()
}

// Close detaches the window. It reports ErrWindowClosed when the user had
// already closed the tab.
func (w *window) Close() error {
	alreadyDetached := w.detached.Swap(true)
	w.once.Do(func() {
		w.detach(w)
	})
	if alreadyDetached || w.userClosed.Load() {
		return ErrWindowClosed
	}
	return nil
}

func (w *window) markClosed() {
	w.userClosed.Store(true)
}

// deliver never blocks; a full buffer or a detached window drops msg.
func (w *window) deliver(msg social.Message) bool {
	if w.detached.Load() {
		return false
	}
	select {
	case w.messages <- msg:
		return true
	default:
		return false
	}
}

func (w *window) accepts(provider string) bool {
	return w.provider == "" || w.provider == provider
}
