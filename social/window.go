package social

import "context"

// Message is what the callback page posts back to the app once the
// provider redirected to it.
type Message struct {
	Origin      string `json:"-"`
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
	IDToken     string `json:"id_token,omitempty"`
	State       string `json:"state"`
	Error       string `json:"error,omitempty"`
}

// Window is an external authorization agent showing the provider's page.
// Messages delivers every message posted to the app while the window is
// open; Close detaches the listener and closes the window.
type Window interface {
	Messages() <-chan Message
	Closed() bool
	Close() error
}

// Opener opens a Window on authURL. Failing to open means the window was
// blocked.
type Opener interface {
	Open(ctx context.Context, authURL string) (Window, error)
}
