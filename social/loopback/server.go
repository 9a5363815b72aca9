// Package loopback is an external authorization channel for non browser
// hosts: the system browser shows the provider's page and the provider
// redirects to a callback page served on a local address, which posts the
// tokens back to this process.
package loopback

import (
	"context"
	"encoding/json"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/go-auth-client/social"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxMessageBytes = 64 << 10

// Launcher shows url to the user, normally in the system browser.
type Launcher func(ctx context.Context, url string) error

// Server serves the callback pages and fans posted messages out to the
// open windows.
type Server struct {
	listener  net.Listener
	http      *http.Server
	origin    string
	providers map[string]social.Provider
	launcher  Launcher
	env       string
	logger    zerolog.Logger

	mu      sync.Mutex
	windows map[*window]struct{}
}

var _ social.Opener = (*Server)(nil)

// Option defines a function type to modify the Server instance.
type Option func(*Server)

func WithLauncher(l Launcher) Option {
	return func(s *Server) {
		s.launcher = l
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithEnv enables per request logging when env is DEV.
func WithEnv(env string) Option {
	return func(s *Server) {
		s.env = env
	}
}

// New listens on addr and prepares the routes for providers. Call Serve to
// start handling requests.
func New(addr string, providers []social.Provider, options ...Option) (*Server, error) {
	if len(providers) == 0 {
		return nil, errors.New("[loopback.New] at least one provider is required")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "[loopback.New] listen on %s", addr)
	}

	s := &Server{
		listener:  listener,
		origin:    "http://" + listener.Addr().String(),
		providers: make(map[string]social.Provider, len(providers)),
		launcher:  OpenBrowser,
		logger:    log.Logger.With().Str("component", "loopback").Logger(),
		windows:   make(map[*window]struct{}),
	}
	for _, p := range providers {
		s.providers[p.ID] = p
	}
	for _, opt := range options {
		opt(s)
	}

	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Origin is the app origin callback messages carry, e.g. http://127.0.0.1:5173.
func (s *Server) Origin() string {
	return s.origin
}

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "[loopback.Serve]")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Wrap(s.http.Shutdown(ctx), "[loopback.Shutdown]")
}

// Open registers a window for authURL and launches it. The provider is taken
// from the redirect_uri so messages reach only the matching window.
func (s *Server) Open(ctx context.Context, authURL string) (social.Window, error) {
	w := newWindow(providerFromAuthURL(authURL), s.detach)

	s.mu.Lock()
	s.windows[w] = struct{}{}
	s.mu.Unlock()

	if err := s.launcher(ctx, authURL); err != nil {
		_ = w.Close()
		return nil, errors.Wrap(err, "[loopback.Open] launch browser")
	}
	return w, nil
}

func (s *Server) detach(w *window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, w)
}

func (s *Server) openWindows(provider string) []*window {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*window, 0, len(s.windows))
	for w := range s.windows {
		if w.accepts(provider) {
			out = append(out, w)
		}
	}
	return out
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(frameSecurity)

	r.Route("/auth/{provider}", func(r chi.Router) {
		r.Use(s.knownProvider)
		r.Get("/callback", s.handleCallback)
		r.Post("/message", s.handleMessage)
		r.Post("/closed", s.handleClosed)
	})
	return r
}

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Name}} sign in</title></head>
<body>
<p id="status">Completing sign in...</p>
<script>
(function () {
  var params = new URLSearchParams(window.location.hash.slice(1) || window.location.search.slice(1));
  var payload = {
    type: {{.MessageType}},
    access_token: params.get("access_token") || undefined,
    id_token: params.get("id_token") || undefined,
    state: params.get("state") || "",
    error: params.get("error_description") || params.get("error") || undefined
  };
  history.replaceState(null, "", window.location.pathname);
  window.addEventListener("pagehide", function () { navigator.sendBeacon({{.ClosedPath}}); });
  fetch({{.MessagePath}}, {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify(payload)
  }).then(function () {
    document.getElementById("status").textContent = "You can close this window.";
    window.close();
  }).catch(function () {
    document.getElementById("status").textContent = "Sign in failed, return to the application.";
  });
})();
</script>
</body>
</html>
`))

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	p := s.providers[chi.URLParam(r, "provider")]
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	data := map[string]string{
		"Name":        p.Name,
		"MessageType": p.MessageType,
		"MessagePath": "/auth/" + p.ID + "/message",
		"ClosedPath":  "/auth/" + p.ID + "/closed",
	}
	if err := callbackPage.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("failed to render callback page")
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var msg social.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	msg.Origin = r.Header.Get("Origin")

	delivered := 0
	for _, win := range s.openWindows(provider) {
		if win.deliver(msg) {
			delivered++
		}
	}
	s.logger.Debug().Str("provider", provider).Int("windows", delivered).Msg("callback message received")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClosed(w http.ResponseWriter, r *http.Request) {
	for _, win := range s.openWindows(chi.URLParam(r, "provider")) {
		win.markClosed()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) knownProvider(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.providers[chi.URLParam(r, "provider")]; !ok {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.env == "DEV" {
			s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		}
		next.ServeHTTP(w, r)
	})
}

func frameSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// providerFromAuthURL extracts <id> from a redirect_uri ending in
// /auth/<id>/callback. Empty means the window takes messages for any provider.
func providerFromAuthURL(authURL string) string {
	u, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	redirect, err := url.Parse(u.Query().Get("redirect_uri"))
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(redirect.Path, "/"), "/")
	if len(parts) == 3 && parts[0] == "auth" && parts[2] == "callback" {
		return parts[1]
	}
	return ""
}

// OpenBrowser launches the platform's default browser on url.
func OpenBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	return errors.Wrap(cmd.Start(), "[loopback.OpenBrowser]")
}
