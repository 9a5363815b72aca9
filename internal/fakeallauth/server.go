// Package fakeallauth is an httptest backend speaking the allauth envelope,
// used by tests across the module.
package fakeallauth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jrsteele09/go-auth-client/allauth"
)

// Reply is a canned response. Body is JSON encoded unless it is a string,
// which is written as is.
type Reply struct {
	Status int
	Body   any
}

// Request records what the server received.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

type Server struct {
	*httptest.Server

	mu         sync.Mutex
	handlers   map[string]func(*http.Request) Reply
	requests   map[string][]Request
	csrfCookie string
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers: make(map[string]func(*http.Request) Reply),
		requests: make(map[string][]Request),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func routeKey(method, path string) string {
	return method + " " + allauth.APIPrefix + path
}

// On registers a fixed reply for method and path (path is relative to the API prefix).
func (s *Server) On(method, path string, reply Reply) {
	s.OnFunc(method, path, func(*http.Request) Reply { return reply })
}

func (s *Server) OnFunc(method, path string, fn func(*http.Request) Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[routeKey(method, path)] = fn
}

// SetCSRFCookie makes every response set the csrftoken cookie.
func (s *Server) SetCSRFCookie(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrfCookie = value
}

// Calls returns how many times method and path were hit.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests[routeKey(method, path)])
}

// LastRequest returns the latest recorded request for method and path.
func (s *Server) LastRequest(method, path string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recorded := s.requests[routeKey(method, path)]
	if len(recorded) == 0 {
		return Request{}, false
	}
	return recorded[len(recorded)-1], true
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	recorded := Request{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
	if raw, err := io.ReadAll(r.Body); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &recorded.Body)
	}

	s.mu.Lock()
	s.requests[key] = append(s.requests[key], recorded)
	handler, ok := s.handlers[key]
	csrf := s.csrfCookie
	s.mu.Unlock()

	if csrf != "" {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: csrf, Path: "/"})
	}

	reply := Reply{Status: http.StatusNotFound, Body: map[string]any{
		"status": http.StatusNotFound,
		"errors": []map[string]any{{"code": "not_found", "message": "Not found."}},
	}}
	if ok {
		reply = handler(r)
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}

	if body, isString := reply.Body.(string); isString {
		w.WriteHeader(reply.Status)
		_, _ = io.WriteString(w, body)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	if reply.Body != nil {
		_ = json.NewEncoder(w).Encode(reply.Body)
	}
}

// Authenticated builds a 200 envelope for an authenticated session.
func Authenticated(user map[string]any, accessToken, refreshToken string) map[string]any {
	meta := map[string]any{"is_authenticated": true, "access_token": accessToken}
	if refreshToken != "" {
		meta["refresh_token"] = refreshToken
	}
	return map[string]any{
		"status": http.StatusOK,
		"data":   map[string]any{"user": user},
		"meta":   meta,
	}
}

// Failure builds an error envelope with one error entry at the top level.
func Failure(status int, code, message string) map[string]any {
	return map[string]any{
		"status": status,
		"errors": []map[string]any{{"code": code, "message": message}},
	}
}
