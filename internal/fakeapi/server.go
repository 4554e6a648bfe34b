// Package fakeapi provides a fake dashboard REST API for tests.
//
// It keeps every resource collection in memory, issues a bearer token on
// /login and rejects other requests without it, and accepts JSON or
// multipart bodies including POST with a _method override field.
//
// To flexibly inject failures, you can configure stub responses that match a
// method and path, along with failure configurations that specify how the
// request fails (delays, undecodable bodies, dropped connections).
package fakeapi

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/internal/codec"
)

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureNone indicates no failure injection
	FailureNone FailureType = "none"
	// FailureRequestDelay delays before processing the request
	FailureRequestDelay FailureType = "request_delay"
	// FailureInvalidResponse answers 200 with a body that is not JSON
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureDropConnection closes the connection without answering
	FailureDropConnection FailureType = "drop_connection"
)

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	Type FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// RequestMatcher selects requests by method and path. Empty fields match anything.
type RequestMatcher struct {
	Method string
	Path   string
	// Matcher is an optional predicate over the recorded request.
	Matcher func(r *Request) bool
}

func (m RequestMatcher) matches(r *Request) bool {
	if m.Method != "" && !strings.EqualFold(m.Method, r.Method) {
		return false
	}
	if m.Path != "" && m.Path != r.Path {
		return false
	}
	return m.Matcher == nil || m.Matcher(r)
}

// StubResponse is a canned answer for matching requests.
type StubResponse struct {
	Matcher RequestMatcher
	Status  int
	Body    any
	// Times limits how often the stub answers. Zero means always.
	Times    int
	Failures []FailureConfig

	used int
}

// Envelope selects how successful payloads are wrapped.
type Envelope string

const (
	EnvelopeBare   Envelope = "bare"
	EnvelopeData   Envelope = "data"
	EnvelopeNested Envelope = "nested"
)

// File is an uploaded multipart file.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request is what the server recorded about one incoming request.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	// JSON holds the decoded body of a JSON request.
	JSON map[string]any
	// Form and Files hold the parts of a multipart request.
	Form  map[string]string
	Files map[string]File
}

// Multipart reports whether the request carried a multipart body.
func (r *Request) Multipart() bool {
	return r.Form != nil || r.Files != nil
}

// Field returns a body field from either encoding.
func (r *Request) Field(name string) (any, bool) {
	if r.JSON != nil {
		v, ok := r.JSON[name]
		return v, ok
	}
	if v, ok := r.Form[name]; ok {
		return v, true
	}
	if f, ok := r.Files[name]; ok {
		return f, true
	}
	return nil, false
}

// Server is a fake dashboard API backed by in-memory collections.
type Server struct {
	// Email and Password are the only accepted credentials.
	Email    string
	Password string
	// Token is issued on login and required on every other request.
	Token string
	// Envelope wraps successful payloads. Defaults to EnvelopeData.
	Envelope Envelope
	// MethodOverride makes POST /{resource}/{id} honor the _method field.
	// When false such requests are answered with 405.
	MethodOverride bool
	// EchoMedia includes uploaded file fields in mutation answers. When
	// false they are stored but answered as null.
	EchoMedia bool

	logger zerolog.Logger
	codec  codec.Codec
	router http.Handler
	srv    *httptest.Server

	mu             sync.Mutex
	principal      map[string]any
	collections    map[string][]map[string]any
	nextID         int
	stubs          []*StubResponse
	globalFailures []FailureConfig
	requests       []Request
}

// NewServer returns a started server. Call Close when done.
func NewServer() *Server {
	s := &Server{
		Email:          "admin@clinic.test",
		Password:       "secret",
		Token:          "fake-token",
		Envelope:       EnvelopeData,
		MethodOverride: true,
		EchoMedia:      true,
		logger:         zerolog.Nop(),
		codec:          codec.JSON{},
		principal:      map[string]any{"id": 1, "name": "Admin", "email": "admin@clinic.test"},
		collections:    make(map[string][]map[string]any),
		nextID:         1,
	}
	s.router = s.routes()
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetLogger logs every handled request to l.
func (s *Server) SetLogger(l zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

// URL is the API base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Client returns an http.Client wired to the server.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

func (s *Server) Close() {
	s.srv.CloseClientConnections()
	s.srv.Close()
}

// AddStubResponse adds a stub. Stubs are matched in the order they were added
// and take precedence over the built-in handlers, including authentication.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, &stub)
}

// SetGlobalFailures sets failure configurations that apply to all requests.
func (s *Server) SetGlobalFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalFailures = failures
}

// Seed appends records to a collection, assigning ids to those without one.
func (s *Server) Seed(resource string, records ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		rec = copyMap(rec)
		if _, ok := rec["id"]; !ok {
			rec["id"] = s.newID()
		} else if n, err := strconv.Atoi(fmt.Sprint(rec["id"])); err == nil && n >= s.nextID {
			s.nextID = n + 1
		}
		s.collections[resource] = append(s.collections[resource], rec)
	}
}

// Records returns a copy of a collection.
func (s *Server) Records(resource string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.collections[resource]))
	for _, rec := range s.collections[resource] {
		out = append(out, copyMap(rec))
	}
	return out
}

// Requests returns every recorded request in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns the recorded requests with the given method and path.
func (s *Server) RequestsTo(method, path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// routes builds the API router. Stubs and failures are applied before it.
func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not found"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "Method not allowed"})
	})

	router.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	api := router.NewRoute().Subrouter()
	api.Use(s.requireToken)
	api.HandleFunc("/profile", s.handleProfile).Methods(http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodPost)
	api.HandleFunc("/{resource}", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/{resource}", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/{resource}/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{resource}/{id}", s.handleUpdate).Methods(http.MethodPatch, http.MethodPut)
	api.HandleFunc("/{resource}/{id}", s.handleOverride).Methods(http.MethodPost)
	api.HandleFunc("/{resource}/{id}", s.handleDelete).Methods(http.MethodDelete)
	return router
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	req, err := s.record(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	s.mu.Lock()
	globalFailures := s.globalFailures
	stub := s.matchStub(req)
	logger := s.logger
	s.mu.Unlock()

	logger.Debug().Str("method", req.Method).Str("path", req.Path).Msg("fakeapi request")

	for _, failure := range globalFailures {
		if shouldTriggerFailure(failure.Probability) && !applyFailure(r.Context(), w, failure) {
			return
		}
	}

	if stub != nil {
		for _, failure := range stub.Failures {
			if shouldTriggerFailure(failure.Probability) && !applyFailure(r.Context(), w, failure) {
				return
			}
		}
		status := stub.Status
		if status == 0 {
			status = http.StatusOK
		}
		s.writeJSON(w, status, stub.Body)
		return
	}

	s.router.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestKey{}, req)))
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			s.writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestKey struct{}

func recorded(r *http.Request) *Request {
	req, _ := r.Context().Value(requestKey{}).(*Request)
	if req == nil {
		req = &Request{Method: r.Method, Path: r.URL.Path}
	}
	return req
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req := recorded(r)
	email, _ := req.Field("email")
	password, _ := req.Field("password")
	if email != s.Email || password != s.Password {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "These credentials do not match our records.",
			"errors":  map[string]any{"email": []string{"These credentials do not match our records."}},
		})
		return
	}
	s.mu.Lock()
	principal := copyMap(s.principal)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]any{"token": s.Token, "user": principal})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	req := recorded(r)
	s.mu.Lock()
	if req.Method == http.MethodPut || req.Method == http.MethodPatch || req.Method == http.MethodPost {
		s.apply(s.principal, "profile", req)
	}
	principal := copyMap(s.principal)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, s.wrap(principal))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	s.mu.Lock()
	list := make([]any, 0, len(s.collections[resource]))
	for _, rec := range s.collections[resource] {
		list = append(list, copyMap(rec))
	}
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, s.wrap(list))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resource, id := vars["resource"], vars["id"]
	s.mu.Lock()
	rec := s.find(resource, id)
	if rec != nil {
		rec = copyMap(rec)
	}
	s.mu.Unlock()
	if rec == nil {
		s.notFound(w, resource)
		return
	}
	s.writeJSON(w, http.StatusOK, s.wrap(rec))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	resource, req := mux.Vars(r)["resource"], recorded(r)
	s.mu.Lock()
	rec := map[string]any{"id": s.newID()}
	s.apply(rec, resource, req)
	now := time.Now().UTC().Format(time.RFC3339)
	rec["created_at"], rec["updated_at"] = now, now
	s.collections[resource] = append(s.collections[resource], rec)
	answer := s.answer(rec, req)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusCreated, s.wrap(answer))
}

// handleOverride serves POST /{resource}/{id} carrying a _method field.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	override, _ := recorded(r).Field("_method")
	if !s.MethodOverride || override == nil {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "The POST method is not supported for this route."})
		return
	}
	switch strings.ToUpper(fmt.Sprint(override)) {
	case http.MethodPatch, http.MethodPut:
		s.handleUpdate(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "Method not allowed"})
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resource, id, req := vars["resource"], vars["id"], recorded(r)
	s.mu.Lock()
	rec := s.find(resource, id)
	if rec == nil {
		s.mu.Unlock()
		s.notFound(w, resource)
		return
	}
	s.apply(rec, resource, req)
	rec["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	answer := s.answer(rec, req)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, s.wrap(answer))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resource, id := vars["resource"], vars["id"]
	s.mu.Lock()
	list := s.collections[resource]
	found := false
	for i, rec := range list {
		if fmt.Sprint(rec["id"]) == id {
			s.collections[resource] = append(list[:i:i], list[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		s.notFound(w, resource)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"message": "Deleted successfully"})
}

// apply copies body fields into rec. Files are stored as URLs under /storage.
// Caller holds s.mu.
func (s *Server) apply(rec map[string]any, resource string, req *Request) {
	for k, v := range req.JSON {
		if k != "id" {
			rec[k] = v
		}
	}
	for k, v := range req.Form {
		if k != "id" && k != "_method" {
			rec[k] = v
		}
	}
	for k, f := range req.Files {
		rec[k] = fmt.Sprintf("/storage/%s/%s", resource, f.Filename)
	}
}

// answer is the record as returned from a mutation. Caller holds s.mu.
func (s *Server) answer(rec map[string]any, req *Request) map[string]any {
	out := copyMap(rec)
	if !s.EchoMedia {
		for k := range req.Files {
			out[k] = nil
		}
	}
	return out
}

// find returns the stored record. Caller holds s.mu.
func (s *Server) find(resource, id string) map[string]any {
	for _, rec := range s.collections[resource] {
		if fmt.Sprint(rec["id"]) == id {
			return rec
		}
	}
	return nil
}

func (s *Server) newID() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) wrap(payload any) any {
	switch s.Envelope {
	case EnvelopeBare:
		return payload
	case EnvelopeNested:
		return map[string]any{"data": map[string]any{"data": payload}}
	default:
		return map[string]any{"data": payload}
	}
}

func (s *Server) notFound(w http.ResponseWriter, resource string) {
	s.writeJSON(w, http.StatusNotFound, map[string]any{"message": fmt.Sprintf("No query results for %s", resource)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := s.codec.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("fakeapi encode response")
	}
}

// matchStub returns the first usable stub and counts its use. Caller holds s.mu.
func (s *Server) matchStub(req *Request) *StubResponse {
	for _, stub := range s.stubs {
		if stub.Times > 0 && stub.used >= stub.Times {
			continue
		}
		if stub.Matcher.matches(req) {
			stub.used++
			return stub
		}
	}
	return nil
}

func (s *Server) record(r *http.Request) (*Request, error) {
	req := &Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
	}

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
		req.Form = make(map[string]string)
		req.Files = make(map[string]File)
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				req.Form[k] = v[0]
			}
		}
		for k, headers := range r.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			f, err := headers[0].Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			req.Files[k] = File{
				Filename:    headers[0].Filename,
				ContentType: headers[0].Header.Get("Content-Type"),
				Data:        data,
			}
		}
	case strings.HasPrefix(contentType, "application/json"):
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := s.codec.Unmarshal(data, &req.JSON); err != nil {
				return nil, fmt.Errorf("parse json: %w", err)
			}
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, *req)
	s.mu.Unlock()
	return req, nil
}

// applyFailure injects failure. It reports whether request processing should continue.
func applyFailure(ctx context.Context, w http.ResponseWriter, failure FailureConfig) bool {
	switch failure.Type {
	case FailureRequestDelay:
		select {
		case <-time.After(randomDelay(failure.MinDelay, failure.MaxDelay)):
		case <-ctx.Done():
			return false
		}
		return true
	case FailureInvalidResponse:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>upstream error</html>"))
		return false
	case FailureDropConnection:
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic(http.ErrAbortHandler)
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return false
	default:
		return true
	}
}

func randomDelay(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(cryptoRandInt64(int64(maxDelay-minDelay)))
}

func shouldTriggerFailure(probability float64) bool {
	if probability >= 1 {
		return true
	}
	return cryptoRandFloat64() < probability
}

// cryptoRandInt64 generates a cryptographically secure random int64 in [0, max)
func cryptoRandInt64(rMax int64) int64 {
	if rMax <= 0 {
		return 0
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(rMax))
	return n.Int64()
}

// cryptoRandFloat64 generates a cryptographically secure random float64 in [0.0, 1.0)
func cryptoRandFloat64() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<53))
	return float64(n.Int64()) / float64(1<<53)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
