// Package mockapi is an in-memory REST API shaped like the field service
// backend. Collections live at any odd-depth path ("/customers",
// "/customers/1/notes") and items one segment below.
package mockapi

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/mutation"
)

// Validator inspects a document about to be stored. An error becomes a
// 422 response carrying its message.
type Validator func(collection string, doc map[string]any) error

// Recorded is one request the server received.
type Recorded struct {
	Method         string
	Path           string
	IdempotencyKey string
	Replayed       bool
}

type reply struct {
	status int
	body   []byte
}

// Server holds the collections. It is safe for concurrent use.
type Server struct {
	token     string
	validator Validator
	logger    *slog.Logger
	router    chi.Router

	mu          sync.Mutex
	collections map[string][]map[string]any
	nextID      int
	replies     map[string]reply
	requests    []Recorded
	failures    []int
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request
// except the health check.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithValidator sets the document validator.
func WithValidator(v Validator) Option {
	return func(s *Server) { s.validator = v }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(opts ...Option) *Server {
	s := &Server{
		collections: make(map[string][]map[string]any),
		replies:     make(map[string]reply),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.ComponentOr(s.logger, "mockapi")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.authenticate)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.HandleFunc("/*", s.serve)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Seed stores docs in collection as they are. Documents without an "id"
// get one.
func (s *Server) Seed(collection string, docs ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		d = maps.Clone(d)
		if _, ok := d["id"]; !ok {
			d["id"] = s.newIDLocked()
		}
		s.collections[collection] = append(s.collections[collection], d)
	}
}

// Items returns a copy of collection.
func (s *Server) Items(collection string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.collections[collection]))
	for _, d := range s.collections[collection] {
		out = append(out, maps.Clone(d))
	}
	return out
}

// Requests returns every mutating request received, in order.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// FailNext answers the next len(statuses) mutating requests with the given
// statuses, without applying them.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	s.failures = append(s.failures, statuses...)
	s.mu.Unlock()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status_code", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.URL.Path != "/health" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	p, err := mutation.NormalizePath(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	coll, id, isItem := mutation.SplitItem(p)
	if !isItem {
		coll = p
	}

	if r.Method == http.MethodGet {
		s.get(w, coll, id, isItem)
		return
	}

	doc, err := readDoc(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Header.Get("Idempotency-Key")
	rec := Recorded{Method: r.Method, Path: p, IdempotencyKey: key}
	if rep, ok := s.replies[key]; ok && key != "" {
		rec.Replayed = true
		s.requests = append(s.requests, rec)
		writeRaw(w, rep.status, rep.body)
		return
	}
	s.requests = append(s.requests, rec)

	if len(s.failures) > 0 {
		status := s.failures[0]
		s.failures = s.failures[1:]
		writeError(w, status, http.StatusText(status))
		return
	}

	status, body := s.applyLocked(r.Method, coll, id, isItem, doc)
	if key != "" && status < 500 {
		s.replies[key] = reply{status: status, body: body}
	}
	writeRaw(w, status, body)
}

func (s *Server) get(w http.ResponseWriter, coll, id string, isItem bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.collections[coll]
	if !isItem {
		out := make([]map[string]any, 0, len(items))
		for _, d := range items {
			out = append(out, maps.Clone(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": out})
		return
	}
	if i := indexOf(items, id); i >= 0 {
		writeJSON(w, http.StatusOK, items[i])
		return
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("%s/%s not found", coll, id))
}

func (s *Server) applyLocked(method, coll, id string, isItem bool, doc map[string]any) (int, []byte) {
	items := s.collections[coll]
	switch method {
	case http.MethodPost:
		if isItem {
			return errorBody(http.StatusMethodNotAllowed, "POST targets a collection")
		}
		if doc == nil {
			return errorBody(http.StatusBadRequest, "body is required")
		}
		if err := s.validate(coll, doc); err != nil {
			return errorBody(http.StatusUnprocessableEntity, err.Error())
		}
		doc["id"] = s.newIDLocked()
		s.collections[coll] = append(items, doc)
		return encode(http.StatusCreated, doc)

	case http.MethodPut, http.MethodPatch:
		if !isItem {
			return errorBody(http.StatusMethodNotAllowed, method+" targets an item")
		}
		i := indexOf(items, id)
		if i < 0 {
			return errorBody(http.StatusNotFound, fmt.Sprintf("%s/%s not found", coll, id))
		}
		if doc == nil {
			return errorBody(http.StatusBadRequest, "body is required")
		}
		next := doc
		if method == http.MethodPatch {
			next = maps.Clone(items[i])
			maps.Copy(next, doc)
		}
		next["id"] = items[i]["id"]
		if err := s.validate(coll, next); err != nil {
			return errorBody(http.StatusUnprocessableEntity, err.Error())
		}
		items[i] = next
		return encode(http.StatusOK, next)

	case http.MethodDelete:
		if !isItem {
			return errorBody(http.StatusMethodNotAllowed, "DELETE targets an item")
		}
		i := indexOf(items, id)
		if i < 0 {
			return errorBody(http.StatusNotFound, fmt.Sprintf("%s/%s not found", coll, id))
		}
		s.collections[coll] = slices.Delete(items, i, i+1)
		return http.StatusNoContent, nil
	}
	return errorBody(http.StatusMethodNotAllowed, method+" is not supported")
}

func (s *Server) validate(coll string, doc map[string]any) error {
	if s.validator == nil {
		return nil
	}
	return s.validator(coll, doc)
}

func (s *Server) newIDLocked() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func indexOf(items []map[string]any, id string) int {
	return slices.IndexFunc(items, func(d map[string]any) bool {
		return fmt.Sprint(d["id"]) == id
	})
}

func readDoc(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, nil
	}
	var body io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer gz.Close()
		body = gz
	}
	data, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.New("body must be a JSON object")
	}
	return doc, nil
}

// Required returns a validator demanding non-empty fields per collection.
func Required(fields map[string][]string) Validator {
	return func(coll string, doc map[string]any) error {
		for _, f := range fields[coll] {
			if v, ok := doc[f]; !ok || v == nil || v == "" {
				return fmt.Errorf("%s is required", f)
			}
		}
		return nil
	}
}

func encode(status int, v any) (int, []byte) {
	b, err := json.Marshal(v)
	if err != nil {
		return errorBody(http.StatusInternalServerError, err.Error())
	}
	return status, b
}

func errorBody(status int, msg string) (int, []byte) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return status, b
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	if body != nil {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if body != nil {
		_, _ = w.Write(body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
