// Package backendtest provides an in-memory stand-in for the REST order
// backend, for use in tests.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Additional-Code/ordergate/internal/config"
)

type (
	// Backend is a fake order service speaking the v1/v2 entity API.
	Backend struct {
		Server      *httptest.Server
		Entity      string
		Token       string
		TokenHeader string

		mu       sync.Mutex
		orders   map[string]map[string]any
		files    map[string]map[string]any
		requests []Request
		failures map[string]int
	}

	// Request is a recorded inbound call.
	Request struct {
		Method      string
		Path        string
		Query       string
		ContentType string
		Token       string
		Body        string
	}
)

// New starts a fake backend that requires token on every call.
func New(token string) *Backend {
	b := &Backend{
		Entity:      "lifelines_order",
		Token:       token,
		TokenHeader: "X-Molgenis-Token",
		orders:      map[string]map[string]any{},
		files:       map[string]map[string]any{},
		failures:    map[string]int{},
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

// Close shuts the server down.
func (b *Backend) Close() {
	b.Server.Close()
}

// Config returns backend settings pointing at the fake.
func (b *Backend) Config() config.Backend {
	return config.Backend{
		BaseURL:     b.Server.URL + "/api/",
		OrderEntity: b.Entity,
		Token:       b.Token,
		TokenHeader: b.TokenHeader,
		ListLimit:   10000,
	}
}

// PutOrder seeds an order record.
func (b *Backend) PutOrder(order map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[order["orderNumber"].(string)] = cloneMap(order)
}

// PutFile seeds a file that applicationForm ids resolve to.
func (b *Backend) PutFile(id, filename, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[id] = map[string]any{"id": id, "filename": filename, "url": url}
}

// Order returns the stored record as written.
func (b *Backend) Order(number string) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[number]
	return cloneMap(o), ok
}

// FailNext makes the next call for method answer with status.
func (b *Backend) FailNext(method string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method] = status
}

// Requests returns every recorded call.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		ContentType: r.Header.Get("Content-Type"),
		Token:       r.Header.Get(b.TokenHeader),
		Body:        string(body),
	})

	if b.Token != "" && r.Header.Get(b.TokenHeader) != b.Token {
		writeError(w, http.StatusUnauthorized, "No permission")
		return
	}
	if status, ok := b.failures[r.Method]; ok {
		delete(b.failures, r.Method)
		writeError(w, status, "injected failure")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" || parts[2] != b.Entity {
		writeError(w, http.StatusNotFound, "Unknown path "+r.URL.Path)
		return
	}
	version, rest := parts[1], parts[3:]

	switch {
	case r.Method == http.MethodGet && version == "v2" && len(rest) == 0:
		b.list(w, r)
	case r.Method == http.MethodGet && version == "v2" && len(rest) == 1:
		b.get(w, rest[0])
	case r.Method == http.MethodPost && version == "v1" && len(rest) == 0:
		b.create(w, body)
	case r.Method == http.MethodPut && version == "v1" && len(rest) == 1:
		b.replace(w, rest[0], body)
	case r.Method == http.MethodPut && version == "v1" && len(rest) == 2 && rest[1] == "contents":
		b.contents(w, rest[0], body)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported")
	}
}

func (b *Backend) list(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("num"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	var since string
	if q := r.URL.Query().Get("q"); q != "" {
		const prefix = "updateDate=gt="
		if !strings.HasPrefix(q, prefix) {
			writeError(w, http.StatusBadRequest, "unsupported query "+q)
			return
		}
		since = strings.TrimPrefix(q, prefix)
	}

	numbers := make([]string, 0, len(b.orders))
	for n := range b.orders {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	items := []map[string]any{}
	total := 0
	for _, n := range numbers {
		o := b.orders[n]
		if since != "" {
			updated, _ := o["updateDate"].(string)
			if updated <= since {
				continue
			}
		}
		total++
		if len(items) < limit {
			items = append(items, b.expand(o))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"href":  r.URL.Path,
		"start": 0,
		"num":   limit,
		"total": total,
		"items": items,
	})
}

func (b *Backend) get(w http.ResponseWriter, number string) {
	o, ok := b.orders[number]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown entity ["+number+"] of type ["+b.Entity+"]")
		return
	}
	writeJSON(w, http.StatusOK, b.expand(o))
}

func (b *Backend) create(w http.ResponseWriter, body []byte) {
	var o map[string]any
	if err := json.Unmarshal(body, &o); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	number, _ := o["orderNumber"].(string)
	if number == "" {
		writeError(w, http.StatusBadRequest, "orderNumber is required")
		return
	}
	if _, exists := b.orders[number]; exists {
		writeError(w, http.StatusBadRequest, "Duplicate value '"+number+"' for unique attribute 'orderNumber'")
		return
	}
	b.orders[number] = o
	w.Header().Set("Location", "/api/v1/"+b.Entity+"/"+number)
	w.WriteHeader(http.StatusCreated)
}

func (b *Backend) replace(w http.ResponseWriter, number string, body []byte) {
	if _, ok := b.orders[number]; !ok {
		writeError(w, http.StatusNotFound, "Unknown entity ["+number+"] of type ["+b.Entity+"]")
		return
	}
	var o map[string]any
	if err := json.Unmarshal(body, &o); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := o["applicationForm"].(map[string]any); ok {
		writeError(w, http.StatusBadRequest, "applicationForm must be a file id")
		return
	}
	b.orders[number] = o
	w.WriteHeader(http.StatusOK)
}

func (b *Backend) contents(w http.ResponseWriter, number string, body []byte) {
	o, ok := b.orders[number]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown entity ["+number+"] of type ["+b.Entity+"]")
		return
	}
	o["contents"] = string(body)
	w.WriteHeader(http.StatusOK)
}

// expand renders the stored record the way the v2 API does: file
// references become objects.
func (b *Backend) expand(o map[string]any) map[string]any {
	out := cloneMap(o)
	out["_href"] = "/api/v2/" + b.Entity + "/" + o["orderNumber"].(string)
	if id, ok := o["applicationForm"].(string); ok {
		if f, ok := b.files[id]; ok {
			out["applicationForm"] = cloneMap(f)
		} else {
			out["applicationForm"] = map[string]any{"id": id}
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]string{{"message": msg}},
	})
}
