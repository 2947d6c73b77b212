package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
)

// Response is one scripted reply from an Origin.
type Response struct {
	Status       int
	Body         []byte
	ContentType  string
	ETag         string
	LastModified string
}

// Resource is a steady-state image served by an Origin. The first
// FailFirst requests answer FailStatus (500 if zero); after that the
// resource behaves like a well-mannered static file server, including
// 304 replies to matching conditional requests.
type Resource struct {
	Body         []byte
	ContentType  string
	ETag         string
	LastModified string
	FailFirst    int
	FailStatus   int
}

// Request records what the Origin received.
type Request struct {
	Path            string
	IfNoneMatch     string
	IfModifiedSince string
}

// Conditional reports whether the request carried validators.
func (r Request) Conditional() bool {
	return r.IfNoneMatch != "" || r.IfModifiedSince != ""
}

// Origin is an httptest server that serves scripted image responses.
// Scripted responses for a path are consumed first, in order; once they
// run out the path's Resource (if any) answers; unknown paths get 404.
type Origin struct {
	server *httptest.Server

	mu        sync.Mutex
	resources map[string]*Resource
	scripts   map[string][]Response
	hits      map[string]int
	requests  []Request
}

// NewOrigin starts an Origin. Call Close when done.
func NewOrigin() *Origin {
	o := &Origin{
		resources: make(map[string]*Resource),
		scripts:   make(map[string][]Response),
		hits:      make(map[string]int),
	}
	o.server = httptest.NewServer(http.HandlerFunc(o.serve))
	return o
}

// URL returns the absolute URL for path.
func (o *Origin) URL(path string) string {
	return o.server.URL + path
}

// Close shuts the server down.
func (o *Origin) Close() {
	o.server.Close()
}

// Set installs or replaces the resource at path and resets its hit count.
func (o *Origin) Set(path string, r Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res := r
	o.resources[path] = &res
	o.hits[path] = 0
}

// Script queues responses for path ahead of its resource.
func (o *Origin) Script(path string, responses ...Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scripts[path] = append(o.scripts[path], responses...)
}

// Hits returns how many requests path has received.
func (o *Origin) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// Requests returns a copy of every request received, in arrival order.
func (o *Origin) Requests() []Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Request, len(o.requests))
	copy(out, o.requests)
	return out
}

// RequestsFor returns the requests received for path.
func (o *Origin) RequestsFor(path string) []Request {
	var out []Request
	for _, r := range o.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// ResetRequests clears hit counts and the request log.
func (o *Origin) ResetRequests() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = nil
	for k := range o.hits {
		o.hits[k] = 0
	}
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	req := Request{
		Path:            r.URL.Path,
		IfNoneMatch:     r.Header.Get("If-None-Match"),
		IfModifiedSince: r.Header.Get("If-Modified-Since"),
	}

	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.hits[req.Path]++
	hit := o.hits[req.Path]

	var scripted *Response
	if queue := o.scripts[req.Path]; len(queue) > 0 {
		scripted = &queue[0]
		o.scripts[req.Path] = queue[1:]
	}
	var res *Resource
	if r, ok := o.resources[req.Path]; ok {
		copied := *r
		res = &copied
	}
	o.mu.Unlock()

	if scripted != nil {
		writeResponse(w, *scripted)
		return
	}
	if res == nil {
		http.NotFound(w, r)
		return
	}
	if hit <= res.FailFirst {
		status := res.FailStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		w.WriteHeader(status)
		return
	}
	if req.Conditional() && matches(req, res) {
		writeResponse(w, Response{Status: http.StatusNotModified, ETag: res.ETag, LastModified: res.LastModified})
		return
	}
	writeResponse(w, Response{
		Status:       http.StatusOK,
		Body:         res.Body,
		ContentType:  res.ContentType,
		ETag:         res.ETag,
		LastModified: res.LastModified,
	})
}

func matches(req Request, res *Resource) bool {
	if req.IfNoneMatch != "" {
		return res.ETag != "" && req.IfNoneMatch == res.ETag
	}
	return res.LastModified != "" && req.IfModifiedSince == res.LastModified
}

func writeResponse(w http.ResponseWriter, resp Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.ETag != "" {
		w.Header().Set("ETag", resp.ETag)
	}
	if resp.LastModified != "" {
		w.Header().Set("Last-Modified", resp.LastModified)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 && status != http.StatusNotModified {
		w.Write(resp.Body)
	}
}
