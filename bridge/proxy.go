package bridge

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/CADMonkey21/dlt-miner-go/logging"
)

const maxProxyBody = 32 << 20

// NodeProxy forwards /api/<path> to a node REST API chosen per request by
// the X-Node-URL header or the ?node= query parameter, so browser miners can
// reach nodes that do not send CORS headers.
type NodeProxy struct {
	allowed map[string]struct{}
	client  *http.Client
}

// NewNodeProxy restricts the proxy to the given node base URLs. An empty list
// allows any node.
func NewNodeProxy(allowedNodes []string, timeout time.Duration) *NodeProxy {
	p := &NodeProxy{
		allowed: make(map[string]struct{}, len(allowedNodes)),
		client:  &http.Client{Timeout: timeout},
	}
	for _, n := range allowedNodes {
		p.allowed[strings.TrimRight(n, "/")] = struct{}{}
	}
	return p
}

type proxyError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, X-Node-URL")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (p *NodeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	node := r.Header.Get("X-Node-URL")
	if node == "" {
		node = r.URL.Query().Get("node")
	}
	node = strings.TrimRight(node, "/")
	if node == "" {
		writeJSON(w, http.StatusBadRequest, proxyError{Message: "Missing node URL. Set X-Node-URL header or ?node= param"})
		return
	}
	if len(p.allowed) > 0 {
		if _, ok := p.allowed[node]; !ok {
			logging.Warnf("Node proxy: refusing %s", node)
			writeJSON(w, http.StatusForbidden, proxyError{Message: "Node not allowed: " + node})
			return
		}
	}

	path := strings.TrimPrefix(r.URL.Path, "/api")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body io.Reader
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, proxyError{Message: "Read error: " + err.Error()})
			return
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, node+path, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, proxyError{Message: "Proxy error: " + err.Error()})
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		logging.Warnf("Node proxy: %s %s: %v", r.Method, node+path, err)
		writeJSON(w, http.StatusBadGateway, proxyError{Message: "Proxy error: " + err.Error()})
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBody))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, proxyError{Message: "Proxy error: " + err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(data)
}
