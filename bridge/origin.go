package bridge

import (
	"net/http"

	"github.com/CADMonkey21/dlt-miner-go/logging"
)

// DefaultAllowedOrigins are the web miner's own origins.
var DefaultAllowedOrigins = []string{
	"https://webminer.dilithiumcoin.com",
	"http://localhost:8080",
	"http://localhost:3000",
	"http://127.0.0.1:8080",
}

// OriginPolicy decides which browser origins may open a relay.
type OriginPolicy struct {
	allowed      map[string]struct{}
	allowMissing bool
}

func NewOriginPolicy(origins []string, allowMissing bool) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins)), allowMissing: allowMissing}
	for _, o := range origins {
		p.allowed[o] = struct{}{}
	}
	return p
}

func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return p.allowMissing
	}
	_, ok := p.allowed[origin]
	return ok
}

// Check is a websocket.Upgrader CheckOrigin function.
func (p *OriginPolicy) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.Allowed(origin) {
		return true
	}
	if origin == "" {
		logging.Warnf("[REJECT] Missing Origin from %s", clientIP(r))
	} else {
		logging.Warnf("[REJECT] Origin: %s", origin)
	}
	return false
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
