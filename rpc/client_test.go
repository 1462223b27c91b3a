package rpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newNode(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatus(t *testing.T) {
	srv := newNode(t, map[string]http.HandlerFunc{
		"/status": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":true,"data":{"blockchain_height":6001,"difficulty":5,"difficulty_bits":22,"last_block_hash":"00ab"}}`)
		},
	})
	c := NewClient(srv.URL+"/", "", time.Second)
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Height != 6001 || st.Difficulty != 5 || st.DifficultyBits != 22 || st.LastBlockHash != "00ab" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestStatusRejected(t *testing.T) {
	srv := newNode(t, map[string]http.HandlerFunc{
		"/status": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":false,"message":"syncing"}`)
		},
	})
	_, err := NewClient(srv.URL, "", time.Second).Status(context.Background())
	if !errors.Is(err, ErrNodeRejected) {
		t.Fatalf("expected ErrNodeRejected, got %v", err)
	}
}

func TestMempool(t *testing.T) {
	srv := newNode(t, map[string]http.HandlerFunc{
		"/mempool": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":true,"data":{"transactions":[{"from":"a","to":"b","amount":10,"fee":2,"timestamp":5,"signature":"s"}]}}`)
		},
	})
	txs, err := NewClient(srv.URL, "", time.Second).Mempool(context.Background())
	if err != nil {
		t.Fatalf("Mempool: %v", err)
	}
	if len(txs) != 1 || txs[0].Fee != 2 || txs[0].Amount != 10 || txs[0].Data != "" {
		t.Errorf("unexpected mempool %+v", txs)
	}
}

func TestMempoolWithoutData(t *testing.T) {
	srv := newNode(t, map[string]http.HandlerFunc{
		"/mempool": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":true}`)
		},
	})
	txs, err := NewClient(srv.URL, "", time.Second).Mempool(context.Background())
	if err != nil || len(txs) != 0 {
		t.Fatalf("expected empty mempool, got %v, %v", txs, err)
	}
}

func TestSubmitBlock(t *testing.T) {
	var gotBody, gotType string
	srv := newNode(t, map[string]http.HandlerFunc{
		"/block/submit": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method %s", r.Method)
			}
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			gotType = r.Header.Get("Content-Type")
			io.WriteString(w, `{"success":false,"message":"invalid hash"}`)
		},
	})
	msg, err := NewClient(srv.URL, "", time.Second).SubmitBlock(context.Background(), []byte(`{"Index":1}`))
	if !errors.Is(err, ErrNodeRejected) || msg != "invalid hash" {
		t.Fatalf("expected rejection, got %q, %v", msg, err)
	}
	if gotBody != `{"Index":1}` || gotType != "application/json" {
		t.Errorf("body %q, content type %q", gotBody, gotType)
	}
}

func TestProxyRouting(t *testing.T) {
	var gotPath, gotNode string
	srv := newNode(t, map[string]http.HandlerFunc{
		"/api/status": func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotNode = r.URL.Query().Get("node")
			io.WriteString(w, `{"success":true,"data":{"blockchain_height":1}}`)
		},
	})
	c := NewClient("http://node.example:8001", srv.URL+"/", time.Second)
	if _, err := c.Status(context.Background()); err != nil {
		t.Fatalf("Status via proxy: %v", err)
	}
	if gotPath != "/api/status" || gotNode != "http://node.example:8001" {
		t.Errorf("path %q node %q", gotPath, gotNode)
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newNode(t, map[string]http.HandlerFunc{
		"/status": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	defer close(release)
	_, err := NewClient(srv.URL, "", 50*time.Millisecond).Status(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestMalformedResponse(t *testing.T) {
	srv := newNode(t, map[string]http.HandlerFunc{
		"/status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, `<html>bad gateway</html>`)
		},
	})
	if _, err := NewClient(srv.URL, "", time.Second).Status(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
