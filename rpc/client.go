package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/CADMonkey21/dlt-miner-go/chain"
)

// ErrNodeRejected wraps every {"success":false} answer from the node.
var ErrNodeRejected = errors.New("node rejected request")

// maxBody bounds how much of a node response is read.
const maxBody = 32 << 20

var fastJSON = sonic.ConfigDefault

// response is the envelope every node REST endpoint answers with.
type response[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Status is the chain tip as reported by GET /status.
type Status struct {
	Height         int64  `json:"blockchain_height"`
	Difficulty     int    `json:"difficulty"`
	DifficultyBits int    `json:"difficulty_bits"`
	LastBlockHash  string `json:"last_block_hash"`
}

type mempool struct {
	Transactions []chain.Transaction `json:"transactions"`
}

// Client talks to a node's REST API, either directly or through the bridge's
// /api/ proxy.
type Client struct {
	httpClient *http.Client
	nodeURL    string
	proxyURL   string
}

// NewClient creates a node client. When proxyURL is non-empty, every request
// goes to <proxyURL>/api/<path>?node=<nodeURL> instead of the node itself.
func NewClient(nodeURL, proxyURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		nodeURL:    strings.TrimRight(nodeURL, "/"),
		proxyURL:   strings.TrimRight(proxyURL, "/"),
	}
}

func (c *Client) NodeURL() string {
	return c.nodeURL
}

func (c *Client) endpoint(path string) string {
	if c.proxyURL != "" {
		return c.proxyURL + "/api" + path + "?node=" + url.QueryEscape(c.nodeURL)
	}
	return c.nodeURL + path
}

// Status fetches the current chain height, difficulty and tip hash.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp response[Status]
	if err := c.call(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrNodeRejected, resp.Message)
	}
	return &resp.Data, nil
}

// Mempool fetches the pending transactions. A response without a transaction
// list is an empty mempool.
func (c *Client) Mempool(ctx context.Context) ([]chain.Transaction, error) {
	var resp response[*mempool]
	if err := c.call(ctx, http.MethodGet, "/mempool", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrNodeRejected, resp.Message)
	}
	if resp.Data == nil {
		return nil, nil
	}
	return resp.Data.Transactions, nil
}

// SubmitBlock posts a canonically serialized block. The node's message is
// returned on success; a rejection wraps ErrNodeRejected.
func (c *Client) SubmitBlock(ctx context.Context, block []byte) (string, error) {
	var resp response[interface{}]
	if err := c.call(ctx, http.MethodPost, "/block/submit", block, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return resp.Message, fmt.Errorf("%w: %s", ErrNodeRejected, resp.Message)
	}
	return resp.Message, nil
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if err := fastJSON.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", path, resp.StatusCode, err)
	}
	return nil
}
