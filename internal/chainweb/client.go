// Package chainweb is a typed HTTP client for a chainweb-style node: cut,
// header-branch paging, payload batches, transaction-result polling, and
// the header server-sent-events stream.
package chainweb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chainweb-tools/cwindex/internal/model"
)

const headerBranchAccept = "application/json;blockheader-encoding=object"

// Config configures a Client.
type Config struct {
	// BaseURL is the node's chainweb base, e.g.
	// "http://localhost:1848/chainweb/0.0/mainnet01".
	BaseURL string
	// HTTPClient is used for all non-streaming calls. Defaults to a client
	// with a 30s timeout.
	HTTPClient *http.Client
}

// Client is a stateless, concurrency-safe chainweb node client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. The node client holds no connection state of its
// own; every call is an independent HTTP round trip.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &NetworkError{Op: path, Err: err}
	}
	return c.do(req, path, result)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, headers map[string]string, result interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return &DecodeError{Op: path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return &NetworkError{Op: path, Err: err}
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, path, result)
}

func (c *Client) do(req *http.Request, op string, result interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &NetworkError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// GetCut fetches the node's current cut.
func (c *Client) GetCut(ctx context.Context) (*model.Cut, error) {
	var cut model.Cut
	if err := c.get(ctx, "/cut", &cut); err != nil {
		return nil, err
	}
	return &cut, nil
}

// GetHeaderBranch pages headers on chain backwards from bounds.Upper toward
// bounds.Lower. cursor, when non-nil, continues a prior page. pageSize is
// the requested "limit" query parameter (design default 50).
func (c *Client) GetHeaderBranch(ctx context.Context, chain int, bounds model.Bounds, cursor *string, pageSize int) (*model.BlockHeaderResponse, error) {
	path := fmt.Sprintf("/chain/%d/header/branch?limit=%d", chain, pageSize)
	if cursor != nil && *cursor != "" {
		path += "&next=" + *cursor
	}
	var resp model.BlockHeaderResponse
	headers := map[string]string{"accept": headerBranchAccept}
	if err := c.post(ctx, path, bounds, headers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPayloadBatch fetches payloads for a set of payload hashes in one call.
// The node may return fewer entries than requested; callers must match
// results back to headers by PayloadHash.
func (c *Client) GetPayloadBatch(ctx context.Context, chain int, payloadHashes []string) ([]model.BlockPayload, error) {
	path := fmt.Sprintf("/chain/%d/payload/batch", chain)
	var payloads []model.BlockPayload
	if err := c.post(ctx, path, payloadHashes, nil, &payloads); err != nil {
		return nil, err
	}
	return payloads, nil
}

// PollTxResults polls transaction results for a single chunk of request
// keys. Callers slice request keys into chunks (design default 10) and fan
// out concurrently (design default 40 in flight); a failed chunk's results
// are simply absent from the return value.
func (c *Client) PollTxResults(ctx context.Context, chain int, requestKeys []string) (map[string]model.TxResult, error) {
	path := fmt.Sprintf("/chain/%d/pact/api/v1/poll", chain)
	body := struct {
		RequestKeys []string `json:"requestKeys"`
	}{RequestKeys: requestKeys}
	var results map[string]model.TxResult
	if err := c.post(ctx, path, body, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// ChunkRequestKeys splits request keys into fixed-size chunks for polling.
func ChunkRequestKeys(keys []string, chunkSize int) [][]string {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	var chunks [][]string
	for len(keys) > 0 {
		n := chunkSize
		if n > len(keys) {
			n = len(keys)
		}
		chunks = append(chunks, keys[:n])
		keys = keys[n:]
	}
	return chunks
}
