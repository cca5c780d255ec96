package steem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// RPCRequest is a JSON-RPC 2.0 request envelope
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCOptions configure an RPCClient.
type RPCOptions struct {
	Timeout time.Duration
	// RPS limits outgoing HTTP requests per second; zero disables the limit.
	RPS int
	// MaxConns bounds the connections of the client's own transport.
	MaxConns int
}

// RPCClient is a JSON-RPC client with its own HTTP connection pool.
type RPCClient struct {
	url       string
	http      *http.Client
	transport *http.Transport
	limiter   ratelimit.Limiter
	logger    *zap.Logger
}

// NewRPCClient creates a client for the node at url
func NewRPCClient(url string, opts RPCOptions, logger *zap.Logger) *RPCClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        opts.MaxConns,
		MaxIdleConnsPerHost: opts.MaxConns,
		MaxConnsPerHost:     opts.MaxConns,
		IdleConnTimeout:     90 * time.Second,
	}

	limiter := ratelimit.NewUnlimited()
	if opts.RPS > 0 {
		limiter = ratelimit.New(opts.RPS)
	}

	return &RPCClient{
		url:       url,
		http:      &http.Client{Transport: transport, Timeout: opts.Timeout},
		transport: transport,
		limiter:   limiter,
		logger:    logger,
	}
}

// Call issues a single request for api.method
func (c *RPCClient) Call(ctx context.Context, api, method string, params interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  api + "." + method,
		Params:  params,
	}

	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp RPCResponse
	if err := sonic.ConfigStd.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Msg: fmt.Sprintf("decode %s response: %v", req.Method, err)}
	}
	if resp.ID != req.ID {
		return nil, &ProtocolError{Msg: fmt.Sprintf("response id %d does not match request id %d", resp.ID, req.ID)}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// CallBatch issues a batch request. Responses are returned in the order the
// node sent them; correlating them by id is up to the caller.
func (c *RPCClient) CallBatch(ctx context.Context, requests []RPCRequest) ([]RPCResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	body, err := c.post(ctx, requests)
	if err != nil {
		return nil, err
	}

	var responses []RPCResponse
	if err := sonic.ConfigStd.Unmarshal(body, &responses); err != nil {
		// a node rejecting the whole batch answers with a single envelope
		var single RPCResponse
		if sonic.ConfigStd.Unmarshal(body, &single) == nil && single.Error != nil {
			return nil, &ProtocolError{Msg: fmt.Sprintf("batch rejected: %v", single.Error)}
		}
		return nil, &ProtocolError{Msg: fmt.Sprintf("decode batch response: %v", err)}
	}
	return responses, nil
}

func (c *RPCClient) post(ctx context.Context, payload interface{}) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.limiter.Take()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "post", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	c.logger.Debug("RPC round trip",
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)))
	return body, nil
}

// Close releases idle connections of the client's transport.
func (c *RPCClient) Close() {
	c.transport.CloseIdleConnections()
}
