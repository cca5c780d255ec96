package steem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/steemit/sbds/internal/normalizer"
	"github.com/steemit/sbds/pkg/config"
	"github.com/steemit/sbds/pkg/logging"
	"github.com/steemit/sbds/pkg/telemetry"
)

const api = "condenser_api"

// Client wraps the Steem RPC client
type Client struct {
	rpc    *RPCClient
	logger *zap.Logger
}

// New creates a new Steem client with its own connection pool of maxConns
func New(cfg *config.SteemConfig, maxConns int) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("steemd_url is required")
	}

	logger := logging.WithComponent("steem-client")

	rpcClient := NewRPCClient(cfg.URL, RPCOptions{
		Timeout:  cfg.Timeout,
		RPS:      cfg.RPS,
		MaxConns: maxConns,
	}, logger)

	logger.Debug("Steem client initialized", zap.String("url", cfg.URL))

	return &Client{rpc: rpcClient, logger: logger}, nil
}

// NewWithRPC wraps an existing RPC client
func NewWithRPC(rpc *RPCClient, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{rpc: rpc, logger: logger}
}

// Close releases the client's pooled connections
func (c *Client) Close() {
	c.rpc.Close()
}

// Call is the generic escape hatch for condenser_api methods without a
// typed wrapper.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	return c.rpc.Call(ctx, api, method, params)
}

// GetBlock fetches a single block by number
func (c *Client) GetBlock(ctx context.Context, num int64) (*normalizer.RawBlock, error) {
	ctx, span := telemetry.StartSpan(ctx, "steem.get_block")
	defer span.End()

	result, err := c.rpc.Call(ctx, api, "get_block", []interface{}{num})
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", num, err)
	}
	return decodeBlock(num, result)
}

// GetOpsInBlock fetches every operation applied in a block, virtual ones
// included.
func (c *Client) GetOpsInBlock(ctx context.Context, num int64) ([]normalizer.RawAppliedOp, error) {
	ctx, span := telemetry.StartSpan(ctx, "steem.get_ops_in_block")
	defer span.End()

	result, err := c.rpc.Call(ctx, api, "get_ops_in_block", []interface{}{num, false})
	if err != nil {
		return nil, fmt.Errorf("failed to get ops in block %d: %w", num, err)
	}
	return decodeOps(num, result)
}

// DynamicGlobalProperties holds the chain head fields the indexer uses.
type DynamicGlobalProperties struct {
	HeadBlockNumber          int64  `json:"head_block_number"`
	HeadBlockID              string `json:"head_block_id"`
	Time                     string `json:"time"`
	LastIrreversibleBlockNum int64  `json:"last_irreversible_block_num"`
}

// GetDynamicGlobalProperties fetches dynamic global properties
func (c *Client) GetDynamicGlobalProperties(ctx context.Context) (*DynamicGlobalProperties, error) {
	ctx, span := telemetry.StartSpan(ctx, "steem.get_dynamic_global_properties")
	defer span.End()

	result, err := c.rpc.Call(ctx, api, "get_dynamic_global_properties", []interface{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to get dynamic global properties: %w", err)
	}

	var props DynamicGlobalProperties
	if err := sonic.ConfigStd.Unmarshal(result, &props); err != nil {
		return nil, &ProtocolError{Msg: fmt.Sprintf("decode dynamic global properties: %v", err)}
	}
	return &props, nil
}

// HeadBlock returns the current head block number
func (c *Client) HeadBlock(ctx context.Context) (int64, error) {
	props, err := c.GetDynamicGlobalProperties(ctx)
	if err != nil {
		return 0, err
	}
	if props.HeadBlockNumber <= 0 {
		return 0, &ProtocolError{Msg: "head_block_number not found in properties"}
	}
	return props.HeadBlockNumber, nil
}

// LastIrreversible returns the last irreversible block number
func (c *Client) LastIrreversible(ctx context.Context) (int64, error) {
	props, err := c.GetDynamicGlobalProperties(ctx)
	if err != nil {
		return 0, err
	}
	if props.LastIrreversibleBlockNum <= 0 {
		return 0, &ProtocolError{Msg: "last_irreversible_block_num not found in properties"}
	}
	return props.LastIrreversibleBlockNum, nil
}

// BlockResult is the outcome for one block of a batch. Err is set when the
// node answered the pair with an error or an unusable payload; the rest of
// the batch is unaffected.
type BlockResult struct {
	Num   int64
	Block *normalizer.RawBlock
	Ops   []normalizer.RawAppliedOp
	Err   error
}

// Request ids encode the block number and the call: get_block uses 2n and
// get_ops_in_block uses 2n+1, so both halves of a pair share id/2.
func blockRequestID(num int64) int64 { return num * 2 }
func opsRequestID(num int64) int64   { return num*2 + 1 }

// GetBlocksWithOps fetches blocks and their ops in one batch request. The
// returned slice follows the order of nums. A batch-level error is either a
// *TransportError or a *ProtocolError.
func (c *Client) GetBlocksWithOps(ctx context.Context, nums []int64) ([]BlockResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "steem.get_blocks_with_ops")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(nums)))

	if len(nums) == 0 {
		return nil, nil
	}

	requests := make([]RPCRequest, 0, len(nums)*2)
	index := make(map[int64]int, len(nums))
	for i, n := range nums {
		if n <= 0 {
			return nil, fmt.Errorf("invalid block number %d", n)
		}
		if _, dup := index[n]; dup {
			return nil, fmt.Errorf("block %d requested twice in one batch", n)
		}
		index[n] = i
		requests = append(requests,
			RPCRequest{JSONRPC: "2.0", ID: blockRequestID(n), Method: api + ".get_block", Params: []interface{}{n}},
			RPCRequest{JSONRPC: "2.0", ID: opsRequestID(n), Method: api + ".get_ops_in_block", Params: []interface{}{n, false}},
		)
	}

	responses, err := c.rpc.CallBatch(ctx, requests)
	if err != nil {
		return nil, err
	}
	if len(responses) != len(requests) {
		return nil, &ProtocolError{
			Msg:       fmt.Sprintf("batch response has %d entries, expected %d", len(responses), len(requests)),
			Retryable: true,
		}
	}

	type pair struct {
		block, ops *RPCResponse
	}
	pairs := make([]pair, len(nums))
	for i := range responses {
		resp := &responses[i]
		num := resp.ID / 2
		pos, ok := index[num]
		if !ok || resp.ID < 0 {
			return nil, &ProtocolError{Msg: fmt.Sprintf("response id %d matches no request", resp.ID)}
		}
		slot := &pairs[pos].block
		if resp.ID%2 == 1 {
			slot = &pairs[pos].ops
		}
		if *slot != nil {
			return nil, &ProtocolError{Msg: fmt.Sprintf("duplicate response id %d", resp.ID)}
		}
		*slot = resp
	}

	results := make([]BlockResult, len(nums))
	for i, n := range nums {
		p := pairs[i]
		if p.block == nil || p.ops == nil {
			return nil, &ProtocolError{Msg: fmt.Sprintf("incomplete response pair for block %d", n)}
		}
		if p.block.ID/2 != p.ops.ID/2 {
			return nil, &ProtocolError{Msg: fmt.Sprintf("response ids %d and %d do not match", p.block.ID, p.ops.ID)}
		}

		results[i].Num = n
		switch {
		case p.block.Error != nil:
			results[i].Err = fmt.Errorf("get_block %d: %w", n, p.block.Error)
		case p.ops.Error != nil:
			results[i].Err = fmt.Errorf("get_ops_in_block %d: %w", n, p.ops.Error)
		default:
			results[i].Block, results[i].Err = decodeBlock(n, p.block.Result)
			if results[i].Err == nil {
				results[i].Ops, results[i].Err = decodeOps(n, p.ops.Result)
			}
		}
	}
	return results, nil
}

func isNullResult(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func decodeBlock(num int64, raw json.RawMessage) (*normalizer.RawBlock, error) {
	if isNullResult(raw) {
		return nil, fmt.Errorf("block %d: %w", num, ErrBlockNotFound)
	}
	var block normalizer.RawBlock
	if err := sonic.ConfigStd.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block %d: %w", num, err)
	}
	if block.BlockNum != 0 && block.BlockNum != num {
		return nil, fmt.Errorf("node returned block %d for request %d", block.BlockNum, num)
	}
	return &block, nil
}

func decodeOps(num int64, raw json.RawMessage) ([]normalizer.RawAppliedOp, error) {
	if isNullResult(raw) {
		return nil, nil
	}
	var ops []normalizer.RawAppliedOp
	if err := sonic.ConfigStd.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ops in block %d: %w", num, err)
	}
	return ops, nil
}
