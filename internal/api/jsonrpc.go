package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/steemit/sbds/pkg/logging"
	"github.com/steemit/sbds/pkg/telemetry"
)

// Standard JSON-RPC error codes
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
	// ErrServerError is returned for handler errors without a code.
	ErrServerError = -32000
)

// maxBatch bounds the number of calls in one batch request.
const maxBatch = 100

// Error is a JSON-RPC error object. Handlers return it to choose the code
// sent to the client.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewError creates a JSON-RPC error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// MethodHandler serves one JSON-RPC method.
type MethodHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// JSONRPCHandler dispatches single and batch JSON-RPC requests.
type JSONRPCHandler struct {
	methods map[string]MethodHandler
	logger  *zap.Logger
}

// NewJSONRPCHandler creates a handler with no methods.
func NewJSONRPCHandler() *JSONRPCHandler {
	return &JSONRPCHandler{
		methods: make(map[string]MethodHandler),
		logger:  logging.WithComponent("jsonrpc"),
	}
}

// RegisterMethod registers a method handler
func (h *JSONRPCHandler) RegisterMethod(method string, handler MethodHandler) {
	h.methods[method] = handler
}

// Handle serves a request body holding one call or a batch array.
func (h *JSONRPCHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, NewError(ErrParseError, "Parse error")))
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var reqs []JSONRPCRequest
		if err := sonic.ConfigStd.Unmarshal(body, &reqs); err != nil {
			c.JSON(http.StatusOK, errorResponse(nil, NewError(ErrParseError, "Parse error")))
			return
		}
		if len(reqs) == 0 || len(reqs) > maxBatch {
			c.JSON(http.StatusOK, errorResponse(nil, NewError(ErrInvalidRequest, "Invalid batch size")))
			return
		}
		resps := make([]JSONRPCResponse, len(reqs))
		for i := range reqs {
			resps[i] = h.call(c.Request.Context(), reqs[i])
		}
		c.JSON(http.StatusOK, resps)
		return
	}

	var req JSONRPCRequest
	if err := sonic.ConfigStd.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, NewError(ErrParseError, "Parse error")))
		return
	}
	c.JSON(http.StatusOK, h.call(c.Request.Context(), req))
}

func (h *JSONRPCHandler) call(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, NewError(ErrInvalidRequest, "Invalid Request"))
	}
	handler, ok := h.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, &Error{Code: ErrMethodNotFound, Message: "Method not found", Data: req.Method})
	}

	ctx, span := telemetry.StartSpan(ctx, "jsonrpc."+req.Method)
	defer span.End()
	span.SetAttributes(attribute.String("rpc.method", req.Method))

	result, err := handler(ctx, req.Params)
	if err == nil {
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	}

	telemetry.Fail(span, err)

	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		h.logger.Error("JSON-RPC method failed", zap.String("method", req.Method), zap.Error(err))
		rpcErr = &Error{Code: ErrServerError, Message: "Server error", Data: err.Error()}
	}
	return errorResponse(req.ID, rpcErr)
}

func errorResponse(id interface{}, err *Error) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: err}
}
