package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/steemit/sbds/internal/cache"
	"github.com/steemit/sbds/internal/indexer"
	"github.com/steemit/sbds/internal/models"
	"github.com/steemit/sbds/pkg/logging"
)

// StatusSource exposes the current run summary.
type StatusSource interface {
	Snapshot() indexer.Summary
}

// BlockReader reads stored blocks.
type BlockReader interface {
	GetHead(ctx context.Context) (*models.Block, error)
	GetBlock(ctx context.Context, num int64) (*models.Block, error)
}

// FailureLister lists registered block failures.
type FailureLister interface {
	Failures(ctx context.Context) ([]cache.Failure, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the read-only views the status API serves. Any of them may be
// nil.
type Deps struct {
	Status   StatusSource
	Blocks   BlockReader
	Failures FailureLister
	Database HealthChecker
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	deps    Deps
	logger  *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	router := &Router{
		handler: NewJSONRPCHandler(),
		deps:    deps,
		logger:  logging.WithComponent("api-router"),
	}

	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.GET("/status", r.statusHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// JSON-RPC endpoint
	engine.POST("/", r.handler.Handle)
}

func (r *Router) registerMethods() {
	r.handler.RegisterMethod("sbds.db_head_state", r.dbHeadState)
	r.handler.RegisterMethod("sbds.get_status", r.getStatus)
	r.handler.RegisterMethod("sbds.get_block", r.getBlock)
	r.handler.RegisterMethod("sbds.get_failed_blocks", r.getFailedBlocks)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	if r.deps.Database != nil {
		if err := r.deps.Database.Health(c.Request.Context()); err != nil {
			r.logger.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "ERROR",
				"service": "sbds",
				"error":   err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"service": "sbds",
	})
}

func (r *Router) snapshot() indexer.Summary {
	if r.deps.Status == nil {
		return indexer.Summary{}
	}
	return r.deps.Status.Snapshot()
}

// statusHandler serves the run summary with the stored head.
func (r *Router) statusHandler(c *gin.Context) {
	head, err := r.headState(c.Request.Context())
	if err != nil {
		r.logger.Warn("Failed to read head state", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": r.snapshot(),
		"head":    head,
	})
}

// HeadState describes the highest stored block.
type HeadState struct {
	Block int64     `json:"db_head_block"`
	Time  time.Time `json:"db_head_time"`
	Age   int64     `json:"db_head_age"`
}

func (r *Router) headState(ctx context.Context) (*HeadState, error) {
	if r.deps.Blocks == nil {
		return nil, nil
	}
	block, err := r.deps.Blocks.GetHead(ctx)
	if err != nil || block == nil {
		return nil, err
	}
	return &HeadState{
		Block: block.BlockNum,
		Time:  block.Timestamp,
		Age:   int64(time.Since(block.Timestamp).Seconds()),
	}, nil
}

// dbHeadState returns database head state
func (r *Router) dbHeadState(ctx context.Context, params json.RawMessage) (interface{}, error) {
	head, err := r.headState(ctx)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return HeadState{}, nil
	}
	return head, nil
}

func (r *Router) getStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return r.snapshot(), nil
}

func (r *Router) getBlock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if r.deps.Blocks == nil {
		return nil, NewError(ErrInternalError, "block storage unavailable")
	}
	var args []int64
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 || args[0] < 1 {
		return nil, NewError(ErrInvalidParams, "expected [block_num]")
	}
	block, err := r.deps.Blocks.GetBlock(ctx, args[0])
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, NewError(ErrInvalidParams, "block not stored")
	}
	return block, nil
}

func (r *Router) getFailedBlocks(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if r.deps.Failures == nil {
		return []cache.Failure{}, nil
	}
	failures, err := r.deps.Failures.Failures(ctx)
	if err != nil {
		return nil, err
	}
	if failures == nil {
		failures = []cache.Failure{}
	}
	return failures, nil
}
