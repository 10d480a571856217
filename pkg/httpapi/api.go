// Package httpapi adapts dispatch.Manager onto the HTTP/JSON surface
// described in the dispatcher's API contract: POST /inference and the
// read-only /workers endpoints.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inferd/dispatcher/internal/inference"
	"github.com/inferd/dispatcher/pkg/dispatch"
)

// InferencePath is the path of the inference dispatch endpoint.
const InferencePath = "/inference"

// API wires Manager onto gin routes.
type API struct {
	manager *dispatch.Manager
	logger  *dispatch.Logger
}

// NewAPI builds an API bound to manager.
func NewAPI(manager *dispatch.Manager, logger *dispatch.Logger) *API {
	return &API{manager: manager, logger: logger}
}

// Register adds the dispatcher's routes to route.
func (a *API) Register(route gin.IRoutes) {
	route.POST(InferencePath, a.Inference)
	route.GET("/workers", a.Workers)
	route.GET("/workers/_status", a.WorkersStatus)
	route.GET("/workers/_info", a.WorkersInfo)
}

type inferenceRequest struct {
	Type  inference.TaskType  `json:"type"`
	TopN  uint32              `json:"top_n,omitempty"`
	Text  string              `json:"text,omitempty"`
	Image *inference.B64Image `json:"image,omitempty"`
}

// inferenceResponse is the `{inference, duration_secs}` shape the API
// contract names: Inference (spec's ComputeInference result) plus the
// model's own compute duration in seconds (Result.Duration), not the
// manager's RPC round-trip time.
type inferenceResponse struct {
	Inference   inference.Result `json:"inference"`
	DurationSec float32          `json:"duration_secs"`
}

// Inference handles POST /inference: decode, dispatch, respond.
func (a *API) Inference(c *gin.Context) {
	var req inferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	task := inference.Task{
		InferenceType: inference.TaskSpec{Type: req.Type, TopN: req.TopN},
		Text:          req.Text,
		Image:         req.Image,
	}

	ctx := dispatch.WithTraceID(c.Request.Context())
	result, _, err := a.manager.Dispatch(ctx, task)
	if err != nil {
		a.logger.Error("dispatch failed", "error", err)
		errorResponse(c, statusForError(err), err)
		return
	}

	c.JSON(http.StatusOK, inferenceResponse{Inference: result, DurationSec: result.Duration})
}

// Workers handles GET /workers: the partial-handle roster.
func (a *API) Workers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": a.manager.Workers()})
}

// WorkersStatus handles GET /workers/_status: per-handle pool status.
func (a *API) WorkersStatus(c *gin.Context) {
	status := a.manager.AllStatus()
	out := make(map[string]string, len(status))
	for h, s := range status {
		out[h.String()] = s.String()
	}
	c.JSON(http.StatusOK, gin.H{"status": out})
}

// WorkersInfo handles GET /workers/_info: reqs_served fan-out via GetStats.
func (a *API) WorkersInfo(c *gin.Context) {
	stats, err := a.manager.AllStats(c.Request.Context())
	if err != nil {
		errorResponse(c, statusForError(err), err)
		return
	}
	out := make(map[string]uint64, len(stats))
	for h, n := range stats {
		out[h.String()] = n
	}
	c.JSON(http.StatusOK, gin.H{"workers": out})
}

func errorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"errors": []string{err.Error()}})
}

// statusForError maps a dispatch-layer error onto the HTTP contract.
func statusForError(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrAllBusy), errors.Is(err, dispatch.ErrCapacityExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrSpawnTimeout):
		return http.StatusInternalServerError
	default:
		var rpcErr *dispatch.RpcFailureError
		var inferErr *dispatch.InferenceFailureError
		if errors.As(err, &rpcErr) || errors.As(err, &inferErr) {
			return http.StatusInternalServerError
		}
		return http.StatusInternalServerError
	}
}
