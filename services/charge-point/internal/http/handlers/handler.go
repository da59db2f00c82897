// Package handlers implements the diagnostics API endpoints.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/hostio"
	"chargepoint/services/charge-point/internal/service"
)

// Link reports the state of the central system connection.
type Link interface {
	Connected() bool
}

// Handler serves the diagnostics API. Mutations run on the driving loop.
type Handler struct {
	logger   *zap.Logger
	loop     service.Dispatcher
	cp       *service.ChargePoint
	io       map[int]*hostio.VirtualConnector
	link     Link
	validate *validator.Validate
}

// NewHandler ctor. io maps connector ids to their virtual inputs.
func NewHandler(logger *zap.Logger, loop service.Dispatcher, cp *service.ChargePoint, io map[int]*hostio.VirtualConnector, link Link) *Handler {
	return &Handler{
		logger:   logger,
		loop:     loop,
		cp:       cp,
		io:       io,
		link:     link,
		validate: validator.New(),
	}
}

// RegisterRoutes attaches the endpoints. guard protects the mutating routes.
func (h *Handler) RegisterRoutes(r *gin.Engine, guard gin.HandlerFunc) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/connectors", h.ListConnectors)
		api.GET("/connectors/:id", h.GetConnector)

		ops := api.Group("/connectors/:id", guard)
		ops.POST("/session", h.BeginSession)
		ops.DELETE("/session", h.EndSession)
		ops.PUT("/availability", h.SetAvailability)
		ops.PUT("/io", h.SetIO)
		ops.POST("/unlock", h.Unlock)
	}
}

func (h *Handler) connectorID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connector id"})
		return 0, false
	}
	if _, ok := h.cp.Snapshots().Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connector not found"})
		return 0, false
	}
	return id, true
}

// dispatch runs fn on the driving loop and answers 503 when the loop is gone.
func (h *Handler) dispatch(c *gin.Context, fn func()) bool {
	if err := h.loop.Do(c.Request.Context(), fn); err != nil {
		h.logger.Warn("api command not executed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "charge point is shutting down"})
		return false
	}
	return true
}
