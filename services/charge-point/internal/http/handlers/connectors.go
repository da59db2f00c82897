package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/hostio"
)

// Health reports liveness and the central system link.
func (h *Handler) Health(c *gin.Context) {
	connected := false
	if h.link != nil {
		connected = h.link.Connected()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"charge_point_id": h.cp.ID(),
		"connected":       connected,
		"live_meter_logs": h.cp.Snapshots().LiveLogs(),
	})
}

// ListConnectors returns every connector snapshot.
func (h *Handler) ListConnectors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.cp.Snapshots().All()})
}

// GetConnector returns one snapshot with its virtual inputs.
func (h *Handler) GetConnector(c *gin.Context) {
	id, ok := h.connectorID(c)
	if !ok {
		return
	}
	snap, _ := h.cp.Snapshots().Get(id)
	body := gin.H{"data": snap}
	if v, ok := h.io[id]; ok {
		body["io"] = v.Readings()
	}
	c.JSON(http.StatusOK, body)
}

// BeginSession POST /api/connectors/:id/session
func (h *Handler) BeginSession(c *gin.Context) {
	var req struct {
		IDTag string `json:"id_tag" validate:"max=20"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := h.connectorID(c)
	if !ok {
		return
	}

	var err error
	if !h.dispatch(c, func() { err = h.cp.BeginSession(id, req.IDTag) }) {
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "session started", "connector_id": id})
}

// EndSession DELETE /api/connectors/:id/session
func (h *Handler) EndSession(c *gin.Context) {
	id, ok := h.connectorID(c)
	if !ok {
		return
	}
	var err error
	if !h.dispatch(c, func() { err = h.cp.EndSession(id) }) {
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "session ended", "connector_id": id})
}

// SetAvailability PUT /api/connectors/:id/availability
func (h *Handler) SetAvailability(c *gin.Context) {
	var req struct {
		Available *bool `json:"available" validate:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := h.connectorID(c)
	if !ok {
		return
	}

	var (
		status string
		err    error
	)
	if !h.dispatch(c, func() {
		s, cerr := h.cp.ChangeAvailability(id, *req.Available)
		status, err = string(s), cerr
	}) {
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "connector_id": id})
}

// SetIO PUT /api/connectors/:id/io
func (h *Handler) SetIO(c *gin.Context) {
	var req hostio.IO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := h.connectorID(c)
	if !ok {
		return
	}
	v, ok := h.io[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connector has no virtual inputs"})
		return
	}

	v.Apply(req)
	h.logger.Info("virtual inputs updated via API", zap.Int("connector_id", id))
	c.JSON(http.StatusOK, gin.H{"io": v.Readings()})
}

// Unlock POST /api/connectors/:id/unlock
func (h *Handler) Unlock(c *gin.Context) {
	id, ok := h.connectorID(c)
	if !ok {
		return
	}
	var (
		status string
		err    error
	)
	if !h.dispatch(c, func() {
		s, uerr := h.cp.Unlock(c.Request.Context(), id)
		status, err = string(s), uerr
	}) {
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "status": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "connector_id": id})
}
