package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskgate/internal/risk"
	"github.com/mbd888/riskgate/internal/validation"
)

// Handler provides the HTTP surface consumed by the payment path.
type Handler struct {
	gateway *Gateway
	store   risk.Store // nil when the audit trail is disabled
}

// NewHandler creates the risk HTTP handler.
func NewHandler(gateway *Gateway, store risk.Store) *Handler {
	return &Handler{gateway: gateway, store: store}
}

// RegisterRoutes sets up the risk endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	wallet := r.Group("/risk/wallet/:address", validation.AddressParamMiddleware())
	wallet.GET("", h.GetVerdict)
	wallet.GET("/decision", h.GetDecision)
	wallet.GET("/history", h.GetHistory)
}

// GetVerdict returns the full risk verdict for a wallet.
func (h *Handler) GetVerdict(c *gin.Context) {
	v, err := h.gateway.engine.Evaluate(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": v})
}

// GetDecision returns the allow/block decision for a wallet.
func (h *Handler) GetDecision(c *gin.Context) {
	d := h.gateway.Decide(c.Request.Context(), c.Param("address"))
	c.JSON(http.StatusOK, gin.H{"success": true, "data": d})
}

// GetHistory returns recent audited verdicts for a wallet.
func (h *Handler) GetHistory(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "verdict history is not enabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be an integer between 1 and 100"})
			return
		}
		limit = n
	}

	addr, err := validation.NormalizeAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	verdicts, err := h.store.ListByAddress(c.Request.Context(), addr, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load verdict history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": verdicts, "count": len(verdicts)})
}
