package api

import (
	"example.com/backstage/services/orderbot/internal/services"
	"example.com/backstage/services/orderbot/internal/tracing"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// OrderHandler serves read and cancel requests for persisted orders
type OrderHandler struct {
	orders *services.OrderService
	tracer tracing.Tracer
}

// NewOrderHandler creates an order handler
func NewOrderHandler(orders *services.OrderService, tracer tracing.Tracer) *OrderHandler {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &OrderHandler{orders: orders, tracer: tracer}
}

// orderError maps service errors to API errors
func orderError(err error) error {
	if errors.Is(err, services.ErrOrderNotFound) {
		return NewError("order not found", http.StatusNotFound, "ORDER_NOT_FOUND")
	}
	if rejection, ok := services.IsRejection(err); ok {
		return NewError(rejection.Message, http.StatusConflict, "ORDER_REJECTED")
	}
	if errors.Is(err, services.ErrSearchDisabled) {
		return NewError(err.Error(), http.StatusServiceUnavailable, "SEARCH_DISABLED")
	}
	return err
}

// HandleGetOrder returns an order and its lines
func (h *OrderHandler) HandleGetOrder(c *gin.Context) {
	details, err := h.orders.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, orderError(err))
		return
	}
	c.JSON(http.StatusOK, details)
}

// HandleGetStatus returns the status of an order
func (h *OrderHandler) HandleGetStatus(c *gin.Context) {
	order, err := h.orders.Status(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, orderError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tracking_code":         order.TrackingCode,
		"status":                order.Status,
		"updated_at":            order.UpdatedAt,
		"estimated_delivery_at": order.EstimatedDeliveryAt,
	})
}

// HandleCancel cancels an order and restores its stock
func (h *OrderHandler) HandleCancel(c *gin.Context) {
	result, err := h.orders.Cancel(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, orderError(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleClientStats returns the order statistics of a client
func (h *OrderHandler) HandleClientStats(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, NewValidationError("client id must be a UUID"))
		return
	}

	stats, err := h.orders.Stats(c.Request.Context(), clientID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleSearch runs a full-text search over indexed orders
func (h *OrderHandler) HandleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		writeError(c, NewValidationError("query parameter q is required"))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, NewValidationError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	txn := h.tracer.StartTransaction("api-search-orders")
	defer h.tracer.EndTransaction(txn)
	h.tracer.AddAttribute(txn, "query", query)

	results, err := h.orders.Search(c.Request.Context(), query, limit)
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, orderError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// RegisterRoutes registers the order routes
func (h *OrderHandler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	v1.GET("/orders", h.HandleSearch)
	v1.GET("/orders/:code", h.HandleGetOrder)
	v1.GET("/orders/:code/status", h.HandleGetStatus)
	v1.POST("/orders/:code/cancel", h.HandleCancel)
	v1.GET("/clients/:id/stats", h.HandleClientStats)
}
