package engine

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/weetoocode1/weetoo-trading-engine/internal/margin"
	"github.com/weetoocode1/weetoo-trading-engine/internal/position"
	"github.com/weetoocode1/weetoo-trading-engine/pkg/response"
)

// GinHandlers contains HTTP handlers for scheduled-order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for scheduled-order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to create scheduled orders
// URL parameter: room_id
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		if errs := req.Validate(); len(errs) > 0 {
			response.ValidationFailed(c, errs)
			return
		}

		order, err := h.service.CreateOrder(c.Param("room_id"), userID, &req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for the owner's scheduled orders
// Query parameters: status, limit, offset
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		limit := parseIntDefault(c.Query("limit"), 50)
		if limit < 1 || limit > 200 {
			limit = 50
		}
		offset := parseIntDefault(c.Query("offset"), 0)
		if offset < 0 {
			offset = 0
		}

		orders, err := h.service.ListOrders(c.Param("room_id"), userID, c.Query("status"), limit, offset)
		response.Handle(c, orders, err)
	}
}

// updateOrderRequest is the PATCH payload, dispatched on action
type updateOrderRequest struct {
	Action       string  `json:"action"`
	CurrentPrice float64 `json:"current_price"`
}

// UpdateOrderHandler handles PATCH requests carrying a cancel or execute action
// URL parameters: room_id, order_id
func (h *GinHandlers) UpdateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		var req updateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		roomID := c.Param("room_id")
		orderID := c.Param("order_id")

		switch req.Action {
		case "cancel":
			order, err := h.service.CancelOrder(roomID, userID, orderID)
			if err != nil {
				h.respondOrderError(c, err)
				return
			}
			response.OK(c, order)

		case "execute":
			// Ownership check before handing off to the shared execution path
			order, err := h.service.GetOrder(roomID, userID, orderID)
			if err != nil {
				response.Handle(c, nil, err)
				return
			}
			if order == nil {
				response.NotFound(c, "Order not found")
				return
			}

			result, err := h.service.ExecuteOrder(c.Request.Context(), roomID, orderID, req.CurrentPrice)
			if err != nil {
				h.respondExecuteError(c, err)
				return
			}
			response.OK(c, result)

		default:
			response.BadRequest(c, "action must be cancel or execute")
		}
	}
}

// DeleteOrderHandler handles DELETE requests, owner-scoped hard delete
// URL parameters: room_id, order_id
func (h *GinHandlers) DeleteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		err := h.service.DeleteOrder(c.Param("room_id"), userID, c.Param("order_id"))
		if err != nil {
			h.respondOrderError(c, err)
			return
		}

		response.OK(c, gin.H{"deleted": true})
	}
}

// executeRequest is the trusted execution payload; the price is optional
type executeRequest struct {
	CurrentPrice float64 `json:"current_price"`
}

// ExecuteOrderHandler handles POST requests from the scheduler. Missing,
// terminal and concurrently-claimed orders answer 200 so duplicate ticks are
// harmless; only genuine execution failures surface as errors.
// URL parameters: room_id, order_id
func (h *GinHandlers) ExecuteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req executeRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.BadRequest(c, "Invalid request body")
				return
			}
		}

		result, err := h.service.ExecuteOrder(
			c.Request.Context(), c.Param("room_id"), c.Param("order_id"), req.CurrentPrice)
		if err != nil {
			h.respondExecuteError(c, err)
			return
		}

		response.OK(c, result)
	}
}

func (h *GinHandlers) respondOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		response.NotFound(c, "Order not found")
	case errors.Is(err, ErrOrderTerminal):
		response.BadRequest(c, err.Error())
	default:
		response.Handle(c, nil, err)
	}
}

func (h *GinHandlers) respondExecuteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotReady),
		errors.Is(err, margin.ErrInvalidEntryPrice),
		errors.Is(err, position.ErrInsufficientBalance):
		response.BadRequest(c, err.Error())
	case errors.Is(err, position.ErrRoomNotFound):
		response.NotFound(c, err.Error())
	default:
		response.Handle(c, nil, err)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
