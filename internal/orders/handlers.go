package orders

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/weetoocode1/weetoo-trading-engine/internal/margin"
	"github.com/weetoocode1/weetoo-trading-engine/internal/position"
	"github.com/weetoocode1/weetoo-trading-engine/pkg/response"
)

// GinHandlers contains HTTP handlers for open-order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for open-order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to place a resting limit order
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

// ListOrdersHandler handles GET requests for the owner's open orders
// Query parameter: status
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		list, err := h.service.ListOrders(c.Param("room_id"), userID, c.Query("status"))
		response.Handle(c, list, err)
	}
}

// updateOrderRequest is the PATCH payload, dispatched on action
type updateOrderRequest struct {
	Action    string  `json:"action"`
	OrderID   string  `json:"order_id"`
	FillPrice float64 `json:"fill_price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

// UpdateOrderHandler handles PATCH requests carrying a cancel or fill action
// URL parameter: room_id
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
		if req.OrderID == "" {
			response.BadRequest(c, "order_id is required")
			return
		}

		roomID := c.Param("room_id")

		switch req.Action {
		case "cancel":
			order, err := h.service.CancelOrder(roomID, userID, req.OrderID)
			if err != nil {
				h.respondOrderError(c, err)
				return
			}
			response.OK(c, order)

		case "fill":
			order, pos, err := h.service.FillOrder(roomID, userID, &FillRequest{
				OrderID:   req.OrderID,
				FillPrice: req.FillPrice,
				Bid:       req.Bid,
				Ask:       req.Ask,
			})
			if err != nil {
				h.respondOrderError(c, err)
				return
			}
			response.OK(c, gin.H{"order": order, "position": pos})

		default:
			response.BadRequest(c, "action must be cancel or fill")
		}
	}
}

func (h *GinHandlers) respondOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		response.NotFound(c, "Order not found")
	case errors.Is(err, ErrOrderNotOpen),
		errors.Is(err, ErrNoFillPrice),
		errors.Is(err, margin.ErrInvalidEntryPrice),
		errors.Is(err, position.ErrInsufficientBalance):
		response.BadRequest(c, err.Error())
	case errors.Is(err, position.ErrRoomNotFound):
		response.NotFound(c, err.Error())
	default:
		response.Handle(c, nil, err)
	}
}
