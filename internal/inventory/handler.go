package inventory

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"logistics/internal/logger"
	"logistics/pkg/errors"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return false
	}
	return true
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		warehouses := v1.Group("/warehouses")
		{
			warehouses.POST("", h.CreateWarehouse)
			warehouses.GET("", h.ListWarehouses)
			warehouses.GET("/:id/inventory", h.WarehouseInventory)
		}

		inventory := v1.Group("/inventory")
		{
			inventory.POST("", h.CreateItem)
			inventory.GET("", h.ListItems)
			inventory.GET("/low-stock", h.LowStock)
			inventory.GET("/transactions", h.Transactions)
			inventory.POST("/check", h.Check)
			inventory.POST("/reserve", h.Reserve)
			inventory.POST("/release", h.Release)
			inventory.POST("/adjust", h.Adjust)
		}
	}
}

func (h *Handler) CreateWarehouse(c *gin.Context) {
	var req CreateWarehouseRequest
	if !h.bindJSON(c, &req) {
		return
	}
	w, err := h.service.CreateWarehouse(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) ListWarehouses(c *gin.Context) {
	out, err := h.service.ListWarehouses(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) WarehouseInventory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("message", "invalid warehouse id")))
		return
	}
	out, err := h.service.ListItems(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if !h.bindJSON(c, &req) {
		return
	}
	item, err := h.service.CreateItem(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) ListItems(c *gin.Context) {
	out, err := h.service.ListItems(c.Request.Context(), 0)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) LowStock(c *gin.Context) {
	out, err := h.service.LowStock(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Transactions(c *gin.Context) {
	out, err := h.service.Transactions(c.Request.Context(), c.Query("order_number"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Check(c *gin.Context) {
	var req CheckRequest
	if !h.bindJSON(c, &req) {
		return
	}
	resp, err := h.service.Check(c.Request.Context(), req.Items)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Reserve(c *gin.Context) {
	var req ReserveRequest
	if !h.bindJSON(c, &req) {
		return
	}
	outcomes, err := h.service.Reserve(c.Request.Context(), req.OrderNumber, req.Items)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_number": req.OrderNumber, "results": outcomes})
}

func (h *Handler) Release(c *gin.Context) {
	orderNumber := c.Query("order_number")
	if orderNumber == "" {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("message", "order_number is required")))
		return
	}
	released, err := h.service.Release(c.Request.Context(), orderNumber)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_number": orderNumber, "released": released})
}

func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if !h.bindJSON(c, &req) {
		return
	}
	item, err := h.service.Adjust(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
