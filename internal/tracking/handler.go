package tracking

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"logistics/internal/logger"
	"logistics/pkg/errors"
)

const defaultPageSize = 10

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

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		shipments := v1.Group("/shipments")
		{
			shipments.POST("", h.CreateShipment)
			shipments.GET("", h.ListShipments)
			shipments.GET("/stats", h.GetStats)
			shipments.GET("/order/:order_number", h.GetShipmentByOrder)
			shipments.GET("/:tracking_number", h.GetShipment)
			shipments.POST("/:tracking_number/events", h.AddEvent)
			shipments.PUT("/:tracking_number/status", h.UpdateStatus)
		}
	}
}

func (h *Handler) CreateShipment(c *gin.Context) {
	var req CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	shipment, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, shipment)
}

func (h *Handler) ListShipments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 || pageSize > 100 {
		pageSize = defaultPageSize
	}

	shipments, total, err := h.service.List(c.Request.Context(), ListFilter{
		Status: Status(c.Query("status")),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{
		Shipments: shipments,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
	})
}

func (h *Handler) GetShipment(c *gin.Context) {
	shipment, err := h.service.Get(c.Request.Context(), c.Param("tracking_number"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}

func (h *Handler) GetShipmentByOrder(c *gin.Context) {
	shipment, err := h.service.GetByOrder(c.Request.Context(), c.Param("order_number"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}

func (h *Handler) AddEvent(c *gin.Context) {
	var req AddEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ev, err := h.service.AddEvent(c.Request.Context(), c.Param("tracking_number"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	shipment, err := h.service.UpdateStatus(c.Request.Context(), c.Param("tracking_number"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"total":            total,
		"in_transit":       stats[StatusInTransit],
		"out_for_delivery": stats[StatusOutForDelivery],
		"delivered":        stats[StatusDelivered],
	})
}
