package delivery

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"adengine/internal/delivery/middleware"
	"adengine/internal/domain"
	"adengine/internal/usecase"
	"adengine/pkg/logger"

	"github.com/gin-gonic/gin"
)

// handles HTTP requests
type HTTPHandlers struct {
	deliveryService *usecase.DeliveryService
	reportService   *usecase.ReportService
	logger          *logger.Logger
}

// creates new HTTP handlers
func NewHTTPHandlers(
	deliveryService *usecase.DeliveryService,
	reportService *usecase.ReportService,
	logger *logger.Logger,
) *HTTPHandlers {
	return &HTTPHandlers{
		deliveryService: deliveryService,
		reportService:   reportService,
		logger:          logger,
	}
}

// trackRequest is the JSON body sent by the embed snippet.
type trackRequest struct {
	EventType   string          `json:"eventType"`
	AdID        json.RawMessage `json:"adId"`
	DeviceType  string          `json:"deviceType"`
	DeviceID    string          `json:"deviceId"`
	Partner     string          `json:"partner"`
	Metadata    json.RawMessage `json:"metadata"`
	Country     string          `json:"country"`
	Province    string          `json:"province"`
	City        string          `json:"city"`
	DeviceClass string          `json:"deviceClass"`
	Interests   []string        `json:"interests"`
}

// ServeAd runs targeting and the auction for one placement.
func (h *HTTPHandlers) ServeAd(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := c.GetString("request_id")

	visitor := domain.VisitorContext{
		Country:     c.Query("country"),
		Province:    c.Query("province"),
		City:        c.Query("city"),
		DeviceClass: c.Query("deviceClass"),
		Interests:   domain.ParseTargetingSet(c.Query("interests")),
		DeviceType:  c.Query("deviceType"),
		DeviceID:    c.Query("deviceId"),
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	}

	payload, err := h.deliveryService.Serve(ctx, c.Param("slotKey"), visitor, c.Query("category"))
	if err != nil {
		h.writeError(c, err, requestID)
		return
	}
	if payload == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, payload)
}

// TrackEvent records an impression, click or conversion.
func (h *HTTPHandlers) TrackEvent(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := c.GetString("request_id")

	var body trackRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid request body",
			"message":    err.Error(),
			"request_id": requestID,
		})
		return
	}

	adID, err := parseAdIDHint(body.AdID)
	if err != nil {
		h.writeError(c, err, requestID)
		return
	}

	result, err := h.deliveryService.Track(ctx, usecase.TrackRequest{
		SlotKey:   c.Param("slotKey"),
		EventType: body.EventType,
		AdID:      adID,
		Visitor: domain.VisitorContext{
			Country:     body.Country,
			Province:    body.Province,
			City:        body.City,
			DeviceClass: body.DeviceClass,
			Interests:   body.Interests,
			DeviceType:  body.DeviceType,
			DeviceID:    body.DeviceID,
			IPAddress:   c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
		},
		PartnerKey: body.Partner,
		Metadata:   body.Metadata,
	})
	if err != nil {
		h.writeError(c, err, requestID)
		return
	}

	response := gin.H{
		"success":  true,
		"eventId":  result.EventID,
		"billable": result.Billable,
		"valid":    result.Valid,
	}
	if result.InvalidReason != "" {
		response["invalidReason"] = result.InvalidReason
	}

	c.JSON(http.StatusOK, response)
}

// GetAdStats returns event totals for one ad.
func (h *HTTPHandlers) GetAdStats(c *gin.Context) {
	requestID := c.GetString("request_id")

	adID, err := parseAdIDParam(c.Param("id"))
	if err != nil {
		h.writeError(c, err, requestID)
		return
	}

	report, err := h.reportService.AdStats(c.Request.Context(), accountID(c), adID)
	if err != nil {
		h.writeError(c, err, requestID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       report,
		"request_id": requestID,
	})
}

// GetAdActivity returns a page of recent events for one ad.
func (h *HTTPHandlers) GetAdActivity(c *gin.Context) {
	requestID := c.GetString("request_id")

	adID, err := parseAdIDParam(c.Param("id"))
	if err != nil {
		h.writeError(c, err, requestID)
		return
	}

	// a missing or non-numeric limit falls back to the default page size
	var limit *int
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil {
		limit = &parsed
	}
	page, _ := strconv.Atoi(c.Query("page"))

	activity, err := h.reportService.AdActivity(c.Request.Context(), accountID(c), adID, usecase.ActivityQuery{
		Limit:     limit,
		Page:      page,
		EventType: c.Query("eventType"),
	})
	if err != nil {
		h.writeError(c, err, requestID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       activity.Data,
		"meta":       activity.Meta,
		"request_id": requestID,
	})
}

// HealthCheck returns the health status of the service
func (h *HTTPHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "adengine",
	})
}

// writeError maps domain errors to HTTP statuses; anything unknown is a 500.
func (h *HTTPHandlers) writeError(c *gin.Context, err error, requestID string) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, domain.ErrInvalidEventKind):
		status, message = http.StatusUnprocessableEntity, "Invalid event type"
	case errors.Is(err, domain.ErrInvalidAdID):
		status, message = http.StatusUnprocessableEntity, "Invalid ad id"
	case errors.Is(err, domain.ErrAdNotFound):
		status, message = http.StatusNotFound, "Ad not found"
	case errors.Is(err, domain.ErrForbidden):
		status, message = http.StatusForbidden, "Forbidden"
	default:
		h.logger.WithContext(c.Request.Context()).WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}

	c.JSON(status, gin.H{
		"error":      message,
		"request_id": requestID,
	})
}

// parseAdIDHint accepts a JSON number, a numeric string, null or nothing.
func parseAdIDHint(raw json.RawMessage) (uint, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, domain.ErrInvalidAdID
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0, nil
		}
	}

	id, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidAdID
	}
	return uint(id), nil
}

func parseAdIDParam(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidAdID
	}
	return uint(id), nil
}

func accountID(c *gin.Context) uint {
	value, _ := c.Get(middleware.AccountIDKey)
	id, _ := value.(uint)
	return id
}
