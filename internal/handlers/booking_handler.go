package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"travel-admin-backend/internal/middleware"
	"travel-admin-backend/internal/services/booking"
)

type BookingHandler struct {
	service *booking.BookingService
	log     logrus.FieldLogger
}

func NewBookingHandler(s *booking.BookingService, log logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{service: s, log: log}
}

func (h *BookingHandler) fail(c *gin.Context, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		h.log.WithField("request_id", middleware.GetRequestID(c)).Errorf("%s %s: %+v", c.Request.Method, c.FullPath(), err)
	}
	RespondError(c, err)
}

func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var payload struct {
		BookingCode      string `json:"booking_code"` // optional
		PassengerName    string `json:"passenger_name"`
		Route            string `json:"route"`
		TravelDate       string `json:"travel_date"` // "yyyy-mm-dd" or "dd-mm-yyyy"
		TicketNumber     string `json:"ticket_number"`
		AirlineReference string `json:"airline_reference"`
		FareAmount       string `json:"fare_amount"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	b, err := h.service.Create(c.Request.Context(), booking.NewBooking{
		BookingCode:      payload.BookingCode,
		PassengerName:    payload.PassengerName,
		Route:            payload.Route,
		TravelDate:       payload.TravelDate,
		TicketNumber:     payload.TicketNumber,
		AirlineReference: payload.AirlineReference,
		FareAmount:       payload.FareAmount,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "booking created", "booking": b})
}

func (h *BookingHandler) UploadBookings(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "file required")
		return
	}
	defer file.Close()

	h.log.WithFields(logrus.Fields{
		"file": header.Filename,
		"size": header.Size,
	}).Info("booking import received")

	sum, err := h.service.Import(c.Request.Context(), file)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file":    header.Filename,
		"summary": sum,
	})
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	b, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// SearchBookings backs the reviewer's manual override picker.
func (h *BookingHandler) SearchBookings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := h.service.Search(c.Request.Context(), c.Query("q"), c.Query("travel_date"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
