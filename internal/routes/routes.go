package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"travel-admin-backend/internal/config"
	handler "travel-admin-backend/internal/handlers"
	"travel-admin-backend/internal/middleware"
	"travel-admin-backend/internal/repository"
	"travel-admin-backend/internal/services/booking"
	service "travel-admin-backend/internal/services/reconciliation"
)

type Deps struct {
	DB             *gorm.DB
	Reconciliation *service.ReconciliationService
	Config         config.Config
	Log            logrus.FieldLogger
}

func RegisterRoutes(r *gin.Engine, d Deps) error {
	reconHandler := handler.NewReconciliationHandler(d.Reconciliation, d.Config.Reconciliation.MaxUploadBytes, d.Log)
	bookingHandler := handler.NewBookingHandler(
		booking.NewBookingService(repository.NewBookingRepository(d.DB), d.Log),
		d.Log,
	)

	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	healthHandler := handler.NewHealthHandler(sqlDB)

	api := r.Group("/api")

	// Health check
	api.GET("/health", healthHandler.Health)
	api.GET("/health/db", healthHandler.Database)

	authed := api.Group("")
	authed.Use(middleware.Auth([]byte(d.Config.Auth.JWTSecret)))

	reviewers := middleware.RequireRoles(d.Config.Auth.ReviewerRoles...)

	// Reconciliation job routes
	recon := authed.Group("/reconciliation")
	recon.Use(reviewers)
	recon.POST("/jobs", reconHandler.Upload)
	recon.GET("/jobs", reconHandler.ListJobs)
	recon.GET("/jobs/:jobId", reconHandler.GetJob)
	recon.GET("/jobs/:jobId/results", reconHandler.ListResults)
	recon.GET("/jobs/:jobId/stats", reconHandler.JobStats)
	recon.POST("/jobs/:jobId/bulk-approve", reconHandler.BulkApprove)

	// Result-level routes
	recon.GET("/results/:id", reconHandler.GetResult)
	recon.POST("/results/:id/approve", reconHandler.Approve)
	recon.POST("/results/:id/reject", reconHandler.Reject)
	recon.POST("/results/:id/reopen", middleware.RequireRoles(d.Config.Auth.AdminRole), reconHandler.Reopen)
	recon.GET("/results/:id/audit", reconHandler.Audit)

	// Booking routes
	bookings := authed.Group("/bookings")
	{
		bookings.GET("", bookingHandler.SearchBookings)
		bookings.GET("/:id", bookingHandler.GetBooking)
		bookings.POST("", reviewers, bookingHandler.CreateBooking)
		bookings.POST("/upload", reviewers, bookingHandler.UploadBookings)
	}
	return nil
}
