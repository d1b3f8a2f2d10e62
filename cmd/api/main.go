package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iyyanarr/spp/internal/application"
	"github.com/iyyanarr/spp/internal/domain"
	"github.com/iyyanarr/spp/internal/infrastructure/erpnext"
	"github.com/iyyanarr/spp/internal/infrastructure/messaging"
	mongoRepo "github.com/iyyanarr/spp/internal/infrastructure/mongodb"
	"github.com/iyyanarr/spp/pkg/errors"
	"github.com/iyyanarr/spp/pkg/kafka"
	"github.com/iyyanarr/spp/pkg/logging"
	"github.com/iyyanarr/spp/pkg/metrics"
	"github.com/iyyanarr/spp/pkg/middleware"
	"github.com/iyyanarr/spp/pkg/mongodb"
	"github.com/iyyanarr/spp/pkg/resilience"
	"github.com/iyyanarr/spp/pkg/tracing"
)

const serviceName = "lot-processing-service"

func main() {
	// Setup logger
	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting lot-processing-service API")

	config := loadConfig()
	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	tracingConfig.Environment = getEnv("ENVIRONMENT", "development")
	tracingConfig.Enabled = getEnv("TRACING_ENABLED", "true") == "true"

	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		// Continue without tracing - don't exit
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "endpoint", tracingConfig.OTLPEndpoint)
	}

	// Initialize Prometheus metrics
	metricsConfig := metrics.DefaultConfig(serviceName)
	m := metrics.New(metricsConfig)
	logger.Info("Metrics initialized")

	// Initialize MongoDB for run history. The service stays up without it;
	// submits still work, only history persistence is lost.
	var historyRepo *mongoRepo.RunRepository
	mongoClient, err := mongodb.NewClient(ctx, config.MongoDB)
	if err != nil {
		logger.WithError(err).Warn("Failed to connect to MongoDB, run history disabled")
	} else {
		defer mongoClient.Close(ctx)
		historyRepo = mongoRepo.NewRunRepository(mongoClient.Database(), logger, m)
		if err := historyRepo.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to create run history indexes")
		}
		logger.Info("Connected to MongoDB", "database", config.MongoDB.Database)
	}

	// Initialize Kafka producer and event publisher
	kafkaProducer := kafka.NewProducer(config.Kafka)
	defer kafkaProducer.Close()
	eventPublisher := messaging.NewEventPublisher(kafkaProducer, logger, m)
	logger.Info("Kafka producer initialized", "brokers", config.Kafka.Brokers)

	// Initialize ERPNext gateway behind a circuit breaker
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("erpnext"), logger.Logger, m)
	var tokens erpnext.TokenProvider
	if config.ERPNext.CSRFToken != "" {
		tokens = erpnext.StaticToken(config.ERPNext.CSRFToken)
	}
	erpClient := erpnext.NewClient(config.ERPNext.Config, logger, breaker, m, tokens)
	logger.Info("ERPNext client initialized", "baseURL", config.ERPNext.Config.BaseURL)

	// Initialize application service
	serviceConfig := application.DefaultConfig()
	serviceConfig.RequireInspectionQty = config.RequireInspectionQty

	lotService := application.NewLotService(
		serviceConfig,
		erpClient,
		historyPortOrNil(historyRepo),
		eventPublisher,
		logger,
		m,
	)

	// Setup Gin router with middleware
	router := gin.New()
	middlewareConfig := middleware.DefaultConfig(serviceName, logger.Logger)
	middleware.Setup(router, middlewareConfig)

	router.Use(middleware.MetricsMiddleware(m))
	router.Use(middleware.SimpleTracingMiddleware(serviceName))

	router.NoRoute(middleware.NoRoute())
	router.NoMethod(middleware.NoMethod())

	// Health check endpoints
	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, func() error {
		readyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return erpClient.HealthCheck(readyCtx)
	}))

	// Metrics endpoint
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	// API v1 routes
	api := router.Group("/api/v1")
	{
		api.POST("/runs", createRunHandler(lotService, logger))

		runs := api.Group("/runs/:runId")
		{
			runs.GET("", getRunHandler(lotService, logger))
			runs.GET("/report", reportHandler(lotService, logger))
			runs.POST("/batch/scan", resolveBatchHandler(lotService, logger))
			runs.POST("/operations/scan", scanOperationHandler(lotService, logger))
			runs.DELETE("/operations/:assignmentId", removeAssignmentHandler(lotService, logger))
			runs.POST("/rejections", addRejectionHandler(lotService, logger))
			runs.DELETE("/rejections/:index", removeRejectionHandler(lotService, logger))
			runs.POST("/inspector/verify", verifyInspectorHandler(lotService, logger))
			runs.POST("/inspected-qty", setInspectedQtyHandler(lotService, logger))
			runs.POST("/submit", submitHandler(lotService, logger))
		}

		api.POST("/barcodes/employee/validate", validateBarcodeHandler(lotService, logger))
		api.GET("/defect-types", defectTypesHandler(lotService))
		api.GET("/history", recentHistoryHandler(lotService, logger))
		api.GET("/history/:runId", historyHandler(lotService, logger))
	}

	// Start server
	srv := &http.Server{
		Addr:         config.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
		}
	}()
	logger.Info("Server started", "addr", config.ServerAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
}

// Config holds application configuration
type Config struct {
	ServerAddr           string
	RequireInspectionQty bool
	MongoDB              *mongodb.Config
	Kafka                *kafka.Config
	ERPNext              ERPNextConfig
}

// ERPNextConfig extends the client config with the CSRF token source
type ERPNextConfig struct {
	Config    *erpnext.Config
	CSRFToken string
}

func loadConfig() *Config {
	return &Config{
		ServerAddr:           getEnv("SERVER_ADDR", ":8010"),
		RequireInspectionQty: getEnv("REQUIRE_INSPECTED_QTY", "false") == "true",
		MongoDB: &mongodb.Config{
			URI:            getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:       getEnv("MONGODB_DATABASE", "spp"),
			ConnectTimeout: 10 * time.Second,
			MaxPoolSize:    100,
			MinPoolSize:    10,
		},
		Kafka: &kafka.Config{
			Brokers:      []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			ClientID:     serviceName,
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: -1,
		},
		ERPNext: ERPNextConfig{
			Config: &erpnext.Config{
				BaseURL:   getEnv("ERPNEXT_URL", "http://localhost:8000"),
				APIKey:    getEnv("ERPNEXT_API_KEY", ""),
				APISecret: getEnv("ERPNEXT_API_SECRET", ""),
				Timeout:   30 * time.Second,
			},
			CSRFToken: getEnv("ERPNEXT_CSRF_TOKEN", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// historyPortOrNil avoids handing the service a typed nil repository
func historyPortOrNil(repo *mongoRepo.RunRepository) domain.RunHistoryRepository {
	if repo == nil {
		return nil
	}
	return repo
}

// outcomeStatus maps a terminal outcome to an HTTP status code
func outcomeStatus(kind domain.OutcomeKind) int {
	switch kind {
	case domain.OutcomeCompleted:
		return http.StatusOK
	case domain.OutcomeNetworkFailure:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// HTTP Handlers

func createRunHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			LotNo string `json:"lotNo" binding:"required,lot_no"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondValidationError("invalid request body", middleware.ValidationErrorFormatter(err))
			return
		}

		middleware.AddSpanAttributes(c, map[string]interface{}{
			"lot.number": req.LotNo,
		})

		run, err := service.CreateRun(c.Request.Context(), req.LotNo)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusCreated, run)
	}
}

func getRunHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		run, err := service.GetRun(c.Request.Context(), c.Param("runId"))
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func reportHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		report, err := service.Report(c.Request.Context(), c.Param("runId"))
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func resolveBatchHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		runID := c.Param("runId")
		middleware.AddSpanAttributes(c, map[string]interface{}{
			"run.id": runID,
		})

		run, err := service.ResolveBatch(c.Request.Context(), runID)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func scanOperationHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			Scan string `json:"scan" binding:"required,operation_scan"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondValidationError("invalid request body", middleware.ValidationErrorFormatter(err))
			return
		}

		middleware.AddSpanAttributes(c, map[string]interface{}{
			"operation.scan": req.Scan,
		})

		assignment, err := service.ScanOperation(c.Request.Context(), c.Param("runId"), req.Scan)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusCreated, assignment)
	}
}

func removeAssignmentHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		assignmentID, err := strconv.Atoi(c.Param("assignmentId"))
		if err != nil {
			responder.RespondValidationError("assignment id must be an integer", nil)
			return
		}

		run, err := service.RemoveAssignment(c.Request.Context(), c.Param("runId"), assignmentID)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func addRejectionHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			DefectType string `json:"defectType" binding:"required"`
			Qty        int    `json:"qty" binding:"required,gt=0"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondValidationError("invalid request body", middleware.ValidationErrorFormatter(err))
			return
		}

		run, err := service.AddRejection(c.Request.Context(), c.Param("runId"), req.DefectType, req.Qty)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func removeRejectionHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			responder.RespondValidationError("rejection index must be an integer", nil)
			return
		}

		run, err := service.RemoveRejection(c.Request.Context(), c.Param("runId"), index)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func verifyInspectorHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			Barcode string `json:"barcode" binding:"required,employee_barcode"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondValidationError("invalid request body", middleware.ValidationErrorFormatter(err))
			return
		}

		employee, err := service.VerifyInspector(c.Request.Context(), c.Param("runId"), req.Barcode)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, employee)
	}
}

func setInspectedQtyHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			Qty string `json:"qty" binding:"required"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondValidationError("invalid request body", middleware.ValidationErrorFormatter(err))
			return
		}

		run, err := service.SetInspectedQty(c.Request.Context(), c.Param("runId"), req.Qty)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func submitHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		runID := c.Param("runId")
		middleware.AddSpanAttributes(c, map[string]interface{}{
			"run.id": runID,
		})

		outcome, err := service.Submit(c.Request.Context(), runID)
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(outcomeStatus(outcome.Kind), gin.H{
			"runId":   runID,
			"outcome": outcome,
		})
	}
}

func validateBarcodeHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			Barcode string `json:"barcode" binding:"required"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondValidationError("invalid request body", middleware.ValidationErrorFormatter(err))
			return
		}

		if err := service.ValidateEmployeeBarcode(req.Barcode); err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"valid": true, "barcode": req.Barcode})
	}
}

func defectTypesHandler(service *application.LotService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"defectTypes": service.ListDefectTypes()})
	}
}

func recentHistoryHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		limit := 20
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
				limit = parsed
			}
		}

		var records []*domain.RunRecord
		var err error
		if lotNumber := c.Query("lotNo"); lotNumber != "" {
			records, err = service.HistoryByLot(c.Request.Context(), lotNumber, limit)
		} else {
			records, err = service.RecentHistory(c.Request.Context(), limit)
		}
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

func historyHandler(service *application.LotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		record, err := service.History(c.Request.Context(), c.Param("runId"))
		if err != nil {
			respondError(responder, err)
			return
		}

		c.JSON(http.StatusOK, record)
	}
}

func respondError(responder *middleware.ErrorResponder, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		responder.RespondWithAppError(appErr)
		return
	}
	responder.RespondInternalError(err)
}
