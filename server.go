package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/middlewares"
	"bitbucket.org/mmdatafocus/stockbook_backend/models"
	"bitbucket.org/mmdatafocus/stockbook_backend/utils"
	"bitbucket.org/mmdatafocus/stockbook_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

const sessionTTL = 24 * time.Hour

var tracer = otel.Tracer("stockbook-backend")

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	logger := config.GetLogger()

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "token", "X-Correlation-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(correlationMiddleware())
	r.Use(middlewares.SessionMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/auth/login", loginHandler(logger))

	r.POST("/invoices", createInvoiceHandler(logger))
	r.GET("/invoices", listInvoicesHandler())
	r.GET("/invoices/trash", listTrashedInvoicesHandler())
	r.GET("/invoices/:id", getInvoiceHandler())
	r.PUT("/invoices/:id", updateInvoiceHandler(logger))
	r.POST("/invoices/:id/trash", softDeleteInvoiceHandler(logger))
	r.POST("/invoices/:id/restore", restoreInvoiceHandler(logger))
	r.DELETE("/invoices/:id", permanentlyDeleteInvoiceHandler(logger))
	r.DELETE("/invoices", deleteAllInvoicesHandler(logger))
	r.DELETE("/admin/data", clearAllDataHandler(logger))

	r.POST("/products", createProductHandler())
	r.GET("/products", listProductsHandler())
	r.GET("/products/:id", getProductHandler())
	r.PUT("/products/:id", updateProductHandler())
	r.DELETE("/products/:id", deleteProductHandler())
	r.POST("/products/:id/recalculate", recalculateProductHandler(logger))
	r.POST("/products/recalculate", recalculateAllProductsHandler(logger))

	r.GET("/activity-logs", listActivityLogsHandler())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// Start listening first (Cloud Run needs the port open quickly),
	// then bring up dependencies.
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()
	logger.WithFields(logrus.Fields{"port": port}).Info("server.listening")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	if os.Getenv("ACTIVITY_TOPIC") != "" {
		if err := config.EnsureActivityTopic(dispatcherCtx); err != nil {
			logger.Errorf("could not ensure activity topic; dispatcher will retry publishes: %v", err)
		}
		dispatcher := workflow.NewOutboxDispatcher(config.GetDB(), logger)
		go dispatcher.Run(dispatcherCtx)
		logger.Info("outbox.dispatcher.started")
	} else {
		logger.Info("ACTIVITY_TOPIC not set; activity events stay in the outbox table")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("server.shutting_down")
	stopDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
}

func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.Request.Header.Get("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", correlationId)
		c.Next()
	}
}

// obtainInvoiceLock takes a best-effort redis lock per invoice so two users
// editing the same invoice fail fast instead of queueing on the posting
// lock. Redis being down never blocks the operation; the MySQL advisory
// lock inside the transaction is the correctness guarantee.
func obtainInvoiceLock(ctx context.Context, logger *logrus.Logger, invoiceId int) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:invoice:%d", invoiceId), 30*time.Second, nil)
	if err != nil {
		if err != redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{"invoice_id": invoiceId}).Warn("error obtaining invoice lock; proceeding: " + err.Error())
		}
		return nil
	}
	return lock
}

func releaseInvoiceLock(ctx context.Context, logger *logrus.Logger, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		logger.Warn("failed to release invoice lock: " + err.Error())
	}
}

func respondError(c *gin.Context, err error) {
	var (
		duplicateErr    *models.DuplicateInvoiceNumberError
		notFoundErr     *models.ProductNotFoundError
		negStockErr     *models.NegativeStockError
		invalidStateErr *models.InvalidStateError
		validationErrs  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &duplicateErr), errors.As(err, &negStockErr), errors.As(err, &invalidStateErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &notFoundErr), errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validationErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func loginHandler(logger *logrus.Logger) gin.HandlerFunc {
	type loginRequest struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		// Without redis the middleware can never resolve a session, so a
		// token issued here would 401 on every later request.
		if config.GetRedisDB() == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		user, err := models.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err := utils.ComparePassword(user.Password, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token := uuid.NewString()
		session := middlewares.Session{UserId: user.ID, UserEmail: user.Email, UserName: user.Name}
		if err := config.SetRedisObject("Session:"+token, session, sessionTTL); err != nil {
			config.LogError(logger, "server.go", "loginHandler", "SetRedisObject", user.ID, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func createInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "createInvoice")
		defer span.End()

		var input models.NewInvoice
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		invoice, err := models.CreateInvoice(ctx, &input)
		if err != nil {
			config.LogError(logger, "server.go", "createInvoiceHandler", "CreateInvoice", input.InvoiceNumber, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"invoice_id":     invoice.ID,
			"invoice_number": invoice.InvoiceNumber,
		})
	}
}

func updateInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		var input models.NewInvoice
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		lock := obtainInvoiceLock(ctx, logger, id)
		defer releaseInvoiceLock(ctx, logger, lock)

		invoice, err := models.UpdateInvoice(ctx, id, &input)
		if err != nil {
			config.LogError(logger, "server.go", "updateInvoiceHandler", "UpdateInvoice", id, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func invoiceTransitionHandler(logger *logrus.Logger, funcName string,
	transition func(ctx context.Context, invoiceId int) (*models.Invoice, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}

		ctx := c.Request.Context()
		lock := obtainInvoiceLock(ctx, logger, id)
		defer releaseInvoiceLock(ctx, logger, lock)

		invoice, err := transition(ctx, id)
		if err != nil {
			config.LogError(logger, "server.go", funcName, "transition", id, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func softDeleteInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return invoiceTransitionHandler(logger, "softDeleteInvoiceHandler", models.SoftDeleteInvoice)
}

func restoreInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return invoiceTransitionHandler(logger, "restoreInvoiceHandler", models.RestoreInvoice)
}

func permanentlyDeleteInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return invoiceTransitionHandler(logger, "permanentlyDeleteInvoiceHandler", models.PermanentlyDeleteInvoice)
}

func deleteAllInvoicesHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := workflow.DeleteAllInvoices(c.Request.Context(), logger); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func clearAllDataHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := workflow.ClearAllData(c.Request.Context(), logger); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		invoice, err := models.GetInvoice(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func listInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var invoiceType *models.InvoiceType
		if v := c.Query("type"); v != "" {
			t := models.InvoiceType(v)
			invoiceType = &t
		}
		invoices, err := models.GetInvoices(c.Request.Context(), invoiceType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoices)
	}
}

func listTrashedInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		invoices, err := models.GetTrashedInvoices(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoices)
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.UpdateProduct(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func deleteProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}
		product, err := models.DeleteProduct(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}
		product, err := models.GetProduct(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var category, name *string
		if v := c.Query("category"); v != "" {
			category = &v
		}
		if v := c.Query("name"); v != "" {
			name = &v
		}
		products, err := models.GetProducts(c.Request.Context(), category, name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, products)
	}
}

func recalculateProductHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}
		if err := workflow.RecalculateProductStock(c.Request.Context(), logger, id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func recalculateAllProductsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := workflow.RecalculateAllProducts(c.Request.Context(), logger); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func listActivityLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var referenceType *string
		if v := c.Query("reference_type"); v != "" {
			referenceType = &v
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		logs, err := models.GetActivityLogs(c.Request.Context(), referenceType, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}
