package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	session        *service.SessionState
	cart           *service.CartState
	catalog        *service.Catalog
	orders         *service.OrderService
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	session *service.SessionState,
	cart *service.CartState,
	catalog *service.Catalog,
	orders *service.OrderService,
	requestTimeout time.Duration,
) *Handler {
	return &Handler{
		session:        session,
		cart:           cart,
		catalog:        catalog,
		orders:         orders,
		requestTimeout: requestTimeout,
		logger:         util.GetLogger().Named("api"),
	}
}

// AuthRequest is the body of sign-in and sign-up
type AuthRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AddToCartRequest is the body of POST /cart/items
type AddToCartRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// UpdateQuantityRequest is the body of PATCH /cart/items/:id
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(timeoutMiddleware(h.requestTimeout))
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.GET("/session", h.getSession)
		v1.POST("/auth/signin", h.signIn)
		v1.POST("/auth/signup", h.signUp)
		v1.POST("/auth/signout", h.signOut)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addToCart)
		v1.PATCH("/cart/items/:id", h.updateQuantity)
		v1.DELETE("/cart/items/:id", h.removeFromCart)

		v1.GET("/orders", h.listOrders)
		v1.POST("/checkout", h.checkout)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the session has been initialized
func (h *Handler) readinessCheck(c *gin.Context) {
	status := h.session.Status()
	if status == service.StatusUninitialized || status == service.StatusLoading {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "initializing",
			"session": status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to list products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// getProduct returns the product detail; ?size= selects a size other than the first
func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get product", err)
		return
	}

	detail := service.NewProductDetail(*product)
	if size := c.Query("size"); size != "" {
		if err := detail.Select(size); err != nil {
			h.writeError(c, "Invalid size", err)
			return
		}
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": h.session.Status(),
		"user":   h.session.User(),
	})
}

// signIn answers 202: the session lands when the backend reports it
func (h *Handler) signIn(c *gin.Context) {
	var req AuthRequest
	if !bind(c, &req) {
		return
	}

	if err := h.session.SignIn(c.Request.Context(), req.Email, req.Password); err != nil {
		var authErr *backend.AuthError
		if errors.As(err, &authErr) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Message, "code": authErr.Code})
			return
		}
		h.writeError(c, "Failed to sign in", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
}

func (h *Handler) signUp(c *gin.Context) {
	var req AuthRequest
	if !bind(c, &req) {
		return
	}

	if err := h.session.SignUp(c.Request.Context(), req.Email, req.Password); err != nil {
		var authErr *backend.AuthError
		if errors.As(err, &authErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": authErr.Message, "code": authErr.Code})
			return
		}
		h.writeError(c, "Failed to sign up", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
}

func (h *Handler) signOut(c *gin.Context) {
	if err := h.session.SignOut(c.Request.Context()); err != nil {
		h.writeError(c, "Failed to sign out", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": h.session.Status()})
}

func (h *Handler) getCart(c *gin.Context) {
	if err := h.cart.FetchCart(c.Request.Context()); err != nil {
		h.writeError(c, "Failed to fetch cart", err)
		return
	}
	h.writeCart(c, http.StatusOK)
}

func (h *Handler) addToCart(c *gin.Context) {
	var req AddToCartRequest
	if !bind(c, &req) {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), req.ProductID)
	if err != nil {
		h.writeError(c, "Failed to add to cart", err)
		return
	}
	size := req.Size
	if size == "" {
		size = product.DefaultSize()
	}

	if err := h.cart.AddToCart(c.Request.Context(), product, size, req.Quantity); err != nil {
		h.writeError(c, "Failed to add to cart", err)
		return
	}
	h.writeCart(c, http.StatusCreated)
}

func (h *Handler) updateQuantity(c *gin.Context) {
	var req UpdateQuantityRequest
	if !bind(c, &req) {
		return
	}

	if err := h.cart.UpdateQuantity(c.Request.Context(), c.Param("id"), req.Quantity); err != nil {
		h.writeError(c, "Failed to update quantity", err)
		return
	}
	h.writeCart(c, http.StatusOK)
}

func (h *Handler) removeFromCart(c *gin.Context) {
	if err := h.cart.RemoveFromCart(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "Failed to remove from cart", err)
		return
	}
	h.writeCart(c, http.StatusOK)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// checkout is a placeholder until payments exist
func (h *Handler) checkout(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "Checkout is not available yet"})
}

func (h *Handler) writeCart(c *gin.Context, status int) {
	items := h.cart.Items()
	if items == nil {
		items = []models.CartLine{}
	}
	c.JSON(status, gin.H{
		"items":   items,
		"total":   h.cart.Total().StringFixed(2),
		"loading": h.cart.Loading(),
	})
}

func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrLineNotFound), errors.Is(err, service.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidSize):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// timeoutMiddleware bounds every API call, including the backend round trips it triggers
func timeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
