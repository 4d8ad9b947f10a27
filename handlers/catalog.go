package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerkean/gnizde.4ko/cache"
	"github.com/nerkean/gnizde.4ko/ledger"
	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CatalogHandler struct {
	products *repository.ProductStore
	cache    *cache.ProductCache
	logger   *zap.Logger
}

func NewCatalogHandler(products *repository.ProductStore, productCache *cache.ProductCache, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{products: products, cache: productCache, logger: logger}
}

func pageParams(c *gin.Context, defaultLimit int) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		limit = defaultLimit
	}
	return ledger.ClampPage(page, limit)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// ListProducts serves active products only.
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "ListProducts")
	defer span.End()

	active := true
	filter := models.ProductFilter{
		Query:    strings.TrimSpace(c.Query("q")),
		Category: strings.TrimSpace(c.Query("category")),
		Active:   &active,
	}
	page, limit := pageParams(c, 12)

	total, err := h.products.Count(ctx, filter)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	items, err := h.products.List(ctx, filter, page, limit)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.Int("products.count", len(items)))
	c.JSON(http.StatusOK, gin.H{"page": page, "limit": limit, "total": total, "items": items})
}

func (h *CatalogHandler) GetProduct(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "GetProduct")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	span.SetAttributes(attribute.Int64("product.id", id))

	if p := h.cache.Get(ctx, id); p != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		c.JSON(http.StatusOK, p)
		return
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	p, err := h.products.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !p.Active) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get product", zap.Int64("product_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.cache.Set(ctx, p)
	c.JSON(http.StatusOK, p)
}
