package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerkean/gnizde.4ko/cache"
	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxSlugAttempts = 100

type AdminProductHandler struct {
	products *repository.ProductStore
	cache    *cache.ProductCache
	logger   *zap.Logger
}

func NewAdminProductHandler(products *repository.ProductStore, productCache *cache.ProductCache, logger *zap.Logger) *AdminProductHandler {
	return &AdminProductHandler{products: products, cache: productCache, logger: logger}
}

func (h *AdminProductHandler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg,
		zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// uniqueSlug returns base, or base-2, base-3 and so on for the first slug not
// taken by another product.
func (h *AdminProductHandler) uniqueSlug(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = "product"
	}
	slug := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		exists, err := h.products.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = base + "-" + strconv.Itoa(i)
	}
	return "", repository.ErrConflict
}

func (h *AdminProductHandler) ListProducts(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminListProducts")
	defer span.End()

	filter := models.ProductFilter{
		Query:    strings.TrimSpace(c.Query("q")),
		Category: strings.TrimSpace(c.Query("category")),
	}
	switch c.Query("active") {
	case "1", "true":
		v := true
		filter.Active = &v
	case "0", "false":
		v := false
		filter.Active = &v
	}
	page, limit := pageParams(c, 20)

	total, err := h.products.Count(ctx, filter)
	if err != nil {
		h.internalError(c, "Failed to count products", err)
		return
	}
	items, err := h.products.List(ctx, filter, page, limit)
	if err != nil {
		h.internalError(c, "Failed to list products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "limit": limit, "total": total, "items": items})
}

func (h *AdminProductHandler) GetProduct(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminGetProduct")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	p, err := h.products.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to get product", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// applyRequest merges the fields present in req into p.
func applyRequest(p *models.Product, req *models.ProductRequest) {
	if t := strings.TrimSpace(req.Title); t != "" {
		p.Title = t
	}
	if req.PriceUAH != nil {
		p.PriceUAH = *req.PriceUAH
	}
	if req.Category != "" {
		p.Category = strings.TrimSpace(req.Category)
	}
	if req.Images != nil {
		p.Images = req.Images
	}
	if req.Description != "" {
		p.Description = req.Description
	}
	if req.Details != "" {
		p.Details = req.Details
	}
	if req.DeliveryInfo != "" {
		p.DeliveryInfo = req.DeliveryInfo
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if req.ShowDetailsBlocks != nil {
		p.ShowDetailsBlocks = *req.ShowDetailsBlocks
	}
	if req.Availability != "" {
		p.Availability = req.Availability
	}
}

func validateProduct(p *models.Product) string {
	if p.Title == "" {
		return "title_ua is required"
	}
	if p.PriceUAH.IsNegative() {
		return "priceUAH must not be negative"
	}
	if p.Stock < 0 {
		return "stock must not be negative"
	}
	if !p.Availability.Valid() {
		return "invalid availability"
	}
	return ""
}

func (h *AdminProductHandler) CreateProduct(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminCreateProduct")
	defer span.End()

	var req models.ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := &models.Product{
		Active:       true,
		Availability: models.AvailabilityInStock,
		Images:       []string{},
	}
	applyRequest(p, &req)
	if msg := validateProduct(p); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	base := models.Slugify(req.Slug)
	if base == "" {
		base = models.Slugify(p.Title)
	}
	slug, err := h.uniqueSlug(ctx, base)
	if err != nil {
		h.internalError(c, "Failed to pick product slug", err)
		return
	}
	p.Slug = slug

	if err := h.products.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "slug already exists"})
			return
		}
		span.RecordError(err)
		h.internalError(c, "Failed to create product", err)
		return
	}

	span.SetAttributes(attribute.Int64("product.id", p.ID))
	h.logger.Info("Product created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int64("product_id", p.ID),
		zap.String("slug", p.Slug),
		zap.String("admin", middleware.AdminUser(c)),
	)
	c.JSON(http.StatusCreated, p)
}

// UpdateProduct serves both PUT and PATCH; absent fields keep their value.
func (h *AdminProductHandler) UpdateProduct(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminUpdateProduct")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	var req models.ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.products.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to get product", err)
		return
	}

	applyRequest(p, &req)
	if msg := validateProduct(p); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if s := models.Slugify(req.Slug); s != "" {
		p.Slug = s
	}

	if err := h.products.Update(ctx, p); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		case errors.Is(err, repository.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "slug already exists"})
		default:
			h.internalError(c, "Failed to update product", err)
		}
		return
	}
	h.cache.Invalidate(ctx, id)

	h.logger.Info("Product updated",
		zap.Int64("product_id", id),
		zap.String("admin", middleware.AdminUser(c)),
	)
	c.JSON(http.StatusOK, p)
}

func (h *AdminProductHandler) DeleteProduct(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminDeleteProduct")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	if err := h.products.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		h.internalError(c, "Failed to delete product", err)
		return
	}
	h.cache.Invalidate(ctx, id)

	h.logger.Info("Product deleted",
		zap.Int64("product_id", id),
		zap.String("admin", middleware.AdminUser(c)),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
