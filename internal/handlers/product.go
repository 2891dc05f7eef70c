package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopfront/apiserver/internal/services"
	"github.com/shopfront/apiserver/types"
)

const (
	maxMultipartMemory = 8 << 20
	maxImageBytes      = 10 << 20
	formFieldImage     = "image"
)

// ProductHandler provides HTTP handlers for the catalog.
type ProductHandler struct {
	productService *services.ProductService
}

// NewProductHandler constructs a handler with the provided service.
func NewProductHandler(productService *services.ProductService) *ProductHandler {
	return &ProductHandler{productService: productService}
}

// ProductRouter registers product routes on the given router.
func ProductRouter(
	r chi.Router,
	productService *services.ProductService,
	authMiddleware func(http.Handler) http.Handler,
	adminMiddleware func(http.Handler) http.Handler,
) {
	handler := NewProductHandler(productService)
	admin := r.With(authMiddleware, adminMiddleware)

	r.Get("/", handler.ListProducts)
	r.Get("/categories", handler.ListCategories)
	admin.Post("/", handler.CreateProduct)
	admin.Post("/bulk", handler.BulkCreateProducts)
	r.Route("/{productID}", func(r chi.Router) {
		admin := r.With(authMiddleware, adminMiddleware)

		r.Get("/", handler.GetProduct)
		admin.Put("/", handler.UpdateProduct)
		admin.Delete("/", handler.DeleteProduct)
		r.Get("/image", handler.GetProductImage)
		admin.Put("/image", handler.UploadProductImage)
	})
}

func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := types.ProductFilter{
		Category:     strings.TrimSpace(query.Get("category")),
		FeaturedOnly: query.Get("featured") == "true",
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	products, err := h.productService.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch products")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.productService.Categories(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch categories")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "productID", "product")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, err := h.productService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch product")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	var req services.ProductInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.productService.Create(r.Context(), identity, req)
	if err != nil {
		writeServiceError(w, r, err, "failed to create product")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// BulkCreateRequest is the payload of a bulk product import.
type BulkCreateRequest struct {
	Products []services.ProductInput `json:"products"`
}

// BulkCreateResponse reports the products a bulk import inserted.
type BulkCreateResponse struct {
	InsertedCount int             `json:"inserted_count"`
	Products      []types.Product `json:"products"`
}

func (h *ProductHandler) BulkCreateProducts(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	var req BulkCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.productService.BulkCreate(r.Context(), identity, req.Products)
	if err != nil {
		writeServiceError(w, r, err, "failed to import products")
		return
	}
	writeJSON(w, http.StatusCreated, BulkCreateResponse{InsertedCount: len(created), Products: created})
}

func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	id, err := parseUUIDParam(r, "productID", "product")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var patch services.ProductPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.productService.Update(r.Context(), identity, id, patch)
	if err != nil {
		writeServiceError(w, r, err, "failed to update product")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	id, err := parseUUIDParam(r, "productID", "product")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.productService.Delete(r.Context(), identity, id); err != nil {
		writeServiceError(w, r, err, "failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandler) GetProductImage(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "productID", "product")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	image, err := h.productService.Image(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch product image")
		return
	}
	if image.Body == nil {
		http.Redirect(w, r, image.URL, http.StatusFound)
		return
	}
	defer image.Body.Close()

	if image.ContentType != "" {
		w.Header().Set("Content-Type", image.ContentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, image.Body)
}

func (h *ProductHandler) UploadProductImage(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	id, err := parseUUIDParam(r, "productID", "product")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	upload, err := parseImageUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.productService.UploadImage(r.Context(), identity, id, upload)
	if err != nil {
		writeServiceError(w, r, err, "failed to upload product image")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func parseImageUpload(r *http.Request) (services.ImageUpload, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return services.ImageUpload{}, errors.New("invalid multipart form")
	}

	files := r.MultipartForm.File[formFieldImage]
	if len(files) == 0 {
		return services.ImageUpload{}, errors.New("image file is required")
	}
	if len(files) > 1 {
		return services.ImageUpload{}, errors.New("only one image file is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return services.ImageUpload{}, fmt.Errorf("failed to read image file: %w", err)
	}
	data, err := readFileLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		return services.ImageUpload{}, err
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return services.ImageUpload{
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
