package product

import (
	"context"
	"errors"
	"net/http"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"access-serverless/internal/httpx"
	"access-serverless/internal/observability"
)

var productIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)
var assetKeyRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,254}$`)

type Catalog interface {
	List(ctx context.Context, activeOnly bool) ([]Product, error)
	Get(ctx context.Context, id string) (*Product, error)
	Create(ctx context.Context, input ProductInput) (Product, error)
	Update(ctx context.Context, id string, input ProductInput) (Product, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	catalog Catalog
	logger  *observability.Logger
}

func NewHandler(catalog Catalog, logger *observability.Logger) *Handler {
	return &Handler{catalog: catalog, logger: logger}
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context(), true)
	if err != nil {
		httpx.WriteInternal(w, h.logger, "list_products", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, products)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	input, err := parseInput(w, r, true)
	if err != nil {
		httpx.WriteValidation(w, err)
		return
	}

	p, err := h.catalog.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrDuplicateID) {
			httpx.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		httpx.WriteInternal(w, h.logger, "create_product", err)
		return
	}

	h.logger.Info("product_created", map[string]any{"product_id": p.ID})
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !productIDRegex.MatchString(id) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	input, err := parseInput(w, r, false)
	if err != nil {
		httpx.WriteValidation(w, err)
		return
	}

	p, err := h.catalog.Update(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "product not found")
			return
		}
		httpx.WriteInternal(w, h.logger, "update_product", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !productIDRegex.MatchString(id) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.catalog.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "product not found")
			return
		}
		httpx.WriteInternal(w, h.logger, "delete_product", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseInput(w http.ResponseWriter, r *http.Request, creating bool) (ProductInput, error) {
	var input ProductInput
	if err := httpx.DecodeJSON(w, r, &input, true); err != nil {
		return ProductInput{}, err
	}

	input.ID = strings.TrimSpace(strings.ToLower(input.ID))
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.AssetKey = strings.TrimSpace(input.AssetKey)

	if missing := httpx.RequiredStrings([2]string{"name", input.Name}, [2]string{"assetKey", input.AssetKey}); len(missing) > 0 {
		return ProductInput{}, httpx.Missing(missing...)
	}
	if creating && input.ID != "" && !productIDRegex.MatchString(input.ID) {
		return ProductInput{}, httpx.Invalid("id must be lowercase letters, digits or dashes")
	}
	if !creating {
		input.ID = ""
	}
	if !utf8.ValidString(input.Name) || len(input.Name) > 150 {
		return ProductInput{}, httpx.Invalid("name is invalid")
	}
	if !utf8.ValidString(input.Description) || len(input.Description) > 1000 {
		return ProductInput{}, httpx.Invalid("description is invalid")
	}
	if !assetKeyRegex.MatchString(input.AssetKey) || strings.Contains(input.AssetKey, "..") {
		return ProductInput{}, httpx.Invalid("assetKey is invalid")
	}
	if strings.ToLower(path.Ext(input.AssetKey)) != ".html" {
		return ProductInput{}, httpx.Invalid("assetKey must reference an .html file")
	}
	if input.Price.IsNegative() {
		return ProductInput{}, httpx.Invalid("price must be >= 0")
	}

	return input, nil
}
