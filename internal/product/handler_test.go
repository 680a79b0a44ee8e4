package product

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"access-serverless/internal/observability"
)

type memoryCatalog struct {
	mu       sync.Mutex
	products map[string]Product
}

func newMemoryCatalog(products ...Product) *memoryCatalog {
	c := &memoryCatalog{products: make(map[string]Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *memoryCatalog) List(_ context.Context, activeOnly bool) ([]Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *memoryCatalog) Get(_ context.Context, id string) (*Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *memoryCatalog) Create(_ context.Context, input ProductInput) (Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[input.ID]; ok {
		return Product{}, ErrDuplicateID
	}
	p := Product{ID: input.ID, Name: input.Name, Price: input.Price, AssetKey: input.AssetKey, Active: true}
	c.products[p.ID] = p
	return p, nil
}

func (c *memoryCatalog) Update(_ context.Context, id string, input ProductInput) (Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	p.Name, p.Price, p.AssetKey = input.Name, input.Price, input.AssetKey
	c.products[id] = p
	return p, nil
}

func (c *memoryCatalog) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[id]; !ok {
		return ErrNotFound
	}
	delete(c.products, id)
	return nil
}

func TestListProductsHidesInactive(t *testing.T) {
	catalog := newMemoryCatalog(
		Product{ID: "memomi", Name: "Memomi", Active: true},
		Product{ID: "retired", Name: "Old", Active: false},
	)
	h := NewHandler(catalog, observability.NewNopLogger())

	rec := httptest.NewRecorder()
	h.ListProducts(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []Product
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "memomi" {
		t.Fatalf("products = %+v", got)
	}
}

func TestCreateProduct(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"id":"memomi","name":"Memomi","price":49000,"assetKey":"memomi/build.html"}`, http.StatusCreated},
		{"duplicate", `{"id":"existing","name":"X","price":1,"assetKey":"x.html"}`, http.StatusConflict},
		{"missing name", `{"id":"a1","price":1,"assetKey":"x.html"}`, http.StatusBadRequest},
		{"negative price", `{"id":"a1","name":"A","price":-5,"assetKey":"x.html"}`, http.StatusBadRequest},
		{"non html asset", `{"id":"a1","name":"A","price":5,"assetKey":"x.zip"}`, http.StatusBadRequest},
		{"path traversal", `{"id":"a1","name":"A","price":5,"assetKey":"a/../../etc.html"}`, http.StatusBadRequest},
		{"unknown field", `{"id":"a1","name":"A","price":5,"assetKey":"x.html","image":"y"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := newMemoryCatalog(Product{ID: "existing", Active: true})
			h := NewHandler(catalog, observability.NewNopLogger())

			rec := httptest.NewRecorder()
			h.CreateProduct(rec, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestCreateProductKeepsDecimalPrice(t *testing.T) {
	catalog := newMemoryCatalog()
	h := NewHandler(catalog, observability.NewNopLogger())

	body := `{"id":"gallery","name":"Gallery","price":"49000.50","assetKey":"gallery.html"}`
	rec := httptest.NewRecorder()
	h.CreateProduct(rec, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if !catalog.products["gallery"].Price.Equal(decimal.RequireFromString("49000.50")) {
		t.Fatalf("price = %s", catalog.products["gallery"].Price)
	}
}

func TestUpdateAndDeleteProduct(t *testing.T) {
	catalog := newMemoryCatalog(Product{ID: "memomi", Name: "Memomi", Active: true})
	h := NewHandler(catalog, observability.NewNopLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /products/{id}", h.UpdateProduct)
	mux.HandleFunc("DELETE /products/{id}", h.DeleteProduct)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/products/memomi",
		strings.NewReader(`{"name":"Memomi 2","price":59000,"assetKey":"memomi.html"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	if catalog.products["memomi"].Name != "Memomi 2" {
		t.Fatal("update not applied")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/products/missing",
		strings.NewReader(`{"name":"X","price":1,"assetKey":"x.html"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("update missing status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/products/memomi", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/products/memomi", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}
