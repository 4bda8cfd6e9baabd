package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/product-catalog-backend/internal/http/dto"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/response"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
)

const msgInvalidID = "Validation failed (numeric string is expected)"

type ProductHandler struct {
	svc service.ProductService
}

func NewProductHandler(svc service.ProductService) *ProductHandler {
	return &ProductHandler{svc: svc}
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateProductRequest
	if !decodeRequest(w, r, "create", &req) {
		return
	}
	if msgs := req.Validate(); len(msgs) > 0 {
		observability.RecordProductValidationFailure(r.Context(), "create")
		response.Errors(w, r, http.StatusBadRequest, msgs)
		return
	}

	created, err := h.svc.Create(r.Context(), req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, dto.ToProductResponse(created))
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, dto.ToProductResponseList(products))
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "get")
	if !ok {
		return
	}
	product, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, dto.ToProductResponse(product))
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "update")
	if !ok {
		return
	}
	var req dto.UpdateProductRequest
	if !decodeRequest(w, r, "update", &req) {
		return
	}
	if msgs := req.Validate(); len(msgs) > 0 {
		observability.RecordProductValidationFailure(r.Context(), "update")
		response.Errors(w, r, http.StatusBadRequest, msgs)
		return
	}

	updated, err := h.svc.Update(r.Context(), id, req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, dto.ToProductResponse(updated))
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "delete")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Empty(w, http.StatusOK)
}

// pathID parses the {id} route parameter as a base-10 int64. Zero and
// negative ids are valid and simply never match a stored product.
func pathID(w http.ResponseWriter, r *http.Request, op string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		observability.RecordProductValidationFailure(r.Context(), op)
		response.Error(w, r, http.StatusBadRequest, msgInvalidID)
		return 0, false
	}
	return id, true
}

func decodeRequest(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	err := dto.DecodeJSON(r, dst)
	if err == nil {
		return true
	}
	observability.RecordProductValidationFailure(r.Context(), op)
	var derr *dto.DecodeError
	if !errors.As(err, &derr) {
		response.Error(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	switch {
	case derr.TooLarge:
		response.Error(w, r, http.StatusRequestEntityTooLarge, derr.Messages[0])
		return false
	case derr.Malformed:
		response.Error(w, r, http.StatusBadRequest, derr.Messages[0])
		return false
	}
	response.Errors(w, r, http.StatusBadRequest, derr.Messages)
	return false
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *service.NotFoundError
	switch {
	case errors.As(err, &nf):
		response.Error(w, r, http.StatusNotFound, nf.Error())
	default:
		response.Internal(w, r, err)
	}
}
