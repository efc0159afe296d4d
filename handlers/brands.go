package handlers

import (
	"net/http"

	"github.com/brandviz/brandviz/services"
)

func (h *Handler) ListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.svc.Brands.List(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", brands)
}

func (h *Handler) CreateBrand(w http.ResponseWriter, r *http.Request) {
	var input services.BrandInput
	if err := h.decode(w, r, &input, false); err != nil {
		writeError(w, r, err)
		return
	}

	brand, err := h.svc.Brands.Create(r.Context(), currentUser(r), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "brand created", brand)
}

func (h *Handler) GetBrand(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	brand, err := h.svc.Brands.Get(r.Context(), currentUser(r), brandID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", brand)
}

func (h *Handler) UpdateBrand(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var patch services.BrandPatch
	if err := h.decode(w, r, &patch, false); err != nil {
		writeError(w, r, err)
		return
	}

	brand, err := h.svc.Brands.Update(r.Context(), currentUser(r), brandID, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "brand updated", brand)
}

func (h *Handler) DeleteBrand(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.Brands.Delete(r.Context(), currentUser(r), brandID); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "brand deleted", nil)
}
