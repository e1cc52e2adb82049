// internal/circulation/handler.go
package circulation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libris/internal/render"
	"libris/internal/validate"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the ledger endpoints. Borrowing and returning go through protect.
func (h *Handler) Routes(r chi.Router, protect func(http.Handler) http.Handler) {
	r.Route("/borrow", func(r chi.Router) {
		r.Get("/", h.handleListBorrows)
		r.Get("/{id}", h.handleGetBorrow)
		r.Get("/{id}/history", h.handleHistory)
		r.With(protect).Post("/", h.handleCreateBorrow)
		r.With(protect).Delete("/{id}", h.handleReturnBorrow)
	})
}

func (h *Handler) handleCreateBorrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		BookID string `json:"book_id"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, err)
		return
	}

	v := validate.Errors{}
	v.Email("email", req.Email)
	bookID := v.UUID("book_id", req.BookID)
	if err := v.Err(); err != nil {
		render.Error(w, err)
		return
	}

	borrow, err := h.service.CreateBorrow(r.Context(), req.Email, bookID)
	if err != nil {
		render.Error(w, err)
		return
	}

	render.JSON(w, http.StatusCreated, struct {
		Message  string    `json:"message"`
		BorrowID uuid.UUID `json:"borrow_id"`
	}{"Borrow created", borrow.ID})
}

func (h *Handler) handleReturnBorrow(w http.ResponseWriter, r *http.Request) {
	id, ok := borrowID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.ReturnBorrow(r.Context(), id); err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, render.Message{Message: "Book returned"})
}

func (h *Handler) handleListBorrows(w http.ResponseWriter, r *http.Request) {
	borrows, err := h.service.ListBorrows(r.Context())
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, borrows)
}

func (h *Handler) handleGetBorrow(w http.ResponseWriter, r *http.Request) {
	id, ok := borrowID(w, r)
	if !ok {
		return
	}

	borrow, err := h.service.GetBorrow(r.Context(), id)
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, borrow)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := borrowID(w, r)
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, events)
}

func borrowID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	v := validate.Errors{}
	id := v.UUID("id", chi.URLParam(r, "id"))
	if err := v.Err(); err != nil {
		render.Error(w, err)
		return uuid.Nil, false
	}
	return id, true
}
