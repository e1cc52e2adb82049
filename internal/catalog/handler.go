// internal/catalog/handler.go
package catalog

import (
	"net/http"
	"strings"

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

// Routes mounts the catalog endpoints. Mutations go through protect.
func (h *Handler) Routes(r chi.Router, protect func(http.Handler) http.Handler) {
	r.Route("/authors", func(r chi.Router) {
		r.Get("/", h.handleListAuthors)
		r.Get("/{id}", h.handleGetAuthor)
		r.With(protect).Post("/", h.handleCreateAuthor)
		r.With(protect).Delete("/{id}", h.handleDeleteAuthor)
	})
	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.handleListBooks)
		r.Get("/{id}", h.handleGetBook)
		r.With(protect).Post("/", h.handleCreateBook)
		r.With(protect).Delete("/{id}", h.handleDeleteBook)
	})
	r.Get("/search/books", h.handleSearch)
}

func (h *Handler) handleListAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.service.ListAuthors(r.Context())
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, authors)
}

func (h *Handler) handleGetAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	author, err := h.service.GetAuthor(r.Context(), id)
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, author)
}

func (h *Handler) handleCreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, err)
		return
	}

	v := validate.Errors{}
	v.Required("first_name", req.FirstName)
	v.Required("last_name", req.LastName)
	if err := v.Err(); err != nil {
		render.Error(w, err)
		return
	}

	author, err := h.service.CreateAuthor(r.Context(), strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName))
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusCreated, created("Author created", author.ID))
}

func (h *Handler) handleDeleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAuthor(r.Context(), id); err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, render.Message{Message: "Author deleted"})
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, books)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, book)
}

func (h *Handler) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		AuthorID string `json:"author_id"`
		Stock    *int   `json:"stock"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, err)
		return
	}

	v := validate.Errors{}
	v.Required("title", req.Title)
	authorID := v.UUID("author_id", req.AuthorID)
	v.NonNegative("stock", req.Stock)
	if err := v.Err(); err != nil {
		render.Error(w, err)
		return
	}

	book, err := h.service.CreateBook(r.Context(), strings.TrimSpace(req.Title), authorID, *req.Stock)
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusCreated, created("Book created", book.ID))
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, render.Message{Message: "Book deleted"})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")

	v := validate.Errors{}
	v.Required("title", title)
	if err := v.Err(); err != nil {
		render.Error(w, err)
		return
	}

	books, err := h.service.SearchByTitle(r.Context(), title)
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, books)
}

type createdResponse struct {
	Message string    `json:"message"`
	ID      uuid.UUID `json:"id"`
}

func created(msg string, id uuid.UUID) createdResponse {
	return createdResponse{Message: msg, ID: id}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	v := validate.Errors{}
	id := v.UUID("id", chi.URLParam(r, "id"))
	if err := v.Err(); err != nil {
		render.Error(w, err)
		return uuid.Nil, false
	}
	return id, true
}
