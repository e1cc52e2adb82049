// internal/membership/handler.go
package membership

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

func (h *Handler) Routes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, err)
		return
	}

	v := validate.Errors{}
	v.Required("username", req.Username)
	v.Required("password", req.Password)
	v.Email("email", req.Email)
	if err := v.Err(); err != nil {
		render.Error(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), strings.TrimSpace(req.Username), req.Password, req.Email)
	if err != nil {
		render.Error(w, err)
		return
	}

	render.JSON(w, http.StatusCreated, struct {
		Message string    `json:"message"`
		ID      uuid.UUID `json:"id"`
	}{"Registration successful", user.ID})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, err)
		return
	}

	v := validate.Errors{}
	v.Required("email", req.Email)
	v.Required("username", req.Username)
	v.Required("password", req.Password)
	if err := v.Err(); err != nil {
		render.Error(w, err)
		return
	}

	token, err := h.service.Authenticate(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		render.Error(w, err)
		return
	}

	render.JSON(w, http.StatusOK, map[string]string{"access_token": token})
}
