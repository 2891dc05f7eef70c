package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopfront/apiserver/internal/services"
	"github.com/shopfront/apiserver/types"
)

// UserHandler provides the back-office account endpoints.
type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UserRouter registers account administration routes. Every route is
// restricted to administrators.
func UserRouter(
	r chi.Router,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewUserHandler(userService)

	r.Use(authMiddleware, RequireAdmin(userService))
	r.Get("/", handler.ListUsers)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", handler.GetUser)
		r.Patch("/", handler.UpdateUser)
		r.Delete("/", handler.DeleteUser)
	})
}

// Pagination describes the page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// UserListResponse is the paginated account listing.
type UserListResponse struct {
	Users      []types.UserSummary `json:"users"`
	Pagination Pagination          `json:"pagination"`
	Stats      types.UserStats     `json:"stats"`
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := r.URL.Query()
	result, err := h.userService.List(r.Context(), identity, types.UserFilter{
		Search: strings.TrimSpace(query.Get("search")),
		Role:   types.Role(strings.TrimSpace(query.Get("role"))),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch users")
		return
	}

	writeJSON(w, http.StatusOK, UserListResponse{
		Users: result.Users,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      result.Total,
			TotalPages: (result.Total + limit - 1) / limit,
		},
		Stats: result.Stats,
	})
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	id, err := parseUUIDParam(r, "userID", "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.userService.Get(r.Context(), identity, id)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch user")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	id, err := parseUUIDParam(r, "userID", "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var patch services.UserPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.userService.Update(r.Context(), identity, id, patch)
	if err != nil {
		writeServiceError(w, r, err, "failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	id, err := parseUUIDParam(r, "userID", "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.userService.Delete(r.Context(), identity, id); err != nil {
		writeServiceError(w, r, err, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
