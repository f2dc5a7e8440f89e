package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/pkalinin/tokengate/internal/apperrors"
	"github.com/pkalinin/tokengate/internal/handlers/render"
	"github.com/pkalinin/tokengate/internal/models"
)

// Auth service operations the handler needs
type AuthService interface {
	// Register new user
	// Has to return apperrors.ErrUserAlreadyExists if username is taken
	Register(ctx context.Context, username string, password string, name string, role string) (models.User, error)

	// Login with username and password, starts a new token family
	// Has to return apperrors.ErrInvalidCredentials on any credential failure
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Refresh rotates the presented pair
	// Every rejection is the uniform apperrors.ErrRefreshFailed
	Refresh(ctx context.Context, accessValue string, refreshValue string) (models.TokenPair, error)

	// Revoke burns the presented family, idempotent
	Revoke(ctx context.Context, accessValue string, refreshValue string) error
}

// Token pair as it goes over the wire
type TokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type AuthHandler struct {
	authService AuthService
}

func NewAuth(auth AuthService) *AuthHandler {
	return &AuthHandler{authService: auth}
}

func (h *AuthHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.HandleFunc("POST /revoke", h.revoke)

	return mux
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Username string `json:"username" validate:"required,min=2,max=50"`
		Password string `json:"password" validate:"required,min=8"`
		Name     string `json:"name" validate:"required"`
		Role     string `json:"role" validate:"required"`
	}
	type RegisterSuccessResponse struct {
		Message string `json:"message"`
	}

	data, err := render.BindAndValidate[RegisterRequest](w, r)
	if err != nil {
		return
	}

	_, err = h.authService.Register(r.Context(), data.Username, data.Password, data.Name, data.Role)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "Username already exists", http.StatusConflict)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, RegisterSuccessResponse{Message: "User registered successfully"})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.authService.Login(r.Context(), data.Username, data.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			// Same answer for unknown user and wrong password
			render.ServiceError(w, "Username or password is incorrect", http.StatusUnauthorized)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, TokenPairResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	})
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		AccessToken  string `json:"accessToken" validate:"required"`
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	data, err := render.BindAndValidate[RefreshRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.authService.Refresh(r.Context(), data.AccessToken, data.RefreshToken)
	if err != nil {
		// Deliberately the same response for every rejection reason
		render.ServiceError(w, "Token invalid", http.StatusUnauthorized)
		return
	}

	render.JSON(w, TokenPairResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	})
}

func (h *AuthHandler) revoke(w http.ResponseWriter, r *http.Request) {
	type RevokeRequest struct {
		AccessToken  string `json:"accessToken" validate:"required"`
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	type RevokeSuccessResponse struct {
		Message string `json:"message"`
	}

	data, err := render.BindAndValidate[RevokeRequest](w, r)
	if err != nil {
		return
	}

	// Revoke reports success even when there was nothing to revoke:
	// either way the session can't refresh anymore
	if err := h.authService.Revoke(r.Context(), data.AccessToken, data.RefreshToken); err != nil {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, RevokeSuccessResponse{Message: "Session revoked"})
}
