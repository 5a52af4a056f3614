package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/repository"
)

type AuthHandler struct {
	userRepo *repository.UserRepository
}

func NewAuthHandler(userRepo *repository.UserRepository) *AuthHandler {
	return &AuthHandler{userRepo: userRepo}
}

type RegisterRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	ProfilePic string `json:"profile_pic"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the opaque bearer token the client sends on
// subsequent requests.
type LoginResponse struct {
	Token string           `json:"token"`
	User  model.UserPublic `json:"user"`
}

// Register creates an account. Email addresses are unique.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || len(req.Password) < 6 {
		writeErrorMsg(w, http.StatusBadRequest, "name, email and password (6+ chars) required")
		return
	}

	if _, err := h.userRepo.GetByEmail(r.Context(), req.Email); err == nil {
		writeErrorMsg(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("register check email: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Errorf("register bcrypt: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		ProfilePic:   req.ProfilePic,
		Type:         model.UserTypeUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.userRepo.Create(r.Context(), u); err != nil {
		logger.Errorf("register create: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeSuccess(w, http.StatusCreated, "registered", LoginResponse{Token: u.ID, User: u.ToPublic()})
}

// Login verifies credentials and returns the bearer token. Unknown email and
// wrong password produce the same reply.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeErrorMsg(w, http.StatusBadRequest, "email and password required")
		return
	}

	u, err := h.userRepo.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("login lookup: %v", err)
		}
		writeErrorMsg(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		writeErrorMsg(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeSuccess(w, http.StatusOK, "logged in", LoginResponse{Token: u.ID, User: u.ToPublic()})
}
