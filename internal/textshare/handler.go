package textshare

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// API error codes, mirrored by the client.
const (
	CodeNotFound         = "NOT_FOUND"
	CodePasswordRequired = "PASSWORD_REQUIRED"
	CodeInvalidPassword  = "INVALID_PASSWORD"
	CodeContentTooLarge  = "CONTENT_TOO_LARGE"
	CodeInvalidExpires   = "INVALID_EXPIRES"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type CreateRequest struct {
	Content   string `json:"content"`
	ExpiresIn int    `json:"expiresIn"`
	Password  string `json:"password,omitempty"`
}

type CreateResponse struct {
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expiresAt"`
	HasPassword bool      `json:"hasPassword"`
}

type GetResponse struct {
	Content   string    `json:"content"`
	ExpiresAt time.Time `json:"expiresAt"`
	ViewCount int       `json:"viewCount"`
}

type CheckResponse struct {
	NeedPassword bool `json:"needPassword"`
}

// Handler serves the text-share JSON API.
type Handler struct {
	store  *Store
	logger *logrus.Logger
}

func NewHandler(store *Store, logger *logrus.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/text", h.handleCreate)
	mux.HandleFunc("GET /api/text/{code}", h.handleGet)
	mux.HandleFunc("GET /api/text/{code}/check", h.handleCheck)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, CodeValidationError, "invalid request body")
		return
	}

	result, err := h.store.Create(req.Content, req.ExpiresIn, req.Password)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeData(w, CreateResponse{
		Code:        result.Code,
		ExpiresAt:   result.ExpiresAt,
		HasPassword: result.HasPassword,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	password := r.URL.Query().Get("password")

	result, err := h.store.Get(code, password)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeData(w, GetResponse{
		Content:   result.Content,
		ExpiresAt: result.ExpiresAt,
		ViewCount: result.ViewCount,
	})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	needPassword, err := h.store.NeedsPassword(r.PathValue("code"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeData(w, CheckResponse{NeedPassword: needPassword})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "share not found or expired")
	case errors.Is(err, ErrPasswordRequired):
		writeError(w, http.StatusUnauthorized, CodePasswordRequired, "password required")
	case errors.Is(err, ErrInvalidPassword):
		writeError(w, http.StatusUnauthorized, CodeInvalidPassword, "invalid password")
	case errors.Is(err, ErrContentTooLarge):
		writeError(w, http.StatusBadRequest, CodeContentTooLarge, "content exceeds size limit")
	case errors.Is(err, ErrInvalidExpiry):
		writeError(w, http.StatusBadRequest, CodeInvalidExpires, "invalid expiry option")
	case errors.Is(err, ErrGenerationFailed):
		writeError(w, http.StatusBadRequest, CodeGenerationFailed, "could not generate a code")
	default:
		h.logger.Errorf("Text share error: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
	}
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
	})
}
