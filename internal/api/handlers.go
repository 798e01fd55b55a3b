package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"momo-collab/internal/auth"
	"momo-collab/internal/collaboration"
	"momo-collab/internal/models"
	"momo-collab/internal/repository"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// Handler serves the REST surface around the collaboration core: accounts,
// tokens, and the document metadata the session authenticator reads.
type Handler struct {
	users     UserStore
	docs      DocumentStore
	wsHandler *collaboration.WebSocketHandler

	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewHandler(users UserStore, docs DocumentStore, wsHandler *collaboration.WebSocketHandler, jwtSecret []byte, tokenTTL time.Duration) *Handler {
	return &Handler{
		users:     users,
		docs:      docs,
		wsHandler: wsHandler,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// Auth handlers

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		http.Error(w, "name, email and password are required", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		http.Error(w, "failed to create user", http.StatusConflict)
		return
	}

	token, err := auth.SignToken(h.jwtSecret, user.ID, user.Name, h.tokenTTL)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, User: user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	token, err := auth.SignToken(h.jwtSecret, user.ID, user.Name, h.tokenTTL)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: user})
}

// Document metadata handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var in models.DocumentCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := h.docs.Create(r.Context(), userID, &in)
	if err != nil {
		http.Error(w, "failed to create document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}

	// Metadata is visible to anyone who could open the document.
	userID := requestUserID(r)
	if !canRead(doc, userID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

type addCollaboratorRequest struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

func (h *Handler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}
	if doc.OwnerID != requestUserID(r) {
		http.Error(w, "only the owner can share a document", http.StatusForbidden)
		return
	}

	var req addCollaboratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Role != models.RoleEditor && req.Role != models.RoleViewer {
		http.Error(w, "role must be editor or viewer", http.StatusBadRequest)
		return
	}
	if _, err := h.users.GetByID(r.Context(), req.UserID); err != nil {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}

	if err := h.docs.AddCollaborator(r.Context(), doc.ID, req.UserID, req.Role); err != nil {
		http.Error(w, "failed to add collaborator", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type visibilityRequest struct {
	IsPublic bool `json:"is_public"`
}

func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}
	if doc.OwnerID != requestUserID(r) {
		http.Error(w, "only the owner can change visibility", http.StatusForbidden)
		return
	}

	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.docs.SetVisibility(r.Context(), doc.ID, req.IsPublic); err != nil {
		http.Error(w, "failed to update visibility", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCollaborationSocket delegates to the collaboration endpoint.
func (h *Handler) HandleCollaborationSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleCollaboration(w, r)
}

// helpers

func (h *Handler) loadDocument(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	id := mux.Vars(r)["id"]
	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
		} else {
			http.Error(w, "failed to load document", http.StatusInternalServerError)
		}
		return nil, false
	}
	return doc, true
}

func canRead(doc *models.Document, userID string) bool {
	if doc.IsPublic || doc.OwnerID == userID {
		return true
	}
	for _, c := range doc.Collaborators {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
