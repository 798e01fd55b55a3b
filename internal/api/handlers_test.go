package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"momo-collab/internal/auth"
	"momo-collab/internal/models"
	"momo-collab/internal/repository"
)

var testSecret = []byte("test-secret")

type fakeUserStore struct {
	byID    map[string]*models.User
	byEmail map[string]*models.User
	nextID  int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: map[string]*models.User{}, byEmail: map[string]*models.User{}}
}

func (f *fakeUserStore) Create(_ context.Context, user *models.User) error {
	if _, exists := f.byEmail[user.Email]; exists {
		return fmt.Errorf("duplicate email")
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.byID[user.ID] = user
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

type fakeDocStore struct {
	docs   map[string]*models.Document
	nextID int
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: map[string]*models.Document{}}
}

func (f *fakeDocStore) Create(_ context.Context, ownerID string, in *models.DocumentCreate) (*models.Document, error) {
	f.nextID++
	doc := &models.Document{
		ID:      fmt.Sprintf("doc-%d", f.nextID),
		Title:   in.Title,
		OwnerID: ownerID,
		Status:  models.StatusActive,
	}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeDocStore) GetByID(_ context.Context, id string) (*models.Document, error) {
	if doc, ok := f.docs[id]; ok {
		return doc, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDocStore) AddCollaborator(_ context.Context, documentID, userID string, role models.Role) error {
	doc := f.docs[documentID]
	doc.Collaborators = append(doc.Collaborators, models.Collaborator{DocumentID: documentID, UserID: userID, Role: role})
	return nil
}

func (f *fakeDocStore) SetVisibility(_ context.Context, documentID string, isPublic bool) error {
	doc, ok := f.docs[documentID]
	if !ok {
		return repository.ErrNotFound
	}
	doc.IsPublic = isPublic
	return nil
}

func testServer(t *testing.T) (http.Handler, *fakeUserStore, *fakeDocStore) {
	t.Helper()
	users := newFakeUserStore()
	docs := newFakeDocStore()
	h := NewHandler(users, docs, nil, testSecret, time.Hour)
	return SetupRoutes(h, testSecret), users, docs
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, router http.Handler, name, email string) (token, userID string) {
	t.Helper()
	rec := doJSON(t, router, "POST", "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "hunter22",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("register response not JSON: %v", err)
	}
	return resp.Token, resp.User.ID
}

func TestRegisterIssuesUsableToken(t *testing.T) {
	router, _, _ := testServer(t)
	token, userID := registerUser(t, router, "Avery", "avery@example.com")

	claims, err := auth.ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("token subject = %s, want %s", claims.UserID, userID)
	}
}

func TestRegisterRejectsIncompleteBody(t *testing.T) {
	router, _, _ := testServer(t)
	rec := doJSON(t, router, "POST", "/api/auth/register", "", map[string]string{"email": "x@example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	router, _, _ := testServer(t)
	registerUser(t, router, "Avery", "avery@example.com")

	rec := doJSON(t, router, "POST", "/api/auth/login", "", map[string]string{
		"email": "avery@example.com", "password": "hunter22",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, "POST", "/api/auth/login", "", map[string]string{
		"email": "avery@example.com", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad-password status = %d, want 401", rec.Code)
	}
}

func TestDocumentEndpointsRequireToken(t *testing.T) {
	router, _, _ := testServer(t)
	rec := doJSON(t, router, "POST", "/api/documents", "", map[string]string{"title": "Notes"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateAndGetDocument(t *testing.T) {
	router, _, _ := testServer(t)
	token, userID := registerUser(t, router, "Avery", "avery@example.com")

	rec := doJSON(t, router, "POST", "/api/documents", token, map[string]string{"title": "Notes"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var doc models.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("create response not JSON: %v", err)
	}
	if doc.OwnerID != userID || doc.Title != "Notes" {
		t.Fatalf("unexpected document: %+v", doc)
	}

	rec = doJSON(t, router, "GET", "/api/documents/"+doc.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, "GET", "/api/documents/doc-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing-doc status = %d, want 404", rec.Code)
	}
}

func TestGetDocumentAccessControl(t *testing.T) {
	router, _, docs := testServer(t)
	ownerToken, _ := registerUser(t, router, "Olive", "olive@example.com")
	strangerToken, _ := registerUser(t, router, "Sam", "sam@example.com")

	rec := doJSON(t, router, "POST", "/api/documents", ownerToken, map[string]string{"title": "Private"})
	var doc models.Document
	json.Unmarshal(rec.Body.Bytes(), &doc)

	rec = doJSON(t, router, "GET", "/api/documents/"+doc.ID, strangerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger status = %d, want 403", rec.Code)
	}

	docs.docs[doc.ID].IsPublic = true
	rec = doJSON(t, router, "GET", "/api/documents/"+doc.ID, strangerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public-doc status = %d, want 200", rec.Code)
	}
}

func TestAddCollaboratorIsOwnerOnly(t *testing.T) {
	router, _, docs := testServer(t)
	ownerToken, _ := registerUser(t, router, "Olive", "olive@example.com")
	otherToken, otherID := registerUser(t, router, "Sam", "sam@example.com")

	rec := doJSON(t, router, "POST", "/api/documents", ownerToken, map[string]string{"title": "Shared"})
	var doc models.Document
	json.Unmarshal(rec.Body.Bytes(), &doc)

	rec = doJSON(t, router, "POST", "/api/documents/"+doc.ID+"/collaborators", otherToken,
		addCollaboratorRequest{UserID: otherID, Role: models.RoleEditor})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/api/documents/"+doc.ID+"/collaborators", ownerToken,
		addCollaboratorRequest{UserID: otherID, Role: models.RoleEditor})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("owner status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(docs.docs[doc.ID].Collaborators) != 1 {
		t.Fatalf("collaborator not recorded: %+v", docs.docs[doc.ID])
	}

	rec = doJSON(t, router, "POST", "/api/documents/"+doc.ID+"/collaborators", ownerToken,
		addCollaboratorRequest{UserID: otherID, Role: "admin"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad-role status = %d, want 400", rec.Code)
	}
}

func TestSetVisibility(t *testing.T) {
	router, _, docs := testServer(t)
	ownerToken, _ := registerUser(t, router, "Olive", "olive@example.com")

	rec := doJSON(t, router, "POST", "/api/documents", ownerToken, map[string]string{"title": "Notes"})
	var doc models.Document
	json.Unmarshal(rec.Body.Bytes(), &doc)

	rec = doJSON(t, router, "PUT", "/api/documents/"+doc.ID+"/visibility", ownerToken, visibilityRequest{IsPublic: true})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !docs.docs[doc.ID].IsPublic {
		t.Fatal("visibility change not persisted")
	}
}

func TestHealth(t *testing.T) {
	router, _, _ := testServer(t)
	rec := doJSON(t, router, "GET", "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
