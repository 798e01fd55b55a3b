package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"momo-collab/internal/models"
	"momo-collab/internal/repository"
)

// roomKeySeparator joins a root document id with an embedded sub-document id.
const roomKeySeparator = "::"

// SplitRoomKey resolves a room key to its owning root document id. The
// optional "::<subId>" suffix addresses an embedded sub-document; permission
// checks always run against the root.
func SplitRoomKey(key string) (rootID, subID string) {
	if i := strings.Index(key, roomKeySeparator); i >= 0 {
		return key[:i], key[i+len(roomKeySeparator):]
	}
	return key, ""
}

// Principal is the resolved identity and access level for one admitted
// connection.
type Principal struct {
	UserID string
	Name   string
	Color  string
	Role   models.Role
}

// DocumentMetadata is the read-only metadata collaborator: owner, per-user
// collaborator roles and the public flag for a root document.
type DocumentMetadata interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// UserDirectory resolves token subjects to display identities.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Authenticator decides, once per connection attempt, whether a credential
// grants access to a room and at which level. The decision is made before the
// socket joins any room and is deliberately not re-evaluated mid-session: a
// permission change takes effect on the next reconnect. This mirrors the
// connect-time-only model of the upstream editor and is a stated limitation,
// not an oversight.
type Authenticator struct {
	secret []byte
	docs   DocumentMetadata
	users  UserDirectory
}

func NewAuthenticator(secret []byte, docs DocumentMetadata, users UserDirectory) *Authenticator {
	return &Authenticator{secret: secret, docs: docs, users: users}
}

// Authenticate verifies the credential, then computes the caller's role on
// the room's root document: owner => editor, listed collaborator => stored
// role, public document => viewer, anything else => ErrForbidden.
func (a *Authenticator) Authenticate(ctx context.Context, token, roomKey string) (*Principal, error) {
	// Credential first: an expired or forged token is rejected before any
	// document lookup happens.
	claims, err := ParseToken(a.secret, token)
	if err != nil {
		return nil, err
	}

	rootID, _ := SplitRoomKey(roomKey)
	if rootID == "" {
		return nil, fmt.Errorf("%w: empty room key", ErrDocumentNotFound)
	}

	doc, err := a.docs.GetByID(ctx, rootID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, rootID)
		}
		return nil, fmt.Errorf("failed to load document metadata: %w", err)
	}

	role, err := resolveRole(doc, claims.UserID)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown subject %s", ErrInvalidCredential, claims.UserID)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return &Principal{
		UserID: user.ID,
		Name:   user.Name,
		Color:  randomColor(),
		Role:   role,
	}, nil
}

func resolveRole(doc *models.Document, userID string) (models.Role, error) {
	if doc.OwnerID == userID {
		return models.RoleEditor, nil
	}
	for _, c := range doc.Collaborators {
		if c.UserID == userID {
			return c.Role, nil
		}
	}
	if doc.IsPublic {
		return models.RoleViewer, nil
	}
	return "", fmt.Errorf("%w: no access to document %s", ErrForbidden, doc.ID)
}

// randomColor picks a cursor color for the connection, as the upstream editor
// does per join rather than per account.
func randomColor() string {
	return fmt.Sprintf("#%06x", rand.Intn(0x1000000))
}
