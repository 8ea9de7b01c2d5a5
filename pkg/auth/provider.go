// Package auth implements user accounts, sessions and access tokens.
//
// Users and sessions live in a protected storage instance that the public
// REST surface never exposes directly. Passwords are stored as keyed hashes.
// Access tokens are signed JWTs carrying the session id, but presenting a
// token is never enough on its own: resolution always walks token → session
// row → user, so deleting the session (logout) invalidates the token even
// though its signature stays valid.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devserve/devserve/pkg/resterr"
	"github.com/devserve/devserve/pkg/storage"
)

// Protected collection names.
const (
	usersCollection    = "users"
	sessionsCollection = "sessions"
)

// Provider manages users and sessions in the protected instance.
type Provider struct {
	protected *storage.Instance
	identity  string
	secret    []byte
}

// NewProvider creates a Provider. identity names the unique credential field
// (usually "email"); secret keys both password hashing and token signing.
func NewProvider(protected *storage.Instance, identity string, secret []byte) *Provider {
	return &Provider{protected: protected, identity: identity, secret: secret}
}

// SeedUsers loads initial users into the protected instance, replacing its
// contents. A plaintext "password" field is converted to the stored hash.
func (p *Provider) SeedUsers(users map[string]storage.Record) {
	seeded := make(map[string]storage.Record, len(users))
	for id, user := range users {
		record := storage.CloneRecord(user)
		if password, ok := record["password"].(string); ok {
			delete(record, "password")
			record["hashedPassword"] = p.hash(password)
		}
		seeded[id] = record
	}
	p.protected.Seed(map[string]map[string]storage.Record{
		usersCollection:    seeded,
		sessionsCollection: {},
	})
}

// Register creates a new user from body, opens a session and returns the
// user record with an access token attached and credential material removed.
func (p *Provider) Register(body storage.Record) (storage.Record, error) {
	identityValue, _ := body[p.identity].(string)
	password, _ := body["password"].(string)
	if identityValue == "" || password == "" {
		return nil, &resterr.RequestError{Message: "Missing fields"}
	}

	existing, err := p.protected.Query(usersCollection, storage.Record{p.identity: identityValue})
	if err == nil && len(existing) > 0 {
		return nil, &resterr.ConflictError{
			Message: fmt.Sprintf("A user with the same %s already exists", p.identity),
		}
	}

	user := storage.CloneRecord(body)
	delete(user, "password")
	user["hashedPassword"] = p.hash(password)

	created, err := p.protected.Add(usersCollection, user)
	if err != nil {
		return nil, err
	}
	return p.openSession(created)
}

// Login checks credentials against the stored hash and opens a session.
// Bad identity and bad password produce the same error.
func (p *Provider) Login(body storage.Record) (storage.Record, error) {
	identityValue, _ := body[p.identity].(string)
	password, _ := body["password"].(string)

	matches, err := p.protected.Query(usersCollection, storage.Record{p.identity: identityValue})
	if err != nil || len(matches) != 1 {
		return nil, &resterr.CredentialError{Message: "Login or password don't match"}
	}
	user := matches[0]
	if user["hashedPassword"] != p.hash(password) {
		return nil, &resterr.CredentialError{Message: "Login or password don't match"}
	}
	return p.openSession(user)
}

// Logout removes the user's session, invalidating any outstanding token.
func (p *Provider) Logout(userID string) error {
	sessions, err := p.protected.Query(sessionsCollection, storage.Record{"userId": userID})
	if err != nil || len(sessions) == 0 {
		return &resterr.CredentialError{Message: "Invalid session"}
	}
	_, err = p.protected.Delete(sessionsCollection, sessions[0][storage.FieldID].(string))
	return err
}

// Resolve maps an access token back to its user record. Any break in the
// chain produces the same credential error.
func (p *Provider) Resolve(token string) (storage.Record, error) {
	invalid := &resterr.CredentialError{Message: "Invalid access token"}

	sessionID, err := p.sessionID(token)
	if err != nil {
		return nil, invalid
	}
	session, err := p.protected.Get(sessionsCollection, sessionID)
	if err != nil {
		return nil, invalid
	}
	// A rotated or logged-out token parses fine but no longer matches the
	// session row.
	if session["accessToken"] != token {
		return nil, invalid
	}
	userID, _ := session["userId"].(string)
	user, err := p.protected.Get(usersCollection, userID)
	if err != nil {
		return nil, invalid
	}
	return user, nil
}

// UserByID implements dispatch.UserDirectory, returning the user with
// credential material removed.
func (p *Provider) UserByID(id string) (storage.Record, error) {
	user, err := p.protected.Get(usersCollection, id)
	if err != nil {
		return nil, err
	}
	delete(user, "hashedPassword")
	return user, nil
}

// openSession reuses the user's existing session row if one exists, rotating
// its token; otherwise it creates one. Returns the user response: the record
// without the hash, with the fresh accessToken.
func (p *Provider) openSession(user storage.Record) (storage.Record, error) {
	userID, _ := user[storage.FieldID].(string)

	var sessionID string
	existing, err := p.protected.Query(sessionsCollection, storage.Record{"userId": userID})
	if err == nil && len(existing) > 0 {
		sessionID = existing[0][storage.FieldID].(string)
	} else {
		created, err := p.protected.Add(sessionsCollection, storage.Record{"userId": userID})
		if err != nil {
			return nil, err
		}
		sessionID = created[storage.FieldID].(string)
	}

	token, err := p.issueToken(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := p.protected.Merge(sessionsCollection, sessionID, storage.Record{"accessToken": token}); err != nil {
		return nil, err
	}

	response := storage.CloneRecord(user)
	delete(response, "hashedPassword")
	response["accessToken"] = token
	return response, nil
}

func (p *Provider) issueToken(sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sid": sessionID,
		"iat": time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func (p *Provider) sessionID(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}
	sessionID, ok := claims["sid"].(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("token has no session id")
	}
	return sessionID, nil
}

func (p *Provider) hash(password string) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}
