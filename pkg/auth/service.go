package auth

import (
	"net/http"

	"github.com/devserve/devserve/pkg/dispatch"
	"github.com/devserve/devserve/pkg/resterr"
	"github.com/devserve/devserve/pkg/storage"
)

// Service exposes the provider as the users service: register, login,
// logout and me.
type Service struct {
	provider *Provider
}

// NewService creates the users service over provider.
func NewService(provider *Provider) *Service {
	return &Service{provider: provider}
}

// Name implements dispatch.Service.
func (s *Service) Name() string { return "users" }

// Handle implements dispatch.Service.
func (s *Service) Handle(ctx *dispatch.Context, req *dispatch.Request) (any, error) {
	action := ""
	if len(req.Tokens) > 0 {
		action = req.Tokens[0]
	}

	switch {
	case req.Method == http.MethodGet && action == "me":
		if ctx.User == nil {
			return nil, &resterr.AuthorizationError{}
		}
		user := storage.CloneRecord(ctx.User)
		delete(user, "hashedPassword")
		return user, nil

	case req.Method == http.MethodPost && action == "register":
		return s.provider.Register(req.BodyMap())

	case req.Method == http.MethodPost && action == "login":
		return s.provider.Login(req.BodyMap())

	case req.Method == http.MethodGet && action == "logout":
		if ctx.User == nil {
			return nil, &resterr.CredentialError{}
		}
		userID, _ := ctx.User[storage.FieldID].(string)
		if err := s.provider.Logout(userID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return nil, &resterr.NotFoundError{}
}

// Header names carrying identity information.
const (
	authorizationHeader = "X-Authorization"
	adminHeader         = "X-Admin"
)

// CapabilityProvider resolves the request's access token into a user and
// marks admin requests. It requires the storage capability so it sits in
// the standard pipeline position, even though it reads only the protected
// instance.
type CapabilityProvider struct {
	provider *Provider
}

// NewCapabilityProvider creates the auth capability provider.
func NewCapabilityProvider(provider *Provider) *CapabilityProvider {
	return &CapabilityProvider{provider: provider}
}

// Name implements dispatch.Provider.
func (c *CapabilityProvider) Name() string { return "auth" }

// Requires implements dispatch.Provider.
func (c *CapabilityProvider) Requires() []string { return []string{"storage"} }

// Decorate implements dispatch.Provider.
func (c *CapabilityProvider) Decorate(ctx *dispatch.Context, r *http.Request) error {
	ctx.Users = c.provider
	if _, ok := r.Header[http.CanonicalHeaderKey(adminHeader)]; ok {
		ctx.IsAdmin = true
	}

	token := r.Header.Get(authorizationHeader)
	if token == "" {
		return nil
	}
	user, err := c.provider.Resolve(token)
	if err != nil {
		return err
	}
	ctx.User = user
	ctx.Token = token
	return nil
}
