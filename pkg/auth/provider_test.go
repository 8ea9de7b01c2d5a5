package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devserve/devserve/pkg/dispatch"
	"github.com/devserve/devserve/pkg/resterr"
	"github.com/devserve/devserve/pkg/storage"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	return NewProvider(storage.NewInstance(), "email", []byte("test secret"))
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("creates user with token", func(t *testing.T) {
		p := newProvider(t)
		user, err := p.Register(storage.Record{"email": "peter@abv.bg", "password": "123456"})
		require.NoError(t, err)

		assert.Equal(t, "peter@abv.bg", user["email"])
		assert.NotEmpty(t, user["accessToken"])
		assert.NotContains(t, user, "password")
		assert.NotContains(t, user, "hashedPassword")
	})

	t.Run("extra profile fields survive", func(t *testing.T) {
		p := newProvider(t)
		user, err := p.Register(storage.Record{"email": "a@b.c", "password": "x", "username": "pete"})
		require.NoError(t, err)
		assert.Equal(t, "pete", user["username"])
	})

	t.Run("missing fields", func(t *testing.T) {
		p := newProvider(t)
		var reqErr *resterr.RequestError

		_, err := p.Register(storage.Record{"email": "a@b.c"})
		require.ErrorAs(t, err, &reqErr)

		_, err = p.Register(storage.Record{"password": "x"})
		require.ErrorAs(t, err, &reqErr)
	})

	t.Run("duplicate identity conflicts", func(t *testing.T) {
		p := newProvider(t)
		_, err := p.Register(storage.Record{"email": "a@b.c", "password": "x"})
		require.NoError(t, err)

		_, err = p.Register(storage.Record{"email": "a@b.c", "password": "y"})
		var conflict *resterr.ConflictError
		require.ErrorAs(t, err, &conflict)
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	_, err := p.Register(storage.Record{"email": "a@b.c", "password": "secret"})
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		user, err := p.Login(storage.Record{"email": "a@b.c", "password": "secret"})
		require.NoError(t, err)
		assert.NotEmpty(t, user["accessToken"])
	})

	t.Run("wrong password and unknown user share one message", func(t *testing.T) {
		_, badPass := p.Login(storage.Record{"email": "a@b.c", "password": "wrong"})
		_, badUser := p.Login(storage.Record{"email": "nobody@b.c", "password": "secret"})

		var cred *resterr.CredentialError
		require.ErrorAs(t, badPass, &cred)
		require.ErrorAs(t, badUser, &cred)
		assert.Equal(t, badPass.Error(), badUser.Error())
	})
}

func TestResolve(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	user, err := p.Register(storage.Record{"email": "a@b.c", "password": "x"})
	require.NoError(t, err)
	token := user["accessToken"].(string)

	t.Run("round-trips to the user", func(t *testing.T) {
		resolved, err := p.Resolve(token)
		require.NoError(t, err)
		assert.Equal(t, "a@b.c", resolved["email"])
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := p.Resolve("not.a.jwt")
		var cred *resterr.CredentialError
		require.ErrorAs(t, err, &cred)
	})

	t.Run("foreign signature", func(t *testing.T) {
		other := NewProvider(storage.NewInstance(), "email", []byte("other secret"))
		foreign, err := other.Register(storage.Record{"email": "a@b.c", "password": "x"})
		require.NoError(t, err)

		_, err = p.Resolve(foreign["accessToken"].(string))
		var cred *resterr.CredentialError
		require.ErrorAs(t, err, &cred)
	})

	t.Run("login rotates the token", func(t *testing.T) {
		again, err := p.Login(storage.Record{"email": "a@b.c", "password": "x"})
		require.NoError(t, err)
		fresh := again["accessToken"].(string)

		_, err = p.Resolve(fresh)
		require.NoError(t, err)

		_, err = p.Resolve(token)
		var cred *resterr.CredentialError
		require.ErrorAs(t, err, &cred, "old token stops resolving")
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	user, err := p.Register(storage.Record{"email": "a@b.c", "password": "x"})
	require.NoError(t, err)

	require.NoError(t, p.Logout(user[storage.FieldID].(string)))

	_, err = p.Resolve(user["accessToken"].(string))
	var cred *resterr.CredentialError
	require.ErrorAs(t, err, &cred)

	assert.Error(t, p.Logout(user[storage.FieldID].(string)), "no session left")
}

func TestSeedUsers(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	p.SeedUsers(map[string]storage.Record{
		"u1": {"email": "peter@abv.bg", "password": "123456"},
	})

	user, err := p.Login(storage.Record{"email": "peter@abv.bg", "password": "123456"})
	require.NoError(t, err)
	assert.Equal(t, "u1", user[storage.FieldID])
	assert.NotContains(t, user, "hashedPassword")
}

func TestService(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	svc := NewService(p)

	registered, err := svc.Handle(&dispatch.Context{}, &dispatch.Request{
		Method: http.MethodPost,
		Tokens: []string{"register"},
		Body:   map[string]any{"email": "a@b.c", "password": "x"},
	})
	require.NoError(t, err)
	user := registered.(storage.Record)

	t.Run("me requires identity", func(t *testing.T) {
		_, err := svc.Handle(&dispatch.Context{}, &dispatch.Request{Method: http.MethodGet, Tokens: []string{"me"}})
		var authErr *resterr.AuthorizationError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("me strips the hash", func(t *testing.T) {
		resolved, err := p.Resolve(user["accessToken"].(string))
		require.NoError(t, err)

		me, err := svc.Handle(&dispatch.Context{User: resolved}, &dispatch.Request{Method: http.MethodGet, Tokens: []string{"me"}})
		require.NoError(t, err)
		assert.NotContains(t, me.(storage.Record), "hashedPassword")
		assert.Equal(t, "a@b.c", me.(storage.Record)["email"])
	})

	t.Run("logout returns nil result", func(t *testing.T) {
		resolved, err := p.Resolve(user["accessToken"].(string))
		require.NoError(t, err)

		result, err := svc.Handle(&dispatch.Context{User: resolved}, &dispatch.Request{Method: http.MethodGet, Tokens: []string{"logout"}})
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("logout without identity is forbidden", func(t *testing.T) {
		_, err := svc.Handle(&dispatch.Context{}, &dispatch.Request{Method: http.MethodGet, Tokens: []string{"logout"}})
		var cred *resterr.CredentialError
		require.ErrorAs(t, err, &cred)
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := svc.Handle(&dispatch.Context{}, &dispatch.Request{Method: http.MethodGet, Tokens: []string{"whoami"}})
		var nf *resterr.NotFoundError
		require.ErrorAs(t, err, &nf)
	})
}

func TestCapabilityProvider(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	user, err := p.Register(storage.Record{"email": "a@b.c", "password": "x"})
	require.NoError(t, err)
	cap := NewCapabilityProvider(p)

	t.Run("valid token decorates user", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		r.Header.Set("X-Authorization", user["accessToken"].(string))

		ctx := &dispatch.Context{}
		require.NoError(t, cap.Decorate(ctx, r))
		assert.Equal(t, "a@b.c", ctx.User["email"])
		assert.NotNil(t, ctx.Users)
	})

	t.Run("invalid token fails the request", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		r.Header.Set("X-Authorization", "garbage")

		err := cap.Decorate(&dispatch.Context{}, r)
		var cred *resterr.CredentialError
		require.ErrorAs(t, err, &cred)
	})

	t.Run("admin header marks context", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/data/recipes", nil)
		r.Header.Set("X-Admin", "")

		ctx := &dispatch.Context{}
		require.NoError(t, cap.Decorate(ctx, r))
		assert.True(t, ctx.IsAdmin)
	})

	t.Run("guest passes through", func(t *testing.T) {
		ctx := &dispatch.Context{}
		require.NoError(t, cap.Decorate(ctx, httptest.NewRequest(http.MethodGet, "/data/recipes", nil)))
		assert.Nil(t, ctx.User)
		assert.False(t, ctx.IsAdmin)
	})
}
