package rules

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devserve/devserve/pkg/resterr"
	"github.com/devserve/devserve/pkg/storage"
)

func mustParse(t *testing.T, raw map[string]any) RuleSet {
	t.Helper()
	set, err := Parse(raw)
	require.NoError(t, err)
	return set
}

func TestActionFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ActionRead, ActionFor(http.MethodGet))
	assert.Equal(t, ActionCreate, ActionFor(http.MethodPost))
	assert.Equal(t, ActionUpdate, ActionFor(http.MethodPut))
	assert.Equal(t, ActionUpdate, ActionFor(http.MethodPatch))
	assert.Equal(t, ActionDelete, ActionFor(http.MethodDelete))
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("full block", func(t *testing.T) {
		set := mustParse(t, map[string]any{
			"recipes": map[string]any{
				".read":   true,
				".create": []any{"User"},
				"*": map[string]any{
					"secret": map[string]any{".read": false},
				},
				"r1": map[string]any{
					".update": []any{"Owner"},
				},
			},
		})

		block := set["recipes"]
		require.NotNil(t, block)
		assert.NotNil(t, block.Actions[ActionRead].Allow)
		assert.Equal(t, []Role{RoleUser}, block.Actions[ActionCreate].Roles)
		assert.Contains(t, block.Props, "secret")
		assert.Contains(t, block.Records, "r1")
	})

	t.Run("expression rule", func(t *testing.T) {
		set := mustParse(t, map[string]any{
			"recipes": map[string]any{".update": `isOwner(user, data)`},
		})
		assert.Equal(t, `isOwner(user, data)`, set["recipes"].Actions[ActionUpdate].Expr)
	})

	t.Run("yaml mapping shape accepted", func(t *testing.T) {
		set := mustParse(t, map[string]any{
			"recipes": map[any]any{".read": false},
		})
		assert.False(t, *set["recipes"].Actions[ActionRead].Allow)
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		_, err := Parse(map[string]any{
			"recipes": map[string]any{".read": []any{"Wizard"}},
		})
		require.Error(t, err)
	})

	t.Run("bad rule type rejected", func(t *testing.T) {
		_, err := Parse(map[string]any{
			"recipes": map[string]any{".read": 42},
		})
		require.Error(t, err)
	})
}

func TestCheckDefaults(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil, storage.NewInstance())
	owner := storage.Record{storage.FieldID: "u1"}
	stranger := storage.Record{storage.FieldID: "u2"}
	record := storage.Record{storage.FieldID: "r1", storage.FieldOwnerID: "u1"}

	t.Run("read is open", func(t *testing.T) {
		assert.NoError(t, e.Check(ActionRead, "recipes", record, nil, nil, false))
	})

	t.Run("create needs a user", func(t *testing.T) {
		err := e.Check(ActionCreate, "recipes", nil, nil, nil, false)
		var authErr *resterr.AuthorizationError
		require.ErrorAs(t, err, &authErr)

		assert.NoError(t, e.Check(ActionCreate, "recipes", nil, nil, stranger, false))
	})

	t.Run("update and delete need the owner", func(t *testing.T) {
		assert.NoError(t, e.Check(ActionUpdate, "recipes", record, nil, owner, false))
		assert.NoError(t, e.Check(ActionDelete, "recipes", record, nil, owner, false))

		err := e.Check(ActionUpdate, "recipes", record, nil, stranger, false)
		var cred *resterr.CredentialError
		require.ErrorAs(t, err, &cred)
	})

	t.Run("admin bypasses both denials", func(t *testing.T) {
		assert.NoError(t, e.Check(ActionUpdate, "recipes", record, nil, stranger, true))
		assert.NoError(t, e.Check(ActionCreate, "recipes", nil, nil, nil, true))
	})
}

func TestCheckPrecedence(t *testing.T) {
	t.Parallel()

	set := mustParse(t, map[string]any{
		"*": map[string]any{
			".read": false,
		},
		"recipes": map[string]any{
			".read": true,
			"r2": map[string]any{
				".read": false,
			},
		},
	})
	e := NewEngine(set, storage.NewInstance())

	t.Run("wildcard applies to unnamed collections", func(t *testing.T) {
		var cred *resterr.CredentialError
		require.ErrorAs(t, e.Check(ActionRead, "secrets", nil, nil, nil, false), &cred)
	})

	t.Run("collection overrides wildcard", func(t *testing.T) {
		assert.NoError(t, e.Check(ActionRead, "recipes", storage.Record{storage.FieldID: "r1"}, nil, nil, false))
	})

	t.Run("record id overrides collection", func(t *testing.T) {
		var cred *resterr.CredentialError
		err := e.Check(ActionRead, "recipes", storage.Record{storage.FieldID: "r2"}, nil, nil, false)
		require.ErrorAs(t, err, &cred)
	})
}

func TestCheckExpressions(t *testing.T) {
	t.Parallel()

	store := storage.NewInstance()
	store.Seed(map[string]map[string]storage.Record{
		"teams": {
			"t1": {"captainId": "u1"},
		},
	})

	set := mustParse(t, map[string]any{
		"matches": map[string]any{
			".update": `get("teams", data.teamId).captainId == user._id`,
		},
		"posts": map[string]any{
			".update": `isOwner(user, data)`,
			".create": `newData.title != ""`,
		},
	})
	e := NewEngine(set, store)

	captain := storage.Record{storage.FieldID: "u1"}
	other := storage.Record{storage.FieldID: "u2"}

	t.Run("get helper reads storage", func(t *testing.T) {
		match := storage.Record{storage.FieldID: "m1", "teamId": "t1"}
		assert.NoError(t, e.Check(ActionUpdate, "matches", match, nil, captain, false))

		var cred *resterr.CredentialError
		require.ErrorAs(t, e.Check(ActionUpdate, "matches", match, nil, other, false), &cred)
	})

	t.Run("isOwner helper", func(t *testing.T) {
		post := storage.Record{storage.FieldID: "p1", storage.FieldOwnerID: "u2"}
		assert.NoError(t, e.Check(ActionUpdate, "posts", post, nil, other, false))
	})

	t.Run("newData available on create", func(t *testing.T) {
		assert.NoError(t, e.Check(ActionCreate, "posts", nil, storage.Record{"title": "hi"}, captain, false))

		var cred *resterr.CredentialError
		err := e.Check(ActionCreate, "posts", nil, storage.Record{"title": ""}, captain, false)
		require.ErrorAs(t, err, &cred)
	})

	t.Run("broken expression denies", func(t *testing.T) {
		broken := mustParse(t, map[string]any{
			"x": map[string]any{".read": `this is not ( valid`},
		})
		eb := NewEngine(broken, store)
		var cred *resterr.CredentialError
		require.ErrorAs(t, eb.Check(ActionRead, "x", nil, nil, captain, false), &cred)
	})
}

func TestRedact(t *testing.T) {
	t.Parallel()

	set := mustParse(t, map[string]any{
		"profiles": map[string]any{
			"*": map[string]any{
				"ssn":   map[string]any{".read": false},
				"notes": map[string]any{".read": []any{"Owner"}, ".update": false},
			},
			"p2": map[string]any{
				"*": map[string]any{
					"everything": map[string]any{".read": false},
				},
			},
		},
	})
	e := NewEngine(set, storage.NewInstance())
	owner := storage.Record{storage.FieldID: "u1"}

	t.Run("denied props removed on read", func(t *testing.T) {
		record := storage.Record{storage.FieldID: "p1", storage.FieldOwnerID: "u2", "ssn": "123", "notes": "n", "name": "Ann"}
		e.Redact(ActionRead, "profiles", record, owner, false)

		assert.NotContains(t, record, "ssn")
		assert.NotContains(t, record, "notes", "owner-only prop hidden from others")
		assert.Contains(t, record, "name")
	})

	t.Run("owner keeps owner-gated props", func(t *testing.T) {
		record := storage.Record{storage.FieldID: "p1", storage.FieldOwnerID: "u1", "notes": "n"}
		e.Redact(ActionRead, "profiles", record, owner, false)
		assert.Contains(t, record, "notes")
	})

	t.Run("write redaction strips locked props", func(t *testing.T) {
		body := storage.Record{"notes": "tampered", "name": "Ann"}
		e.Redact(ActionUpdate, "profiles", body, owner, false)
		assert.NotContains(t, body, "notes")
		assert.Contains(t, body, "name")
	})

	t.Run("record block replaces collection prop rules", func(t *testing.T) {
		record := storage.Record{storage.FieldID: "p2", "ssn": "123", "everything": "x"}
		e.Redact(ActionRead, "profiles", record, owner, false)

		assert.NotContains(t, record, "everything")
		assert.Contains(t, record, "ssn", "collection prop rules not consulted for overridden record")
	})
}

func TestCapabilityProvider(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil, storage.NewInstance())
	p := NewCapabilityProvider(e)
	assert.Equal(t, "rules", p.Name())
	assert.Equal(t, []string{"storage", "auth"}, p.Requires())
}
