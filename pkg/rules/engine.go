package rules

import (
	"net/http"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/devserve/devserve/pkg/dispatch"
	"github.com/devserve/devserve/pkg/resterr"
	"github.com/devserve/devserve/pkg/storage"
)

// Built-in defaults applied when neither the wildcard block nor the
// collection block names a rule. Reads default to allowed.
var builtinDefaults = map[Action]*Rule{
	ActionCreate: {Roles: []Role{RoleUser}},
	ActionUpdate: {Roles: []Role{RoleOwner}},
	ActionDelete: {Roles: []Role{RoleOwner}},
}

// Engine evaluates a RuleSet. Compiled expression programs are cached by
// source, so repeated requests against the same rule pay compilation once.
type Engine struct {
	rules RuleSet
	store *storage.Instance

	mu       sync.Mutex
	programs map[string]*vm.Program
}

// NewEngine creates an Engine over rules. store backs the get() expression
// helper.
func NewEngine(rules RuleSet, store *storage.Instance) *Engine {
	return &Engine{
		rules:    rules,
		store:    store,
		programs: make(map[string]*vm.Program),
	}
}

// Check decides whether the caller may perform action on the collection.
// record is the existing record (nil for collection-level checks), newData
// the incoming body, user the authenticated user (nil for guests).
//
// Precedence: built-in default < wildcard block < collection block <
// record-id block. A denied check returns AuthorizationError when the rule
// wanted an identity and none was present, CredentialError otherwise; the
// admin marker bypasses both.
func (e *Engine) Check(action Action, collection string, record, newData, user storage.Record, admin bool) error {
	rule := e.effectiveRule(action, collection, record)
	if rule == nil {
		return nil
	}

	allowed, err := e.resolve(rule, record, newData, user, admin)
	if err != nil {
		return err
	}
	if !allowed && !admin {
		return &resterr.CredentialError{}
	}
	return nil
}

// Redact removes properties whose rule denies the action, mutating record
// in place. For reads record is the outgoing copy; for writes it is the
// incoming body.
func (e *Engine) Redact(action Action, collection string, record, user storage.Record, admin bool) {
	if record == nil {
		return
	}
	props := e.effectiveProps(collection, record)
	for prop, actions := range props {
		rule, ok := actions[action]
		if !ok {
			continue
		}
		allowed, err := e.resolve(rule, record, nil, user, admin)
		if err != nil || !allowed {
			delete(record, prop)
		}
	}
}

// effectiveRule walks the precedence chain for one action.
func (e *Engine) effectiveRule(action Action, collection string, record storage.Record) *Rule {
	rule := builtinDefaults[action]
	if wildcard, ok := e.rules["*"]; ok {
		if r, ok := wildcard.Actions[action]; ok {
			rule = r
		}
	}
	block, ok := e.rules[collection]
	if !ok {
		return rule
	}
	if r, ok := block.Actions[action]; ok {
		rule = r
	}
	if id := recordID(record); id != "" {
		if override, ok := block.Records[id]; ok {
			if r, ok := override.Actions[action]; ok {
				rule = r
			}
		}
	}
	return rule
}

// effectiveProps picks the property rules for a record: a record-id block
// with its own property rules replaces the collection-level list.
func (e *Engine) effectiveProps(collection string, record storage.Record) PropRules {
	block, ok := e.rules[collection]
	if !ok {
		return nil
	}
	if id := recordID(record); id != "" {
		if override, ok := block.Records[id]; ok && override.Props != nil {
			return override.Props
		}
	}
	return block.Props
}

func (e *Engine) resolve(rule *Rule, record, newData, user storage.Record, admin bool) (bool, error) {
	switch {
	case rule.Allow != nil:
		return *rule.Allow, nil
	case rule.Expr != "":
		return e.eval(rule.Expr, record, newData, user)
	default:
		return e.checkRoles(rule.Roles, record, user, admin)
	}
}

func (e *Engine) checkRoles(roles []Role, record, user storage.Record, admin bool) (bool, error) {
	for _, role := range roles {
		if role == RoleGuest {
			return true, nil
		}
	}
	if user == nil {
		if admin {
			return true, nil
		}
		return false, &resterr.AuthorizationError{}
	}
	for _, role := range roles {
		switch role {
		case RoleUser:
			return true, nil
		case RoleOwner:
			if isOwner(user, record) {
				return true, nil
			}
		}
	}
	return false, nil
}

// eval runs an expression rule. The result is converted with JS-style
// truthiness; an evaluation fault denies.
func (e *Engine) eval(source string, record, newData, user storage.Record) (bool, error) {
	program, err := e.compile(source)
	if err != nil {
		return false, nil
	}

	env := map[string]any{
		"user":    map[string]any(user),
		"data":    map[string]any(record),
		"newData": map[string]any(newData),
		"get": func(collection, id string) map[string]any {
			rec, err := e.store.Get(collection, id)
			if err != nil {
				return nil
			}
			return rec
		},
		"isOwner": func(u, r map[string]any) bool {
			return isOwner(u, r)
		},
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, nil
	}
	return truthy(result), nil
}

func (e *Engine) compile(source string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.programs[source]; ok {
		return program, nil
	}
	program, err := expr.Compile(source)
	if err != nil {
		return nil, err
	}
	e.programs[source] = program
	return program, nil
}

func isOwner(user, record storage.Record) bool {
	if user == nil || record == nil {
		return false
	}
	userID, _ := user[storage.FieldID].(string)
	ownerID, _ := record[storage.FieldOwnerID].(string)
	return userID != "" && userID == ownerID
}

func recordID(record storage.Record) string {
	if record == nil {
		return ""
	}
	id, _ := record[storage.FieldID].(string)
	return id
}

func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case int:
		return value != 0
	case int64:
		return value != 0
	case float64:
		return value != 0
	default:
		return true
	}
}

// CapabilityProvider binds the engine to each request's identity and
// decorates the Context with an access checker.
type CapabilityProvider struct {
	engine *Engine
}

// NewCapabilityProvider creates the rules capability provider.
func NewCapabilityProvider(engine *Engine) *CapabilityProvider {
	return &CapabilityProvider{engine: engine}
}

// Name implements dispatch.Provider.
func (c *CapabilityProvider) Name() string { return "rules" }

// Requires implements dispatch.Provider. The engine reads records through
// storage and decides on the identity auth resolved.
func (c *CapabilityProvider) Requires() []string { return []string{"storage", "auth"} }

// Decorate implements dispatch.Provider.
func (c *CapabilityProvider) Decorate(ctx *dispatch.Context, _ *http.Request) error {
	ctx.Access = &boundChecker{engine: c.engine, user: ctx.User, admin: ctx.IsAdmin}
	return nil
}

// boundChecker adapts the engine to dispatch.AccessChecker for one request.
type boundChecker struct {
	engine *Engine
	user   storage.Record
	admin  bool
}

func (b *boundChecker) Check(action, collection string, record, newData storage.Record) error {
	return b.engine.Check(Action(action), collection, record, newData, b.user, b.admin)
}

func (b *boundChecker) Redact(action, collection string, record storage.Record) {
	b.engine.Redact(Action(action), collection, record, b.user, b.admin)
}
