// Package rules implements collection access rules.
//
// A RuleSet maps collection names (or "*" for the wildcard defaults) to
// blocks of action rules, property rules and per-record overrides. Each rule
// is a literal bool, a list of roles, or an expression string evaluated
// against the request. Expressions are compiled once and cached; there is no
// arbitrary code execution — only what the expression language allows.
package rules

import (
	"fmt"
	"net/http"
)

// Action is one of the four access kinds a rule can govern.
type Action string

// Actions.
const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ActionFor maps an HTTP method onto its action.
func ActionFor(method string) Action {
	switch method {
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionRead
	}
}

// Role is a caller category a role-list rule can name.
type Role string

// Roles.
const (
	RoleGuest Role = "Guest"
	RoleUser  Role = "User"
	RoleOwner Role = "Owner"
)

// Rule is one access decision source: exactly one of Allow, Roles or Expr
// is set.
type Rule struct {
	Allow *bool
	Roles []Role
	Expr  string
}

// PropRules maps property names to their per-action rules.
type PropRules map[string]map[Action]*Rule

// RecordRules overrides collection rules for a single record id.
type RecordRules struct {
	Actions map[Action]*Rule
	Props   PropRules
}

// CollectionRules is the rule block for one collection.
type CollectionRules struct {
	Actions map[Action]*Rule
	Props   PropRules
	Records map[string]*RecordRules
}

// RuleSet maps collection names to their rule blocks. The "*" entry holds
// defaults applied to every collection.
type RuleSet map[string]*CollectionRules

// Action keys as they appear in rule files.
var actionKeys = map[string]Action{
	".read":   ActionRead,
	".create": ActionCreate,
	".update": ActionUpdate,
	".delete": ActionDelete,
}

// Parse builds a RuleSet from decoded YAML or JSON.
//
// Layout: collection → {".action": rule, "*": {prop: {".action": rule}},
// "<recordId>": {".action": rule, "*": prop rules}}. A rule value is a bool,
// a list of role names, or an expression string.
func Parse(raw map[string]any) (RuleSet, error) {
	set := make(RuleSet, len(raw))
	for collection, value := range raw {
		block, ok := toMap(value)
		if !ok {
			return nil, fmt.Errorf("rules for collection %q: expected a mapping, got %T", collection, value)
		}

		parsed := &CollectionRules{
			Actions: make(map[Action]*Rule),
			Records: make(map[string]*RecordRules),
		}
		for key, entry := range block {
			switch {
			case actionKeys[key] != "":
				rule, err := parseRule(entry)
				if err != nil {
					return nil, fmt.Errorf("rules for %s%s: %w", collection, key, err)
				}
				parsed.Actions[actionKeys[key]] = rule
			case key == "*":
				props, err := parseProps(entry)
				if err != nil {
					return nil, fmt.Errorf("property rules for %s: %w", collection, err)
				}
				parsed.Props = props
			default:
				record, err := parseRecord(entry)
				if err != nil {
					return nil, fmt.Errorf("rules for %s/%s: %w", collection, key, err)
				}
				parsed.Records[key] = record
			}
		}
		set[collection] = parsed
	}
	return set, nil
}

func parseRecord(value any) (*RecordRules, error) {
	block, ok := toMap(value)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", value)
	}
	record := &RecordRules{Actions: make(map[Action]*Rule)}
	for key, entry := range block {
		switch {
		case actionKeys[key] != "":
			rule, err := parseRule(entry)
			if err != nil {
				return nil, err
			}
			record.Actions[actionKeys[key]] = rule
		case key == "*":
			props, err := parseProps(entry)
			if err != nil {
				return nil, err
			}
			record.Props = props
		default:
			return nil, fmt.Errorf("unexpected key %q in record block", key)
		}
	}
	return record, nil
}

func parseProps(value any) (PropRules, error) {
	block, ok := toMap(value)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", value)
	}
	props := make(PropRules, len(block))
	for prop, entry := range block {
		actions, ok := toMap(entry)
		if !ok {
			return nil, fmt.Errorf("property %q: expected a mapping, got %T", prop, entry)
		}
		props[prop] = make(map[Action]*Rule, len(actions))
		for key, ruleValue := range actions {
			action := actionKeys[key]
			if action == "" {
				return nil, fmt.Errorf("property %q: unexpected key %q", prop, key)
			}
			rule, err := parseRule(ruleValue)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", prop, err)
			}
			props[prop][action] = rule
		}
	}
	return props, nil
}

func parseRule(value any) (*Rule, error) {
	switch v := value.(type) {
	case bool:
		allow := v
		return &Rule{Allow: &allow}, nil
	case string:
		return &Rule{Expr: v}, nil
	case []any:
		roles := make([]Role, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("role list holds %T, expected strings", item)
			}
			switch Role(name) {
			case RoleGuest, RoleUser, RoleOwner:
				roles = append(roles, Role(name))
			default:
				return nil, fmt.Errorf("unknown role %q", name)
			}
		}
		return &Rule{Roles: roles}, nil
	}
	return nil, fmt.Errorf("rule must be a bool, role list or expression, got %T", value)
}

// toMap accepts both decoder shapes: JSON gives map[string]any, YAML can
// give map[any]any for nested mappings.
func toMap(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	}
	return nil, false
}
