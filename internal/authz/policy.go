// Package authz decides whether a resolved identity may perform an action on
// a resource. Decisions are values; rendering a denial is the caller's job.
package authz

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/fixmart-dev/fixmart/internal/identity"
)

//go:embed policy.yaml
var defaultPolicy []byte

// Reason explains a denied decision
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "Unauthenticated"
	ReasonForbiddenRole   Reason = "ForbiddenRole"
	ReasonNotOwner        Reason = "NotOwner"
	ReasonNoPolicy        Reason = "NoPolicy"
)

// Decision is the outcome of an authorization check. It is never persisted.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason Reason `json:"reason,omitempty"`
}

func allow() Decision              { return Decision{Allow: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// Action names an operation, e.g. "product:update"
type Action string

// Resource is the target of an action. Ownership holds when the identity is
// any of OwnerIDs: transactions are owned by buyer and seller alike.
type Resource struct {
	Kind     string
	ID       string
	OwnerIDs []string
}

// Owned builds a resource owned by the given users
func Owned(kind, id string, owners ...string) Resource {
	return Resource{Kind: kind, ID: id, OwnerIDs: owners}
}

// IsOwner reports whether userID owns the resource
func (r Resource) IsOwner(userID string) bool {
	return userID != "" && slices.Contains(r.OwnerIDs, userID)
}

// Rule is the declarative policy of one action
type Rule struct {
	Action            Action              `yaml:"action"`
	AdminOnly         bool                `yaml:"admin_only"`
	Roles             []identity.UserType `yaml:"roles"`
	AdminBypassesRole bool                `yaml:"admin_bypasses_role"`
	Owner             bool                `yaml:"owner"`
	StrictOwner       bool                `yaml:"strict_owner"`
}

type policyFile struct {
	Rules []Rule `yaml:"rules"`
}

// Policy is an immutable set of rules, safe for concurrent use
type Policy struct {
	rules map[Action]Rule
}

var ErrInvalidPolicy = errors.New("invalid policy")

// NewPolicy validates rules and builds a policy
func NewPolicy(rules []Rule) (*Policy, error) {
	p := &Policy{rules: make(map[Action]Rule, len(rules))}

	for i, rule := range rules {
		if rule.Action == "" {
			return nil, fmt.Errorf("%w: rule %d has no action", ErrInvalidPolicy, i)
		}
		if _, dup := p.rules[rule.Action]; dup {
			return nil, fmt.Errorf("%w: duplicate action %q", ErrInvalidPolicy, rule.Action)
		}
		for _, role := range rule.Roles {
			if !role.Valid() {
				return nil, fmt.Errorf("%w: action %q references unknown role %q", ErrInvalidPolicy, rule.Action, role)
			}
		}
		if rule.StrictOwner && !rule.Owner {
			return nil, fmt.Errorf("%w: action %q sets strict_owner without owner", ErrInvalidPolicy, rule.Action)
		}
		p.rules[rule.Action] = rule
	}

	return p, nil
}

// ParsePolicy decodes a YAML policy document, rejecting unknown keys
func ParsePolicy(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file policyFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	return NewPolicy(file.Rules)
}

// DefaultPolicy returns the policy compiled into the binary
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads the policy at path, or the default policy when path is empty
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// Rule returns the rule of an action
func (p *Policy) Rule(action Action) (Rule, bool) {
	rule, ok := p.rules[action]
	return rule, ok
}

// Authorize evaluates authentication, admin-only, role and ownership checks
// in that order. The first failing check determines the reason.
func (p *Policy) Authorize(ident *identity.Identity, action Action, resource Resource) Decision {
	if ident == nil {
		return deny(ReasonUnauthenticated)
	}

	rule, ok := p.rules[action]
	if !ok {
		return deny(ReasonNoPolicy)
	}

	if rule.AdminOnly && !ident.IsAdmin {
		return deny(ReasonForbiddenRole)
	}

	if len(rule.Roles) > 0 && !slices.Contains(rule.Roles, ident.Type) {
		if !(rule.AdminBypassesRole && ident.IsAdmin) {
			return deny(ReasonForbiddenRole)
		}
	}

	if rule.Owner && !resource.IsOwner(ident.ID) {
		if !ident.IsAdmin || rule.StrictOwner {
			return deny(ReasonNotOwner)
		}
	}

	return allow()
}

// CanActivate is the route guard: true iff the request carries an identity
func CanActivate(rc *identity.RequestContext) bool {
	return rc.Authenticated()
}
