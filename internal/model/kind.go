package model

import (
	"fmt"
	"strings"
	"unicode"
)

// Identity is the kind-specific address of an action: verb and path for REST,
// operation type and field for GraphQL, interface and method for RPC.
type Identity struct {
	Scope     string `json:"scope" yaml:"scope"`
	Operation string `json:"operation" yaml:"operation"`
}

// ActionKind supplies the protocol-specific rules the generic engine needs:
// naming, structural validation and resource-dependency hints.
type ActionKind interface {
	Name() string
	ID(identity Identity) string
	Validate(a *Action) error
	// Creates reports whether a brings a new resource into existence.
	Creates(a *Action) bool
	// Resource names the resource collection a operates on.
	Resource(a *Action) string
	// References lists the input params that identify an existing resource.
	References(a *Action) []*Param
	// Produced lists the response params whose values become available after
	// a is executed.
	Produced(a *Action) []*Param
}

// KindByName resolves the built-in kinds.
func KindByName(name string) (ActionKind, error) {
	switch strings.ToLower(name) {
	case "", "rest":
		return RESTKind{}, nil
	case "graphql":
		return GraphQLKind{}, nil
	case "rpc":
		return RPCKind{}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", name)
	}
}

type RESTKind struct{}

var restVerbs = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {}, "HEAD": {}, "OPTIONS": {},
}

func (RESTKind) Name() string { return "rest" }

func (RESTKind) ID(identity Identity) string {
	return strings.ToUpper(identity.Scope) + " " + identity.Operation
}

func (RESTKind) Validate(a *Action) error {
	verb := strings.ToUpper(a.identity.Scope)
	if _, ok := restVerbs[verb]; !ok {
		return fmt.Errorf("%w: %s: unknown verb %q", ErrInvalidAction, a.ID(), a.identity.Scope)
	}
	if !strings.HasPrefix(a.identity.Operation, "/") {
		return fmt.Errorf("%w: %s: path must start with /", ErrInvalidAction, a.ID())
	}
	for _, name := range pathTemplateNames(a.identity.Operation) {
		p, ok := a.Param(name)
		if !ok || p.location != LocationPath {
			return fmt.Errorf("%w: %s: path variable {%s} has no path param", ErrInvalidAction, a.ID(), name)
		}
	}
	return nil
}

func (RESTKind) Creates(a *Action) bool {
	return strings.ToUpper(a.identity.Scope) == "POST"
}

func (RESTKind) Resource(a *Action) string {
	segments := strings.Split(strings.Trim(a.identity.Operation, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if s := segments[i]; s != "" && !strings.HasPrefix(s, "{") {
			return s
		}
	}
	return ""
}

// References returns the path params; REST addresses existing resources
// through the path.
func (RESTKind) References(a *Action) []*Param {
	var out []*Param
	for _, p := range a.params {
		if p.location == LocationPath {
			out = append(out, p)
		}
	}
	return out
}

func (RESTKind) Produced(a *Action) []*Param { return responseParams(a) }

type GraphQLKind struct{}

func (GraphQLKind) Name() string { return "graphql" }

func (GraphQLKind) ID(identity Identity) string {
	return identity.Scope + "." + identity.Operation
}

func (GraphQLKind) Validate(a *Action) error {
	switch a.identity.Scope {
	case "Query", "Mutation":
	default:
		return fmt.Errorf("%w: %s: operation type must be Query or Mutation", ErrInvalidAction, a.ID())
	}
	if a.identity.Operation == "" {
		return fmt.Errorf("%w: %s: empty field", ErrInvalidAction, a.ID())
	}
	return nil
}

var creatorPrefixes = []string{"create", "add", "new", "insert", "register"}

func (GraphQLKind) Creates(a *Action) bool {
	return a.identity.Scope == "Mutation" && hasAnyPrefix(strings.ToLower(a.identity.Operation), creatorPrefixes)
}

func (GraphQLKind) Resource(a *Action) string {
	return stripVerb(a.identity.Operation)
}

func (GraphQLKind) References(a *Action) []*Param { return identifierParams(a) }
func (GraphQLKind) Produced(a *Action) []*Param   { return responseParams(a) }

type RPCKind struct{}

func (RPCKind) Name() string { return "rpc" }

func (RPCKind) ID(identity Identity) string {
	return identity.Scope + "/" + identity.Operation
}

func (RPCKind) Validate(a *Action) error {
	if a.identity.Scope == "" || a.identity.Operation == "" {
		return fmt.Errorf("%w: %s: interface and method are required", ErrInvalidAction, a.ID())
	}
	return nil
}

func (RPCKind) Creates(a *Action) bool {
	return hasAnyPrefix(strings.ToLower(a.identity.Operation), creatorPrefixes)
}

func (RPCKind) Resource(a *Action) string {
	if r := stripVerb(a.identity.Operation); r != "" {
		return r
	}
	return strings.ToLower(strings.TrimSuffix(a.identity.Scope, "Service"))
}

func (RPCKind) References(a *Action) []*Param { return identifierParams(a) }
func (RPCKind) Produced(a *Action) []*Param   { return responseParams(a) }

func responseParams(a *Action) []*Param {
	var out []*Param
	for _, p := range a.params {
		if p.location == LocationResponse {
			out = append(out, p)
		}
	}
	return out
}

func identifierParams(a *Action) []*Param {
	var out []*Param
	for _, p := range a.params {
		if p.location != LocationResponse && IsIdentifierName(p.name) {
			out = append(out, p)
		}
	}
	return out
}

// IsIdentifierName reports whether name looks like a resource identifier:
// "id", "itemId", "item_id".
func IsIdentifierName(name string) bool {
	lower := strings.ToLower(name)
	if lower == "id" || strings.HasSuffix(lower, "_id") {
		return true
	}
	if len(name) > 2 && strings.HasSuffix(name, "Id") {
		return true
	}
	return strings.HasSuffix(name, "ID") && len(name) > 2
}

func pathTemplateNames(path string) []string {
	var out []string
	for {
		open := strings.IndexByte(path, '{')
		if open < 0 {
			return out
		}
		end := strings.IndexByte(path[open:], '}')
		if end < 0 {
			return out
		}
		out = append(out, path[open+1:open+end])
		path = path[open+end+1:]
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// stripVerb turns "createItem" or "GetItem" into "item".
func stripVerb(operation string) string {
	runes := []rune(operation)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) {
			return strings.ToLower(string(runes[i:]))
		}
	}
	return strings.ToLower(operation)
}
