package permission

// Subject is the slice of an account record that permission resolution reads.
type Subject struct {
	Role              string
	CustomPermissions []string
	// RolePermissions is the permission set of a tenant-defined role assigned
	// to the account. HasRoleDefinition distinguishes an assigned role with no
	// permissions from no assigned role at all.
	RolePermissions   []string
	HasRoleDefinition bool
}

// Strategy is one resolution layer. Resolve returns ok=false to defer to the
// next layer.
type Strategy interface {
	Name() string
	Resolve(s Subject) (perms []string, ok bool)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc struct {
	Label string
	Fn    func(Subject) ([]string, bool)
}

func (f StrategyFunc) Name() string { return f.Label }

func (f StrategyFunc) Resolve(s Subject) ([]string, bool) { return f.Fn(s) }

// Custom resolves to the account's own permission list when it is non-empty.
// A non-empty list replaces role permissions entirely.
func Custom() Strategy {
	return StrategyFunc{Label: "custom", Fn: func(s Subject) ([]string, bool) {
		if len(s.CustomPermissions) == 0 {
			return nil, false
		}
		return s.CustomPermissions, true
	}}
}

// DynamicRole resolves to the permissions of an assigned tenant-defined role.
func DynamicRole() Strategy {
	return StrategyFunc{Label: "dynamic_role", Fn: func(s Subject) ([]string, bool) {
		if !s.HasRoleDefinition {
			return nil, false
		}
		return s.RolePermissions, true
	}}
}

// StaticTable resolves through a fixed role→permissions table. Unknown roles
// resolve to an empty set.
func StaticTable(table map[string][]string) Strategy {
	return StrategyFunc{Label: "static_table", Fn: func(s Subject) ([]string, bool) {
		return table[s.Role], true
	}}
}

// Resolver applies strategies in order and returns the first layer's answer.
type Resolver struct {
	strategies []Strategy
}

// NewResolver returns a Resolver over strategies. With no arguments it uses
// Custom, DynamicRole and StaticTable(DefaultRolePermissions).
func NewResolver(strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = []Strategy{Custom(), DynamicRole(), StaticTable(DefaultRolePermissions)}
	}
	return &Resolver{strategies: strategies}
}

// Resolve returns a fresh copy of the effective permissions for s so callers
// can never alias the account record or the static table.
func (r *Resolver) Resolve(s Subject) []string {
	for _, st := range r.strategies {
		perms, ok := st.Resolve(s)
		if !ok {
			continue
		}
		out := make([]string, len(perms))
		copy(out, perms)
		return out
	}
	return []string{}
}

// Layer reports which strategy answered for s, or "" when none did.
func (r *Resolver) Layer(s Subject) string {
	for _, st := range r.strategies {
		if _, ok := st.Resolve(s); ok {
			return st.Name()
		}
	}
	return ""
}

// Has reports whether perms contains want.
func Has(perms []string, want string) bool {
	for _, p := range perms {
		if p == want {
			return true
		}
	}
	return false
}
