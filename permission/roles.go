package permission

// Platform roles.
const (
	RoleSuperAdmin    = "SUPER_ADMIN"
	RoleAdmin         = "ADMIN"
	RoleRecruiter     = "RECRUITER"
	RoleHiringManager = "HIRING_MANAGER"
	RoleInterviewer   = "INTERVIEWER"
	RoleCandidate     = "CANDIDATE"
	RoleVendor        = "VENDOR"
)

// Roles lists every platform role, most privileged first.
var Roles = []string{
	RoleSuperAdmin,
	RoleAdmin,
	RoleRecruiter,
	RoleHiringManager,
	RoleInterviewer,
	RoleCandidate,
	RoleVendor,
}

// IsRole reports whether role is a known platform role.
func IsRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

var (
	jobPerms         = []string{"jobs:read", "jobs:create", "jobs:update", "jobs:delete", "jobs:publish"}
	candidatePerms   = []string{"candidates:read", "candidates:create", "candidates:update", "candidates:delete"}
	applicationPerms = []string{"applications:read", "applications:update", "applications:move_stage"}
	interviewPerms   = []string{"interviews:read", "interviews:schedule", "interviews:feedback"}
	offerPerms       = []string{"offers:read", "offers:create", "offers:approve"}
	adminPerms       = []string{"users:read", "users:invite", "users:update", "roles:manage", "settings:manage", "audit:read"}
)

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultRolePermissions is the static role→permissions table consulted when an
// account has neither custom permissions nor a tenant-defined role.
var DefaultRolePermissions = map[string][]string{
	RoleSuperAdmin: concat(jobPerms, candidatePerms, applicationPerms, interviewPerms, offerPerms, adminPerms, []string{"tenants:manage"}),
	RoleAdmin:      concat(jobPerms, candidatePerms, applicationPerms, interviewPerms, offerPerms, adminPerms),
	RoleRecruiter: concat(
		[]string{"jobs:read", "jobs:create", "jobs:update", "jobs:publish"},
		candidatePerms, applicationPerms, interviewPerms,
		[]string{"offers:read", "offers:create"},
	),
	RoleHiringManager: {
		"jobs:read", "jobs:create", "candidates:read", "applications:read",
		"applications:move_stage", "interviews:read", "interviews:feedback",
		"offers:read", "offers:approve",
	},
	RoleInterviewer: {"candidates:read", "interviews:read", "interviews:feedback"},
	RoleCandidate:   {"profile:read", "profile:update", "applications:own"},
	RoleVendor:      {"jobs:read", "candidates:create", "candidates:read_own"},
}
