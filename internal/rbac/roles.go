package rbac

// Role names. Keep these stable; they are part of the token contract.
const (
	// RoleOwner manages numbers and everything an operator can do.
	RoleOwner = "owner"
	// RoleOperator places and hangs up calls.
	RoleOperator = "operator"
	// RoleViewer reads calls and numbers.
	RoleViewer     = "viewer"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleOwner, RoleOperator, RoleViewer, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// Read, Operate and Manage are the role sets used by /v1 routes.
var (
	Read    = []string{RoleOwner, RoleOperator, RoleViewer}
	Operate = []string{RoleOwner, RoleOperator}
	Manage  = []string{RoleOwner}
)
