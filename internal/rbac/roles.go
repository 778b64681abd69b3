package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdministrator   = "administrator"
	RoleAgent           = "agent"
	RoleSupervisor      = "supervisor"
	RoleNetworkOperator = "network_operator" // hidden role
)

func IsAdministrator(role string) bool { return role == RoleAdministrator }

func IsHiddenRole(role string) bool { return role == RoleNetworkOperator }
