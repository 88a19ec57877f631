package domain

// RoleAdmin marks a privileged caller.
const RoleAdmin = "admin"

// Identity is the authenticated caller of an operation.
type Identity struct {
	UID  string
	Role string
	// Attribute is the secondary request attribute used for rate limiting (client IP).
	Attribute string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanAccess reports whether the caller owns a resource or is an admin.
func (i Identity) CanAccess(ownerID string) bool {
	return i.IsAdmin() || (i.UID != "" && i.UID == ownerID)
}
