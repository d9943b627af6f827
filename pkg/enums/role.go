package enums

// Role is the coarse permission carried in access tokens.
type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

var validRoles = set[Role]{RoleUser, RoleAdmin, RoleSystem}

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool { return validRoles.has(r) }
