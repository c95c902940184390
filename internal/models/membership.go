package models

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAnalyst Role = "analyst"
	RoleMember  Role = "member"
)

// Membership relates a user to an organization. A missing status means active.
type Membership struct {
	OrgID  string `bson:"org_id" json:"org_id"`
	UserID string `bson:"user_id" json:"user_id"`
	Role   Role   `bson:"role" json:"role"`
	Status string `bson:"status,omitempty" json:"status,omitempty"`
}

// Caller identifies who is making a request.
type Caller struct {
	UserID     string
	Superadmin bool
}
