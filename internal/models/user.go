package models

// RoleOperator may schedule and trigger chaos actions; RoleViewer only reads.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}
