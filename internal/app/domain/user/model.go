package user

import "time"

// Roles recognised by the API layer.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User owns generations, executions and a notification channel.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
