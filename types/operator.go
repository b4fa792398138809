package types

import "time"

// Operator is an account allowed onto the admin surface.
type Operator struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
