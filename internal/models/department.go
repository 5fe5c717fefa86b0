package models

import "time"

// Department is a municipal department that issues are routed to.
// Departments are seeded once and read-only afterwards.
type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"` // notification address
	CreatedAt time.Time `json:"created_at"`
}
