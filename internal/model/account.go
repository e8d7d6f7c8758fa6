package model

import "time"

// Account identifies one user of the coordinator. The account id doubles as
// the user id on the event surface.
type Account struct {
	ID              string    `db:"id" json:"id"`
	DisplayName     string    `db:"display_name" json:"displayName"`
	TokenHash       string    `db:"token_hash" json:"-"`
	RateLimitPerMin int       `db:"rate_limit_per_min" json:"rateLimitPerMin"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}
