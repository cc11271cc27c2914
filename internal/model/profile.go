package model

// Profile is the public view of a user as served by the identity service.
// It is fetched on demand and never mutated by the gateway.
type Profile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}
