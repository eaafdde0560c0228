package models

// User roles. The core never authenticates; it consumes an identity that
// was resolved upstream.
const (
	RoleAnnotator = "annotator"
	RoleReviewer  = "reviewer"
	RoleAdmin     = "admin"
)

// Identity is the already-resolved current user.
type Identity struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}
