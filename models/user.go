package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type MagicLinkRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type MagicLinkValidateRequest struct {
	Token string `json:"token" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type ProfileUpdateRequest struct {
	Name     *string `json:"name"`
	Password *string `json:"password" binding:"omitempty,min=8"`
}

// TokenPair is returned by every successful sign-in path.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *User  `json:"user"`
}

type User struct {
	ID                   int64     `json:"id"`
	Email                string    `json:"email"`
	HashedPassword       []byte    `json:"-"`
	Name                 string    `json:"name"`
	Role                 string    `json:"role"`
	AuthProvider         string    `json:"auth_provider"`
	Plan                 string    `json:"plan"`
	SubscriptionStatus   string    `json:"subscription_status"`
	PortalUpdateURL      string    `json:"portal_update_url,omitempty"`
	ThriveCartCustomerID string    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// UserSummary is a row of the admin user list.
type UserSummary struct {
	User
	AnalysisCount int `json:"analysis_count"`
}
