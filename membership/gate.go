// Package membership decides whether a caller may start analyses, based on
// the subscription state the billing webhooks keep on the user.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pagelens/api/models"
	"pagelens/api/store"
	"pagelens/api/utils"
)

var ErrUnauthorized = errors.New("invalid or expired token")

type TokenValidator interface {
	ValidateJWT(tokenString, tokenType string) (*utils.Claims, error)
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type Gate struct {
	tokens TokenValidator
	users  UserLookup
}

func NewGate(tokens TokenValidator, users UserLookup) *Gate {
	return &Gate{tokens: tokens, users: users}
}

// Anonymous is the status of callers without a token.
func Anonymous() *models.MembershipStatus {
	return &models.MembershipStatus{Plan: models.PlanFree, Status: models.StatusActive, AccessGranted: true}
}

// Resolve turns an Authorization header value (with or without the Bearer
// prefix) into a membership status.
func (g *Gate) Resolve(ctx context.Context, bearer string) (*models.MembershipStatus, error) {
	token := strings.TrimSpace(bearer)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return Anonymous(), nil
	}

	claims, err := g.tokens.ValidateJWT(token, utils.TokenTypeAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return g.ForUser(ctx, claims.UserID)
}

// ForUser resolves the status of an already authenticated user.
func (g *Gate) ForUser(ctx context.Context, userID int64) (*models.MembershipStatus, error) {
	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d no longer exists", ErrUnauthorized, userID)
		}
		return nil, err
	}
	return StatusOf(user), nil
}

// StatusOf derives the membership status from the stored subscription.
func StatusOf(user *models.User) *models.MembershipStatus {
	id := user.ID
	plan := user.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	status := user.SubscriptionStatus
	if status == "" {
		status = models.StatusActive
	}
	ms := &models.MembershipStatus{
		UserID:          &id,
		Plan:            plan,
		Status:          status,
		AccessGranted:   status == models.StatusActive,
		PortalUpdateURL: user.PortalUpdateURL,
	}
	if !ms.AccessGranted {
		ms.StatusReason = reason(status)
	}
	return ms
}

func reason(status string) string {
	switch status {
	case models.StatusPastDue:
		return "Your last payment failed. Update your payment method to continue."
	case models.StatusCanceled:
		return "Your subscription has been canceled."
	case models.StatusSuspended:
		return "Your account has been suspended. Please contact support."
	case models.StatusRefunded:
		return "Your purchase was refunded."
	default:
		return "Your membership is not active."
	}
}
