package membership

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strings"

	"pagelens/api/models"
	"pagelens/api/store"
)

var (
	ErrBadSecret    = errors.New("invalid webhook secret")
	ErrUnknownEvent = errors.New("unhandled webhook event")
	ErrMissingEmail = errors.New("webhook has no customer email")
)

// ThriveCartEvent is the subset of a ThriveCart webhook we act on.
type ThriveCartEvent struct {
	Event      string
	Secret     string
	Email      string
	Name       string
	CustomerID string
	Product    string
	PortalURL  string
}

// StatusForEvent maps a ThriveCart event name to a subscription status.
func StatusForEvent(event string) (string, bool) {
	switch event {
	case "order.success", "order.subscription_payment":
		return models.StatusActive, true
	case "order.rebill_failed":
		return models.StatusPastDue, true
	case "order.subscription_cancelled":
		return models.StatusCanceled, true
	case "order.refund":
		return models.StatusRefunded, true
	}
	return "", false
}

type SubscriptionWriter interface {
	UpsertSubscription(ctx context.Context, u store.SubscriptionUpdate) (*models.User, error)
}

type ThriveCart struct {
	secret string
	users  SubscriptionWriter
}

func NewThriveCart(secret string, users SubscriptionWriter) *ThriveCart {
	return &ThriveCart{secret: secret, users: users}
}

// Apply checks the shared secret and records the subscription change.
func (t *ThriveCart) Apply(ctx context.Context, ev ThriveCartEvent) (*models.User, error) {
	if t.secret == "" || subtle.ConstantTimeCompare([]byte(ev.Secret), []byte(t.secret)) != 1 {
		return nil, ErrBadSecret
	}
	status, ok := StatusForEvent(ev.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Event)
	}
	email := strings.TrimSpace(ev.Email)
	if email == "" {
		return nil, ErrMissingEmail
	}

	plan := planFromProduct(ev.Product)
	user, err := t.users.UpsertSubscription(ctx, store.SubscriptionUpdate{
		Email:           email,
		Name:            strings.TrimSpace(ev.Name),
		CustomerID:      ev.CustomerID,
		Plan:            plan,
		Status:          status,
		PortalUpdateURL: ev.PortalURL,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("ThriveCart %s: user %d (%s) is now %s", ev.Event, user.ID, user.Email, status)
	return user, nil
}

// DefaultPlan is recorded when the webhook carries no product name.
const DefaultPlan = "pro"

func planFromProduct(product string) string {
	p := strings.ToLower(strings.TrimSpace(product))
	if p == "" {
		return DefaultPlan
	}
	return strings.Join(strings.Fields(p), "-")
}
