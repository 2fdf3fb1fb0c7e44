package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"pagelens/api/models"
)

type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new UserStore instance.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, hashed_password, name, role, auth_provider, plan,
	subscription_status, portal_update_url, thrivecart_customer_id, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.HashedPassword,
		&user.Name,
		&user.Role,
		&user.AuthProvider,
		&user.Plan,
		&user.SubscriptionStatus,
		&user.PortalUpdateURL,
		&user.ThriveCartCustomerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

// CreateUser inserts a new user into the database.
func (s *UserStore) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.AuthProvider == "" {
		u.AuthProvider = "local"
	}
	if u.Plan == "" {
		u.Plan = models.PlanFree
	}
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = models.StatusActive
	}

	query := `
		INSERT INTO users (email, hashed_password, name, role, auth_provider, plan, subscription_status)
		VALUES (lower($1), $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns
	user, err := scanUser(s.db.QueryRowContext(ctx, query,
		u.Email, nullBytes(u.HashedPassword), u.Name, u.Role, u.AuthProvider, u.Plan, u.SubscriptionStatus))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user with email '%s': %w", u.Email, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("User created in DB: ID=%d, Email=%s", user.ID, user.Email)
	return user, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user with email '%s': %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// FindOrCreateUser returns the user with email, creating a password-less
// account for provider when there is none.
func (s *UserStore) FindOrCreateUser(ctx context.Context, email, name, provider string) (*models.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	user, err = s.CreateUser(ctx, &models.User{Email: email, Name: name, AuthProvider: provider})
	if err != nil {
		// Lost a race with a concurrent sign-in.
		if errors.Is(err, ErrDuplicate) {
			return s.GetUserByEmail(ctx, email)
		}
		return nil, err
	}
	return user, nil
}

// UpdateProfile changes the name and, when hashedPassword is non-nil, the password.
func (s *UserStore) UpdateProfile(ctx context.Context, id int64, name string, hashedPassword []byte) (*models.User, error) {
	query := `
		UPDATE users
		SET name = $2,
			hashed_password = COALESCE($3, hashed_password),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id, name, nullBytes(hashedPassword)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// PromoteAdmin sets the admin role for email if such a user exists.
func (s *UserStore) PromoteAdmin(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = 'admin', updated_at = now() WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return fmt.Errorf("failed to promote admin: %w", err)
	}
	return nil
}

// SubscriptionUpdate is what the billing webhook knows about a customer.
type SubscriptionUpdate struct {
	Email           string
	Name            string
	CustomerID      string
	Plan            string
	Status          string
	PortalUpdateURL string
}

// UpsertSubscription records the billing state for the user with u.Email,
// creating the account if needed.
func (s *UserStore) UpsertSubscription(ctx context.Context, u SubscriptionUpdate) (*models.User, error) {
	query := `
		INSERT INTO users (email, name, auth_provider, plan, subscription_status, portal_update_url, thrivecart_customer_id)
		VALUES (lower($1), $2, 'thrivecart', $3, $4, $5, $6)
		ON CONFLICT ((lower(email))) DO UPDATE SET
			plan = CASE WHEN EXCLUDED.plan = '' THEN users.plan ELSE EXCLUDED.plan END,
			subscription_status = EXCLUDED.subscription_status,
			portal_update_url = CASE WHEN EXCLUDED.portal_update_url = '' THEN users.portal_update_url ELSE EXCLUDED.portal_update_url END,
			thrivecart_customer_id = CASE WHEN EXCLUDED.thrivecart_customer_id = '' THEN users.thrivecart_customer_id ELSE EXCLUDED.thrivecart_customer_id END,
			updated_at = now()
		RETURNING ` + userColumns
	user, err := scanUser(s.db.QueryRowContext(ctx, query,
		u.Email, u.Name, u.Plan, u.Status, u.PortalUpdateURL, u.CustomerID))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription for %s: %w", u.Email, err)
	}
	return user, nil
}

// ListUsers returns a page of users with their analysis counts, newest first.
func (s *UserStore) ListUsers(ctx context.Context, limit, offset int) ([]models.UserSummary, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.hashed_password, u.name, u.role, u.auth_provider, u.plan,
			u.subscription_status, u.portal_update_url, u.thrivecart_customer_id, u.created_at, u.updated_at,
			(SELECT count(*) FROM analyses a WHERE a.user_id = u.id)
		FROM users u
		ORDER BY u.created_at DESC, u.id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []models.UserSummary
	for rows.Next() {
		var us models.UserSummary
		u := &us.User
		if err := rows.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.Name, &u.Role, &u.AuthProvider, &u.Plan,
			&u.SubscriptionStatus, &u.PortalUpdateURL, &u.ThriveCartCustomerID, &u.CreatedAt, &u.UpdatedAt,
			&us.AnalysisCount); err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, us)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating users: %w", err)
	}
	return out, total, nil
}

func (s *UserStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	log.Printf("User deleted from DB: ID=%d", id)
	return nil
}

// CreateMagicLink stores the hash of a single-use sign-in token.
func (s *UserStore) CreateMagicLink(ctx context.Context, tokenHash, email string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO magic_links (token_hash, email, expires_at) VALUES ($1, lower($2), $3)`,
		tokenHash, email, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store magic link: %w", err)
	}
	return nil
}

// ConsumeMagicLink marks the link used and returns its email. Expired or
// already used links are reported as ErrNotFound.
func (s *UserStore) ConsumeMagicLink(ctx context.Context, tokenHash string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `
		UPDATE magic_links SET used_at = now()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING email`, tokenHash).Scan(&email)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("magic link: %w", ErrNotFound)
		}
		return "", fmt.Errorf("failed to consume magic link: %w", err)
	}
	return email, nil
}
