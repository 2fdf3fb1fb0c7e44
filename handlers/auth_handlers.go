package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"pagelens/api/mailer"
	"pagelens/api/membership"
	"pagelens/api/middleware"
	"pagelens/api/models"
	"pagelens/api/oauth"
	"pagelens/api/store"
	"pagelens/api/utils"
)

type UserRepository interface {
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	FindOrCreateUser(ctx context.Context, email, name, provider string) (*models.User, error)
	UpdateProfile(ctx context.Context, id int64, name string, hashedPassword []byte) (*models.User, error)
	PromoteAdmin(ctx context.Context, email string) error
	CreateMagicLink(ctx context.Context, tokenHash, email string, expiresAt time.Time) error
	ConsumeMagicLink(ctx context.Context, tokenHash string) (string, error)
}

type AuthConfig struct {
	FrontendURL  string
	MagicLinkTTL time.Duration
	AdminEmails  []string
}

type AuthHandlers struct {
	Users  UserRepository
	Tokens *utils.TokenIssuer
	Mailer *mailer.Mailer
	OAuth  *oauth.Registry
	Gate   *membership.Gate
	cfg    AuthConfig
}

func NewAuthHandlers(users UserRepository, tokens *utils.TokenIssuer, m *mailer.Mailer, providers *oauth.Registry, gate *membership.Gate, cfg AuthConfig) *AuthHandlers {
	return &AuthHandlers{Users: users, Tokens: tokens, Mailer: m, OAuth: providers, Gate: gate, cfg: cfg}
}

func (h *AuthHandlers) issueTokens(user *models.User) (*models.TokenPair, error) {
	access, err := h.Tokens.GenerateJWT(user, utils.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := h.Tokens.GenerateJWT(user, utils.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(h.Tokens.AccessTTL() / time.Second),
		User:         user,
	}, nil
}

func (h *AuthHandlers) respondTokens(c *gin.Context, status int, user *models.User) {
	pair, err := h.issueTokens(user)
	if err != nil {
		log.Printf("ERROR: Failed to generate JWT for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}
	c.JSON(status, pair)
}

func (h *AuthHandlers) isAdminEmail(email string) bool {
	return slices.Contains(h.cfg.AdminEmails, utils.NormalizeEmail(email))
}

// ensureRole promotes users listed in ADMIN_EMAILS the first time they sign in.
func (h *AuthHandlers) ensureRole(ctx context.Context, user *models.User) *models.User {
	if user.Role == models.RoleAdmin || !h.isAdminEmail(user.Email) {
		return user
	}
	if err := h.Users.PromoteAdmin(ctx, user.Email); err != nil {
		log.Printf("ERROR: promoting %s: %v", user.Email, err)
		return user
	}
	user.Role = models.RoleAdmin
	return user
}

// RequestMagicLink emails a single-use sign-in link. The response is the same
// whether or not the address has an account.
func (h *AuthHandlers) RequestMagicLink(c *gin.Context) {
	var req models.MagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	email := utils.NormalizeEmail(req.Email)

	token, err := utils.GenerateOpaqueToken()
	if err != nil {
		log.Printf("ERROR: generating magic link token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create sign-in link"})
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Users.CreateMagicLink(ctx, utils.HashToken(token), email, time.Now().Add(h.cfg.MagicLinkTTL)); err != nil {
		log.Printf("ERROR: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create sign-in link"})
		return
	}

	link := strings.TrimRight(h.cfg.FrontendURL, "/") + "/auth/verify?token=" + url.QueryEscape(token)
	data := map[string]any{"Link": link, "ExpiresIn": h.cfg.MagicLinkTTL.String(), "Name": ""}
	if err := h.Mailer.Send(ctx, mailer.SlugMagicLink, email, data); err != nil {
		log.Printf("ERROR: sending magic link to %s: %v", email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send sign-in link"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If the address is valid, a sign-in link is on its way"})
}

func (h *AuthHandlers) ValidateMagicLink(c *gin.Context) {
	var req models.MagicLinkValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	email, err := h.Users.ConsumeMagicLink(ctx, utils.HashToken(req.Token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign-in link is invalid or has expired"})
			return
		}
		respondError(c, err, "validate sign-in link")
		return
	}
	user, err := h.Users.FindOrCreateUser(ctx, email, "", "magic_link")
	if err != nil {
		respondError(c, err, "sign in")
		return
	}
	h.respondTokens(c, http.StatusOK, h.ensureRole(ctx, user))
}

func (h *AuthHandlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("ERROR: Failed to hash password for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	user, err := h.Users.CreateUser(ctx, &models.User{
		Email:          utils.NormalizeEmail(req.Email),
		Name:           strings.TrimSpace(req.Name),
		HashedPassword: hashedPassword,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
			return
		}
		respondError(c, err, "register user")
		return
	}

	log.Printf("User registered: ID=%d, Email=%s", user.ID, user.Email)
	h.respondTokens(c, http.StatusCreated, h.ensureRole(ctx, user))
}

func (h *AuthHandlers) checkPassword(c *gin.Context) (*models.User, bool) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return nil, false
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	user, err := h.Users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("ERROR: login lookup for %s: %v", req.Email, err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return nil, false
	}
	if len(user.HashedPassword) == 0 || bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.Password)) != nil {
		log.Printf("Login failed for email %s: password mismatch", req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return nil, false
	}
	return h.ensureRole(ctx, user), true
}

func (h *AuthHandlers) Login(c *gin.Context) {
	user, ok := h.checkPassword(c)
	if !ok {
		return
	}
	log.Printf("User logged in: ID=%d, Email=%s", user.ID, user.Email)
	h.respondTokens(c, http.StatusOK, user)
}

func (h *AuthHandlers) AdminLogin(c *gin.Context) {
	user, ok := h.checkPassword(c)
	if !ok {
		return
	}
	if user.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}
	log.Printf("Admin logged in: ID=%d, Email=%s", user.ID, user.Email)
	h.respondTokens(c, http.StatusOK, user)
}

// Refresh exchanges a refresh token for a new pair. The user is reloaded so
// role changes take effect.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	claims, err := h.Tokens.ValidateJWT(req.RefreshToken, utils.TokenTypeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	user, err := h.Users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}
		respondError(c, err, "refresh token")
		return
	}
	h.respondTokens(c, http.StatusOK, user)
}

const oauthStateCookie = "oauth_state"

func (h *AuthHandlers) OAuthStart(c *gin.Context) {
	provider, err := h.OAuth.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown sign-in provider"})
		return
	}
	state, err := utils.GenerateOpaqueToken()
	if err != nil {
		log.Printf("ERROR: generating oauth state: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start sign-in"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, int((10 * time.Minute).Seconds()), "/api/auth/oauth", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

// OAuthCallback completes the provider flow and hands the tokens to the
// frontend in the URL fragment.
func (h *AuthHandlers) OAuthCallback(c *gin.Context) {
	provider, err := h.OAuth.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown sign-in provider"})
		return
	}
	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OAuth state"})
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/api/auth/oauth", "", c.Request.TLS != nil, true)
	if msg := c.Query("error"); msg != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign-in was cancelled", "details": msg})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()
	profile, err := provider.Exchange(ctx, c.Query("code"))
	if err != nil {
		log.Printf("ERROR: %s oauth callback: %v", provider.Name, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign-in with " + provider.Name + " failed"})
		return
	}
	user, err := h.Users.FindOrCreateUser(ctx, profile.Email, profile.Name, provider.Name)
	if err != nil {
		respondError(c, err, "sign in")
		return
	}
	pair, err := h.issueTokens(h.ensureRole(ctx, user))
	if err != nil {
		log.Printf("ERROR: Failed to generate JWT for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}
	fragment := url.Values{
		"access_token":  {pair.AccessToken},
		"refresh_token": {pair.RefreshToken},
		"expires_in":    {strconv.FormatInt(pair.ExpiresIn, 10)},
	}
	c.Redirect(http.StatusFound, strings.TrimRight(h.cfg.FrontendURL, "/")+"/auth/callback#"+fragment.Encode())
}

func (h *AuthHandlers) GetProfile(c *gin.Context) {
	ctx, cancel := dbContext(c)
	defer cancel()
	user, err := h.Users.GetUserByID(ctx, *middleware.UserID(c))
	if err != nil {
		respondError(c, err, "load profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "membership": membership.StatusOf(user)})
}

func (h *AuthHandlers) UpdateProfile(c *gin.Context) {
	var req models.ProfileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	id := *middleware.UserID(c)
	user, err := h.Users.GetUserByID(ctx, id)
	if err != nil {
		respondError(c, err, "load profile")
		return
	}

	name := user.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
	}
	var hashed []byte
	if req.Password != nil {
		if hashed, err = bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost); err != nil {
			log.Printf("ERROR: Failed to hash password for user %d: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
			return
		}
	}
	user, err = h.Users.UpdateProfile(ctx, id, name, hashed)
	if err != nil {
		respondError(c, err, "update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// MembershipStatus resolves the caller's plan from the Authorization header.
func (h *AuthHandlers) MembershipStatus(c *gin.Context) {
	ctx, cancel := dbContext(c)
	defer cancel()
	status, err := h.Gate.Resolve(ctx, middleware.BearerToken(c))
	if err != nil {
		respondError(c, err, "resolve membership")
		return
	}
	c.JSON(http.StatusOK, status)
}
