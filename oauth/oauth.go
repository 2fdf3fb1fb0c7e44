// Package oauth wraps the third-party sign-in providers behind one shape:
// build the consent URL, then exchange the callback code for a profile.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"pagelens/api/config"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrNoEmail         = errors.New("provider did not return a verified email")
)

const maxProfileBody = 1 << 20

// User is the normalized profile returned by a provider.
type User struct {
	ProviderUserID string
	Email          string
	Name           string
}

// Provider is one configured sign-in provider.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string
	// EmailsURL is queried when the profile carries no email (GitHub).
	EmailsURL string
	decode    func([]byte) (*User, error)
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.Config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the callback code for a token and fetches the profile.
func (p *Provider) Exchange(ctx context.Context, code string) (*User, error) {
	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}
	client := p.Config.Client(ctx, token)

	body, err := getJSON(ctx, client, p.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s userinfo: %w", p.Name, err)
	}
	user, err := p.decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s userinfo: %w", p.Name, err)
	}
	if user.Email == "" && p.EmailsURL != "" {
		if user.Email, err = primaryEmail(ctx, client, p.EmailsURL); err != nil {
			return nil, err
		}
	}
	if user.Email == "" {
		return nil, ErrNoEmail
	}
	user.Email = strings.ToLower(user.Email)
	return user, nil
}

// Registry holds the providers that have credentials configured.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry builds every provider with a client id; callbackBase is the
// public API URL the provider redirects back to.
func NewRegistry(cfg config.OAuthConfig, callbackBase string) *Registry {
	r := &Registry{providers: map[string]*Provider{}}
	redirect := func(name string) string {
		return strings.TrimRight(callbackBase, "/") + "/api/auth/oauth/" + name + "/callback"
	}

	if cfg.GoogleClientID != "" {
		r.Add(&Provider{
			Name: "google",
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  redirect("google"),
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint:     google.Endpoint,
			},
			UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
			decode:      decodeGoogle,
		})
	}
	if cfg.GitHubClientID != "" {
		r.Add(&Provider{
			Name: "github",
			Config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  redirect("github"),
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     github.Endpoint,
			},
			UserInfoURL: "https://api.github.com/user",
			EmailsURL:   "https://api.github.com/user/emails",
			decode:      decodeGitHub,
		})
	}
	if cfg.Auth0ClientID != "" && cfg.Auth0Domain != "" {
		base := "https://" + strings.TrimSuffix(strings.TrimPrefix(cfg.Auth0Domain, "https://"), "/")
		r.Add(&Provider{
			Name: "auth0",
			Config: &oauth2.Config{
				ClientID:     cfg.Auth0ClientID,
				ClientSecret: cfg.Auth0ClientSecret,
				RedirectURL:  redirect("auth0"),
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint: oauth2.Endpoint{
					AuthURL:  base + "/authorize",
					TokenURL: base + "/oauth/token",
				},
			},
			UserInfoURL: base + "/userinfo",
			decode:      decodeOIDC,
		})
	}
	return r
}

func (r *Registry) Add(p *Provider) {
	if p.decode == nil {
		p.decode = decodeOIDC
	}
	r.providers[p.Name] = p
}

func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists configured providers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

func decodeGoogle(body []byte) (*User, error) {
	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	u := &User{ProviderUserID: info.ID, Name: info.Name}
	if info.VerifiedEmail {
		u.Email = info.Email
	}
	return u, nil
}

func decodeGitHub(body []byte) (*User, error) {
	var info struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	name := info.Name
	if name == "" {
		name = info.Login
	}
	return &User{ProviderUserID: fmt.Sprint(info.ID), Email: info.Email, Name: name}, nil
}

func decodeOIDC(body []byte) (*User, error) {
	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	u := &User{ProviderUserID: info.Sub, Name: info.Name}
	if info.EmailVerified {
		u.Email = info.Email
	}
	return u, nil
}

func primaryEmail(ctx context.Context, client *http.Client, url string) (string, error) {
	body, err := getJSON(ctx, client, url)
	if err != nil {
		return "", fmt.Errorf("fetch emails: %w", err)
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", fmt.Errorf("decode emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
