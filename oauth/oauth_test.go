package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"golang.org/x/oauth2"

	"pagelens/api/config"
)

func providerServer(t *testing.T, profile, emails string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "the-code" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(profile))
	})
	mux.HandleFunc("/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(emails))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testProvider(srv *httptest.Server, decode func([]byte) (*User, error)) *Provider {
	return &Provider{
		Name: "test",
		Config: &oauth2.Config{
			ClientID:     "id",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		},
		UserInfoURL: srv.URL + "/user",
		EmailsURL:   srv.URL + "/emails",
		decode:      decode,
	}
}

func TestExchange_OIDCProfile(t *testing.T) {
	srv := providerServer(t, `{"sub":"auth0|42","email":"Jane@Example.com","email_verified":true,"name":"Jane"}`, `[]`)
	u, err := testProvider(srv, decodeOIDC).Exchange(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &User{ProviderUserID: "auth0|42", Email: "jane@example.com", Name: "Jane"}
	if !reflect.DeepEqual(u, want) {
		t.Fatalf("got %+v, want %+v", u, want)
	}
}

func TestExchange_GitHubFallsBackToEmails(t *testing.T) {
	srv := providerServer(t,
		`{"id":7,"login":"octo","name":"","email":null}`,
		`[{"email":"old@example.com","primary":false,"verified":true},{"email":"octo@example.com","primary":true,"verified":true}]`)
	u, err := testProvider(srv, decodeGitHub).Exchange(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Email != "octo@example.com" || u.Name != "octo" || u.ProviderUserID != "7" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestExchange_UnverifiedEmail(t *testing.T) {
	srv := providerServer(t, `{"sub":"x","email":"a@b.co","email_verified":false}`, `[]`)
	p := testProvider(srv, decodeOIDC)
	p.EmailsURL = ""
	if _, err := p.Exchange(context.Background(), "the-code"); !errors.Is(err, ErrNoEmail) {
		t.Fatalf("expected ErrNoEmail, got %v", err)
	}
}

func TestRegistry_OnlyConfigured(t *testing.T) {
	r := NewRegistry(config.OAuthConfig{
		GoogleClientID: "g",
		Auth0Domain:    "tenant.eu.auth0.com",
		Auth0ClientID:  "a",
	}, "https://api.example.com/")

	if got := r.Names(); !reflect.DeepEqual(got, []string{"auth0", "google"}) {
		t.Fatalf("unexpected providers %v", got)
	}
	if _, err := r.Get("github"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	p, _ := r.Get("auth0")
	if p.Config.Endpoint.TokenURL != "https://tenant.eu.auth0.com/oauth/token" {
		t.Errorf("unexpected token url %s", p.Config.Endpoint.TokenURL)
	}
	if p.Config.RedirectURL != "https://api.example.com/api/auth/oauth/auth0/callback" {
		t.Errorf("unexpected redirect %s", p.Config.RedirectURL)
	}
}
