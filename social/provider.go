package social

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Provider describes how to run the implicit flow against one identity
// provider and how its callback page labels the resulting message.
type Provider struct {
	ID            string
	Name          string
	Endpoint      oauth2.Endpoint
	Scopes        []string
	ResponseType  string
	ResponseMode  string // empty leaves the provider default
	UseNonce      bool   // OIDC providers bind a nonce into the ID token
	MessageType   string
	StoragePrefix string // volatile key prefix, defaults to ID
	Issuer        string
}

// Google requests both an access token and an ID token.
func Google() Provider {
	return Provider{
		ID:   "google",
		Name: "Google",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: endpoints.Google.TokenURL,
		},
		Scopes:        []string{"openid", "email", "profile"},
		ResponseType:  "token id_token",
		UseNonce:      true,
		MessageType:   "GOOGLE_TOKEN",
		StoragePrefix: "google",
		Issuer:        "https://accounts.google.com",
	}
}

// Microsoft uses the multi tenant endpoint and only asks for an access token.
func Microsoft() Provider {
	return Provider{
		ID:            "microsoft",
		Name:          "Microsoft",
		Endpoint:      endpoints.AzureAD("common"),
		Scopes:        []string{"openid", "email", "profile"},
		ResponseType:  "token",
		ResponseMode:  "fragment",
		MessageType:   "MSAL_TOKEN",
		StoragePrefix: "ms",
	}
}

func (p Provider) StateKey() string {
	return p.prefix() + "_oauth_state"
}

func (p Provider) NonceKey() string {
	return p.prefix() + "_oauth_nonce"
}

func (p Provider) prefix() string {
	if p.StoragePrefix != "" {
		return p.StoragePrefix
	}
	return p.ID
}

// CallbackPath is the same origin page the provider redirects to.
func (p Provider) CallbackPath() string {
	return "/auth/" + p.ID + "/callback"
}

// AuthURL builds the authorize URL for an implicit flow request.
func (p Provider) AuthURL(clientID, redirectURL, state, nonce string) string {
	cfg := oauth2.Config{
		ClientID:    clientID,
		Endpoint:    p.Endpoint,
		RedirectURL: redirectURL,
		Scopes:      p.Scopes,
	}
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_type", p.ResponseType)}
	if p.ResponseMode != "" {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", p.ResponseMode))
	}
	if p.UseNonce && nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	return cfg.AuthCodeURL(state, opts...)
}
