// Package variant describes the differences between the OneDrive API
// flavors (consumer OneDrive, OneDrive for Business on Office 365, and the
// Microsoft Graph API) as plain data. The token manager and the REST client
// run one shared algorithm parameterized by a Profile instead of branching on
// account type.
package variant

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/text/unicode/norm"
)

// Kind identifies an API flavor.
type Kind string

// Supported API flavors.
const (
	Personal Kind = "personal"
	Business Kind = "business"
	Graph    Kind = "graph"
)

// Session-creation action names. The OneDrive v1.0/v2.0 APIs use the dotted
// form; Graph renamed it.
const (
	actionLegacyCreateSession = "upload.createSession"
	actionGraphCreateSession  = "createUploadSession"
)

// restrictedBusinessChars are rejected in file names by SharePoint-backed drives.
const restrictedBusinessChars = `\/:*?"<>|#%`

// Profile enumerates everything that differs between API flavors.
type Profile struct {
	Kind Kind

	// Endpoint holds the OAuth2 authorize and token URLs.
	Endpoint oauth2.Endpoint

	DefaultRedirectURL string

	// BaseURL is the root for data calls, without a trailing slash. Empty
	// for Business, where it is only known after service discovery.
	BaseURL string

	// Scopes are requested on the authorize URL. Business sends a
	// "resource" parameter on token grants instead.
	Scopes []string

	// GrantScopes repeats the scope parameter on token grants (v2.0 endpoint).
	GrantScopes bool

	// Service discovery (Business only).
	DiscoveryURL        string
	DiscoveryResource   string
	DiscoveryCapability string
	DiscoveryAPIVersion string

	// SessionAction is the path segment that creates a resumable upload session.
	SessionAction string

	// SimpleUploadMaxSize is the largest file, in bytes, sent as one PUT.
	SimpleUploadMaxSize int64

	// RestrictedChars lists characters a file name must not contain.
	RestrictedChars string

	signOutURL string
}

var profiles = map[Kind]Profile{
	Personal: {
		Kind:                Personal,
		Endpoint:            microsoft.LiveConnectEndpoint,
		DefaultRedirectURL:  "https://login.live.com/oauth20_desktop.srf",
		BaseURL:             "https://api.onedrive.com/v1.0",
		Scopes:              []string{"wl.signin", "wl.offline_access", "onedrive.readwrite"},
		SessionAction:       actionLegacyCreateSession,
		SimpleUploadMaxSize: 5 * 1024,
		signOutURL:          "https://login.live.com/oauth20_logout.srf",
	},
	Business: {
		Kind: Business,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://login.microsoftonline.com/common/oauth2/authorize",
			TokenURL:  "https://login.microsoftonline.com/common/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		DefaultRedirectURL:  "https://login.live.com/oauth20_desktop.srf",
		DiscoveryURL:        "https://api.office.com/discovery/v2.0/me/services/",
		DiscoveryResource:   "https://api.office.com/discovery/",
		DiscoveryCapability: "MyFiles",
		DiscoveryAPIVersion: "v2.0",
		SessionAction:       actionLegacyCreateSession,
		SimpleUploadMaxSize: 5 * 1024,
		RestrictedChars:     restrictedBusinessChars,
		signOutURL:          "https://login.microsoftonline.com/logout.srf",
	},
	Graph: {
		Kind:                Graph,
		Endpoint:            microsoft.AzureADEndpoint("common"),
		DefaultRedirectURL:  "https://login.microsoftonline.com/common/oauth2/nativeclient",
		BaseURL:             "https://graph.microsoft.com/v1.0/me",
		Scopes:              []string{"offline_access", "files.readwrite.all"},
		GrantScopes:         true,
		SessionAction:       actionGraphCreateSession,
		SimpleUploadMaxSize: 4 * 1024,
		RestrictedChars:     restrictedBusinessChars,
		signOutURL:          "https://login.microsoftonline.com/common/oauth2/v2.0/logout",
	},
}

// ParseKind converts a config string to a Kind. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[k]; !ok {
		return "", fmt.Errorf("variant: unknown API variant %q (want personal, business, or graph)", s)
	}

	return k, nil
}

// Lookup returns the Profile for kind. The returned value is a copy; callers
// may modify it (tests point the endpoints at local servers).
func Lookup(kind Kind) (Profile, error) {
	p, ok := profiles[kind]
	if !ok {
		return Profile{}, fmt.Errorf("variant: unknown API variant %q", kind)
	}

	p.Scopes = append([]string(nil), p.Scopes...)

	return p, nil
}

// NeedsDiscovery reports whether a token exchange must be preceded by a
// service discovery round trip.
func (p Profile) NeedsDiscovery() bool {
	return p.DiscoveryURL != ""
}

// AuthorizeURL returns the URL a user opens in a browser to grant access.
// state may be empty.
func (p Profile) AuthorizeURL(clientID, redirectURL, state string) string {
	cfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: p.redirectOrDefault(redirectURL),
		Endpoint:    p.Endpoint,
		Scopes:      p.Scopes,
	}

	var opts []oauth2.AuthCodeOption
	if p.Kind == Graph {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", "query"))
	}

	return cfg.AuthCodeURL(state, opts...)
}

// SignOutURL returns the URL that ends the user's session with the provider.
func (p Profile) SignOutURL(clientID, redirectURL string) string {
	if p.Kind != Personal {
		return p.signOutURL
	}

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", p.redirectOrDefault(redirectURL))

	return p.signOutURL + "?" + q.Encode()
}

// ValidFilename reports whether name can be stored on this flavor's drives.
func (p Profile) ValidFilename(name string) bool {
	if name == "" {
		return false
	}

	return !strings.ContainsAny(name, p.RestrictedChars)
}

// NormalizeName returns name in Unicode NFC. macOS hands out NFD names; the
// service stores NFC, and mixing the two produces duplicate-looking files.
func (p Profile) NormalizeName(name string) string {
	return norm.NFC.String(name)
}

func (p Profile) redirectOrDefault(redirectURL string) string {
	if redirectURL != "" {
		return redirectURL
	}

	return p.DefaultRedirectURL
}
