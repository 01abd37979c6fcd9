package auth

import (
	"strings"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/onedrive-api/internal/tokenfile"
)

// Metadata is saved next to the token so a restored Business session can
// skip discovery.
type Metadata struct {
	BaseURL  string
	Resource string
}

// Store persists the token slot across process restarts.
type Store interface {
	Load() (TokenState, Metadata, error)
	Save(st TokenState, meta Metadata) error
	Clear() error
}

// FileStore keeps the token in a JSON file via package tokenfile.
type FileStore struct {
	Path string
}

// Load returns a zero TokenState if the file does not exist.
func (s FileStore) Load() (TokenState, Metadata, error) {
	tok, meta, err := tokenfile.Load(s.Path)
	if err != nil || tok == nil {
		return TokenState{}, Metadata{}, err
	}

	st := TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
		Scopes:       strings.Fields(meta[tokenfile.MetaScope]),
	}

	// A token without expiry cannot be trusted as valid.
	if st.ExpiresAt.IsZero() {
		st.AccessToken = ""
	}

	return st, Metadata{
		BaseURL:  meta[tokenfile.MetaBaseURL],
		Resource: meta[tokenfile.MetaResource],
	}, nil
}

// Save writes st and meta.
func (s FileStore) Save(st TokenState, meta Metadata) error {
	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
		Expiry:       st.ExpiresAt,
	}

	m := map[string]string{}
	if meta.BaseURL != "" {
		m[tokenfile.MetaBaseURL] = meta.BaseURL
	}

	if meta.Resource != "" {
		m[tokenfile.MetaResource] = meta.Resource
	}

	if len(st.Scopes) > 0 {
		m[tokenfile.MetaScope] = strings.Join(st.Scopes, " ")
	}

	return tokenfile.Save(s.Path, tok, m)
}

// Clear removes the file.
func (s FileStore) Clear() error {
	return tokenfile.Remove(s.Path)
}
