package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// catalogLinkRe matches https://open.spotify.com/track/<id>, optionally with
// a locale segment (intl-xx), a trailing slash and a query string.
var catalogLinkRe = regexp.MustCompile(`^https?://open\.spotify\.com/(?:intl-[a-zA-Z-]+/)?track/([A-Za-z0-9]+)/?(?:[?#].*)?$`)

// ParseCatalogLink reports whether query is a Spotify track link and returns
// the track id: the path segment after "track/", with the query string
// stripped.
func ParseCatalogLink(query string) (id string, ok bool) {
	m := catalogLinkRe.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Catalog turns a catalog track id into a search query.
type Catalog interface {
	Lookup(ctx context.Context, id string) (string, error)
}

// SpotifyConfig configures a [SpotifyCatalog].
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string

	// TokenURL overrides the OAuth2 token endpoint. Tests only.
	TokenURL string

	// APIBaseURL overrides the Web API base URL (with trailing slash). Tests only.
	APIBaseURL string
}

// SpotifyCatalog looks tracks up through the Spotify Web API using the
// client-credentials flow. Tokens are fetched and refreshed lazily.
type SpotifyCatalog struct {
	client *spotify.Client
}

// NewSpotifyCatalog creates a catalog client. ctx only scopes the token
// source's HTTP client, it is not used for requests.
func NewSpotifyCatalog(ctx context.Context, cfg SpotifyConfig) (*SpotifyCatalog, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("resolver: spotify: client id and secret are required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}

	var opts []spotify.ClientOption
	if cfg.APIBaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(cfg.APIBaseURL))
	}
	return &SpotifyCatalog{client: spotify.New(cc.Client(ctx), opts...)}, nil
}

// Lookup returns "<track name> <first artist name>" for id.
func (c *SpotifyCatalog) Lookup(ctx context.Context, id string) (string, error) {
	track, err := c.client.GetTrack(ctx, spotify.ID(id))
	if err != nil {
		return "", fmt.Errorf("spotify: get track %s: %w", id, err)
	}
	query := strings.TrimSpace(track.Name)
	if len(track.Artists) > 0 {
		query += " " + track.Artists[0].Name
	}
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("spotify: track %s: %w", id, ErrNoResults)
	}
	return query, nil
}
