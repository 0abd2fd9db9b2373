package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"
)

// DefaultDiscoveryTTL is the freshness window for cached discovery
// documents, so a login does not refetch provider metadata every time.
const DefaultDiscoveryTTL = 15 * time.Minute

// wellKnownSuffix is the standard discovery document path.
const wellKnownSuffix = "/.well-known/openid-configuration"

// ProviderMetadata is the subset of an OIDC discovery document the flow
// consumes.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
}

// Resolver resolves a complete provider Config by merging a manually
// supplied partial Config with the provider's discovery document.  Documents
// are cached per discovery URL for a bounded TTL; concurrent refreshes of
// the same URL share one fetch.  Resolution has no side effects beyond the
// cache.
type Resolver struct {
	client  *http.Client
	ttl     time.Duration
	nowFunc func() time.Time

	mu      sync.RWMutex
	entries map[string]*discoveryEntry

	group singleflight.Group
}

type discoveryEntry struct {
	doc       *ProviderMetadata
	fetchedAt time.Time
}

// NewResolver creates a discovery resolver.
// Supported options: WithHTTPClient, WithTTL, WithNow
func NewResolver(opt ...Option) *Resolver {
	opts := getResolverOpts(opt...)
	return &Resolver{
		client:  opts.withHTTPClient,
		ttl:     opts.withTTL,
		nowFunc: opts.withNowFunc,
		entries: map[string]*discoveryEntry{},
	}
}

func (r *Resolver) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}

// Resolve produces the Config for one flow start.  When discoveryURL is set
// the provider's metadata document is fetched (or served from cache) and
// merged into manual field-by-field, with manual values winning.  When the
// fetch fails, manual endpoints are used alone if they cover the minimum
// set; otherwise resolution fails with ErrDiscoveryUnavailable.
func (r *Resolver) Resolve(ctx context.Context, discoveryURL string, manual Config) (*Config, error) {
	const op = "oauth.Resolver.Resolve"

	resolved := manual
	resolved.Scopes = append([]string(nil), manual.Scopes...)

	if discoveryURL != "" {
		doc, err := r.document(ctx, discoveryURL)
		switch {
		case err != nil && (manual.AuthorizeURL == "" || manual.TokenURL == ""):
			return nil, newFlowError(ErrDiscoveryUnavailable, WithOp(op),
				WithMsg(fmt.Sprintf("discovery fetch failed and no manual fallback covers the missing endpoints (%s)", discoveryURL)),
				WithWrap(err))
		case err == nil:
			// manual config wins field-by-field
			if resolved.Issuer == "" {
				resolved.Issuer = doc.Issuer
			}
			if resolved.AuthorizeURL == "" {
				resolved.AuthorizeURL = doc.AuthorizationEndpoint
			}
			if resolved.TokenURL == "" {
				resolved.TokenURL = doc.TokenEndpoint
			}
			if resolved.JWKSURL == "" {
				resolved.JWKSURL = doc.JWKSURI
			}
			if resolved.UserInfoURL == "" {
				resolved.UserInfoURL = doc.UserInfoEndpoint
			}
		}
	}

	if resolved.AuthorizeURL == "" || resolved.TokenURL == "" {
		return nil, newFlowError(ErrDiscoveryUnavailable, WithOp(op),
			WithMsg("neither discovery nor manual configuration supplies the authorize and token endpoints"))
	}
	if resolved.Profile == "" {
		// mirror of the original tester's is-OIDC rule: discovery or a JWKS
		// URL marks an OIDC provider
		if discoveryURL != "" || resolved.JWKSURL != "" {
			resolved.Profile = ProfileOIDC
		} else {
			resolved.Profile = ProfileOpaque
		}
	}
	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &resolved, nil
}

// document returns the cached metadata for discoveryURL, fetching when the
// entry is absent or stale.
func (r *Resolver) document(ctx context.Context, discoveryURL string) (*ProviderMetadata, error) {
	r.mu.RLock()
	e := r.entries[discoveryURL]
	r.mu.RUnlock()
	if e != nil && r.now().Sub(e.fetchedAt) < r.ttl {
		return e.doc, nil
	}

	v, err, _ := r.group.Do(discoveryURL, func() (interface{}, error) {
		doc, err := r.fetch(ctx, discoveryURL)
		if err != nil {
			return nil, err
		}
		entry := &discoveryEntry{doc: doc, fetchedAt: r.now()}
		r.mu.Lock()
		r.entries[discoveryURL] = entry
		r.mu.Unlock()
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProviderMetadata), nil
}

func (r *Resolver) fetch(ctx context.Context, discoveryURL string) (*ProviderMetadata, error) {
	if r.client != nil {
		ctx = oidc.ClientContext(ctx, r.client)
	}
	provider, err := oidc.NewProvider(ctx, issuerFromDiscoveryURL(discoveryURL))
	if err != nil {
		return nil, fmt.Errorf("unable to fetch discovery document %s: %w", discoveryURL, err)
	}
	var doc ProviderMetadata
	if err := provider.Claims(&doc); err != nil {
		return nil, fmt.Errorf("unable to decode discovery document %s: %w", discoveryURL, err)
	}
	return &doc, nil
}

// issuerFromDiscoveryURL accepts either a bare issuer or a full discovery
// document URL and returns the issuer.
func issuerFromDiscoveryURL(discoveryURL string) string {
	issuer := strings.TrimSuffix(discoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, wellKnownSuffix)
	return strings.TrimSuffix(issuer, "/")
}
