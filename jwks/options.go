package jwks

import (
	"net/http"
	"time"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// DefaultCacheTTL is the freshness window after which a cached key set is
// refetched on next use.
const DefaultCacheTTL = 15 * time.Minute

type cacheOptions struct {
	withHTTPClient *http.Client
	withTTL        time.Duration
	withNowFunc    func() time.Time
}

func cacheDefaults() cacheOptions {
	return cacheOptions{
		withTTL: DefaultCacheTTL,
	}
}

// getCacheOpts gets the defaults and applies the opt overrides passed in.
func getCacheOpts(opt ...Option) cacheOptions {
	opts := cacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type verifierOptions struct {
	withSigningAlgs []Alg
	withNowFunc     func() time.Time
}

func verifierDefaults() verifierOptions {
	return verifierOptions{
		withSigningAlgs: DefaultSigningAlgs(),
	}
}

func getVerifierOpts(opt ...Option) verifierOptions {
	opts := verifierDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides an optional http client for fetching key sets.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithTTL provides an optional freshness window for cached key sets.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withTTL = d
		}
	}
}

// WithSigningAlgs restricts the verifier's algorithm allow-list.  The given
// algs must be a subset of the supported asymmetric algorithms.
func WithSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withSigningAlgs = algs
		}
	}
}

// WithNow provides an optional time source, used when checking cache entry
// freshness and claim expiry.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *cacheOptions:
			v.withNowFunc = now
		case *verifierOptions:
			v.withNowFunc = now
		}
	}
}
