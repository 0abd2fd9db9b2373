package oauth

import (
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tokenlab/flowprobe/jwks"
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

type errorOptions struct {
	withOp     string
	withMsg    string
	withWrap   error
	withStatus int
	withBody   string
}

func getErrorOpts(opt ...Option) errorOptions {
	opts := errorOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithOp provides an optional operation name for an error.
func WithOp(op string) Option {
	return func(o interface{}) {
		if o, ok := o.(*errorOptions); ok {
			o.withOp = op
		}
	}
}

// WithMsg provides an optional human readable message for an error.
func WithMsg(msg string) Option {
	return func(o interface{}) {
		if o, ok := o.(*errorOptions); ok {
			o.withMsg = msg
		}
	}
}

// WithWrap provides an optional error to wrap.
func WithWrap(err error) Option {
	return func(o interface{}) {
		if o, ok := o.(*errorOptions); ok {
			o.withWrap = err
		}
	}
}

// WithStatus provides an optional upstream HTTP status for an error.
func WithStatus(status int) Option {
	return func(o interface{}) {
		if o, ok := o.(*errorOptions); ok {
			o.withStatus = status
		}
	}
}

// WithBody provides an optional upstream response body for an error.
func WithBody(body string) Option {
	return func(o interface{}) {
		if o, ok := o.(*errorOptions); ok {
			o.withBody = body
		}
	}
}

type flowStateOptions struct {
	withRandReader io.Reader
	withNowFunc    func() time.Time
}

func getFlowStateOpts(opt ...Option) flowStateOptions {
	opts := flowStateOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRandReader provides an optional randomness source for FlowState
// generation.  Production code must leave this unset (crypto/rand); tests
// may inject a deterministic reader.
func WithRandReader(r io.Reader) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *flowStateOptions:
			v.withRandReader = r
		case *flowOptions:
			v.withRandReader = r
		}
	}
}

type clientOptions struct {
	withHTTPClient *http.Client
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

type resolverOptions struct {
	withHTTPClient *http.Client
	withTTL        time.Duration
	withNowFunc    func() time.Time
}

func getResolverOpts(opt ...Option) resolverOptions {
	opts := resolverOptions{
		withTTL: DefaultDiscoveryTTL,
	}
	ApplyOpts(&opts, opt...)
	return opts
}

type flowOptions struct {
	withHTTPClient  *http.Client
	withLogger      hclog.Logger
	withRandReader  io.Reader
	withNowFunc     func() time.Time
	withKeyCache    *jwks.Cache
	withSigningAlgs []jwks.Alg
	withTTL         time.Duration
}

func getFlowOpts(opt ...Option) flowOptions {
	opts := flowOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides an optional http client used for all outbound
// provider requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *clientOptions:
			v.withHTTPClient = c
		case *resolverOptions:
			v.withHTTPClient = c
		case *flowOptions:
			v.withHTTPClient = c
		}
	}
}

// WithLogger provides an optional hclog logger for the flow orchestrator.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional time source.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *flowStateOptions:
			v.withNowFunc = now
		case *resolverOptions:
			v.withNowFunc = now
		case *flowOptions:
			v.withNowFunc = now
		}
	}
}

// WithTTL provides an optional freshness window for cached provider
// metadata.  On a Flow it applies to both the discovery document cache and
// the default key set cache.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *resolverOptions:
			v.withTTL = d
		case *flowOptions:
			v.withTTL = d
		}
	}
}

// WithKeyCache provides an optional shared JWKS cache for the flow's
// id_token verifier.
func WithKeyCache(c *jwks.Cache) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withKeyCache = c
		}
	}
}

// WithSigningAlgs restricts the signing algorithms accepted during id_token
// verification.
func WithSigningAlgs(algs ...jwks.Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withSigningAlgs = algs
		}
	}
}
