package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/tokenlab/flowprobe/jwks"
)

// FlowStatus is the terminal state of one callback.
type FlowStatus string

const (
	// StatusCompleted means tokens were obtained.  Non-fatal steps may
	// still have failed; see Outcome.Warnings.
	StatusCompleted FlowStatus = "completed"

	// StatusFailed means a fatal step aborted the callback.
	StatusFailed FlowStatus = "failed"
)

// Outcome is the result of one callback.  Exactly one of Token or Err is
// set.  Warnings carry the non-fatal failures (userinfo, long-lived
// exchange) that degraded a completed flow.
type Outcome struct {
	Status    FlowStatus
	Token     *Token
	LongLived *Token
	Claims    *jwks.Claims
	Profile   map[string]interface{}
	Err       *FlowError
	Warnings  []ErrorDisplay
}

// StoredTokens is the value persisted under the tokens session key.
type StoredTokens struct {
	Token     *Token `json:"token"`
	LongLived *Token `json:"long_lived,omitempty"`
}

// ErrorRecord is the value persisted under the error session key.  Fatal is
// set when the flow failed; Warnings record non-fatal degradations of a
// completed flow.
type ErrorRecord struct {
	Fatal    *ErrorDisplay  `json:"fatal,omitempty"`
	Warnings []ErrorDisplay `json:"warnings,omitempty"`
}

// DisplayState is the session's current state, assembled for rendering.
type DisplayState struct {
	PendingLogin bool                   `json:"pending_login"`
	Tokens       *StoredTokens          `json:"tokens,omitempty"`
	Claims       *jwks.Claims           `json:"claims,omitempty"`
	Profile      map[string]interface{} `json:"profile,omitempty"`
	Error        *ErrorRecord           `json:"error,omitempty"`
}

// Flow orchestrates the authorization code flow end-to-end for one provider
// configuration: start a login, handle its callback, and read or reset the
// session's resulting state.  A Flow is safe for concurrent use; per-login
// state lives in the Store, never in the Flow.
type Flow struct {
	discoveryURL string
	manual       Config
	store        Store

	resolver   *Resolver
	tokens     *TokenClient
	userInfo   *UserInfoClient
	verifier   *jwks.Verifier
	logger     hclog.Logger
	randReader func() Option
	nowOpt     func() Option
}

// NewFlow assembles a flow orchestrator for one provider.  The manual Config
// may be partial when discoveryURL is set; resolution happens per login so
// provider metadata changes are picked up within the discovery TTL.
// Supported options: WithHTTPClient, WithLogger, WithRandReader, WithNow,
// WithKeyCache, WithSigningAlgs, WithTTL
func NewFlow(discoveryURL string, manual Config, store Store, opt ...Option) (*Flow, error) {
	const op = "oauth.NewFlow"
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	if discoveryURL == "" {
		if err := manual.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	opts := getFlowOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = manual.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	resolverOpts := []Option{WithHTTPClient(client)}
	if opts.withNowFunc != nil {
		resolverOpts = append(resolverOpts, WithNow(opts.withNowFunc))
	}
	if opts.withTTL > 0 {
		resolverOpts = append(resolverOpts, WithTTL(opts.withTTL))
	}

	keyCache := opts.withKeyCache
	if keyCache == nil {
		cacheOpts := []jwks.Option{jwks.WithHTTPClient(client)}
		if opts.withNowFunc != nil {
			cacheOpts = append(cacheOpts, jwks.WithNow(opts.withNowFunc))
		}
		if opts.withTTL > 0 {
			cacheOpts = append(cacheOpts, jwks.WithTTL(opts.withTTL))
		}
		keyCache = jwks.NewCache(cacheOpts...)
	}
	verifierOpts := []jwks.Option{}
	if len(opts.withSigningAlgs) > 0 {
		verifierOpts = append(verifierOpts, jwks.WithSigningAlgs(opts.withSigningAlgs...))
	}
	verifier, err := jwks.NewVerifier(keyCache, verifierOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	f := &Flow{
		discoveryURL: discoveryURL,
		manual:       manual,
		store:        store,
		resolver:     NewResolver(resolverOpts...),
		tokens:       NewTokenClient(WithHTTPClient(client)),
		userInfo:     NewUserInfoClient(WithHTTPClient(client)),
		verifier:     verifier,
		logger:       logger,
	}
	if opts.withRandReader != nil {
		r := opts.withRandReader
		f.randReader = func() Option { return WithRandReader(r) }
	}
	if opts.withNowFunc != nil {
		now := opts.withNowFunc
		f.nowOpt = func() Option { return WithNow(now) }
	}
	return f, nil
}

// resultKeys are the session keys StartLogin clears and Reset deletes, in
// addition to the flow state itself.
var resultKeys = []string{SessionKeyTokens, SessionKeyClaims, SessionKeyProfile, SessionKeyError}

// StartLogin begins a login attempt for sessionID: resolves the provider
// configuration, generates fresh flow state, persists it, and returns the
// authorize URL to redirect the user to.  Any previous result for the
// session is cleared so a stale success cannot mask a new failure.
func (f *Flow) StartLogin(ctx context.Context, sessionID string) (string, error) {
	const op = "oauth.Flow.StartLogin"
	if sessionID == "" {
		return "", fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}

	cfg, err := f.resolver.Resolve(ctx, f.discoveryURL, f.manual)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	for _, key := range resultKeys {
		if err := f.store.Delete(ctx, sessionID, key); err != nil {
			return "", fmt.Errorf("%s: unable to clear session key %q: %w", op, key, err)
		}
	}

	stateOpts := []Option{}
	if f.randReader != nil {
		stateOpts = append(stateOpts, f.randReader())
	}
	if f.nowOpt != nil {
		stateOpts = append(stateOpts, f.nowOpt())
	}
	fs, err := NewFlowState(cfg.Profile == ProfileOIDC, cfg.UsePKCE, stateOpts...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	encoded, err := json.Marshal(fs)
	if err != nil {
		return "", fmt.Errorf("%s: unable to encode flow state: %w", op, err)
	}
	if err := f.store.Set(ctx, sessionID, SessionKeyFlowState, encoded); err != nil {
		return "", fmt.Errorf("%s: unable to persist flow state: %w", op, err)
	}

	u, err := AuthURL(cfg, fs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	f.logger.Debug("login started", "session_id", sessionID, "profile", cfg.Profile,
		"pkce", cfg.UsePKCE)
	return u, nil
}

// HandleCallback processes a provider redirect for sessionID.  The stored
// flow state is consumed before anything else: whatever the callback holds,
// a second callback for the same login always fails with a fresh session
// expired error rather than reusing state.
//
// Protocol failures are reported through the Outcome (and persisted to the
// session store for display); only infrastructure failures — the store
// itself erroring — are returned as an error.
func (f *Flow) HandleCallback(ctx context.Context, sessionID string, query url.Values) (*Outcome, error) {
	const op = "oauth.Flow.HandleCallback"
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}

	fs, ferr, err := f.consumeFlowState(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ferr != nil {
		return f.fail(ctx, sessionID, ferr, nil)
	}

	// a provider error response may legally omit the state parameter, so
	// check it before comparing state
	if e := query.Get("error"); e != "" {
		msg := e
		if desc := query.Get("error_description"); desc != "" {
			msg = fmt.Sprintf("%s: %s", e, desc)
		}
		return f.fail(ctx, sessionID, newFlowError(ErrProviderError, WithOp(op),
			WithMsg(msg)), nil)
	}

	state := query.Get("state")
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(fs.State)) != 1 {
		return f.fail(ctx, sessionID, newFlowError(ErrStateMismatch, WithOp(op),
			WithMsg("callback state does not match the pending login")), nil)
	}

	code := query.Get("code")
	if code == "" {
		return f.fail(ctx, sessionID, newFlowError(ErrProviderError, WithOp(op),
			WithMsg("callback carried neither a code nor an error")), nil)
	}

	cfg, err := f.resolver.Resolve(ctx, f.discoveryURL, f.manual)
	if err != nil {
		return f.fail(ctx, sessionID, asFlowError(err, ErrDiscoveryUnavailable, op), nil)
	}

	token, err := f.tokens.ExchangeCode(ctx, cfg, code, fs)
	if err != nil {
		return f.fail(ctx, sessionID, asFlowError(err, ErrTokenExchangeFailed, op), nil)
	}

	var warnings []ErrorDisplay
	var claims *jwks.Claims
	var profile map[string]interface{}

	switch {
	case token.IDToken != "":
		if cfg.JWKSURL == "" {
			return f.fail(ctx, sessionID, newFlowError(ErrInvalidIDToken, WithOp(op),
				WithMsg("provider returned an id_token but no JWKS endpoint is known to verify it")),
				warnings)
		}
		verified, err := f.verifier.Verify(ctx, token.IDToken, cfg.JWKSURL, jwks.Expected{
			Issuer:   cfg.Issuer,
			Audience: cfg.ClientId,
			Nonce:    fs.Nonce,
		})
		if err != nil {
			return f.fail(ctx, sessionID, newFlowError(ErrInvalidIDToken, WithOp(op),
				WithMsg("id_token verification failed"), WithWrap(err)), warnings)
		}
		claims = verified
	case cfg.UserInfoURL != "" && token.AccessToken != "":
		fetched, err := f.userInfo.Fetch(ctx, cfg, token.AccessToken)
		if err != nil {
			warnings = append(warnings, asFlowError(err, ErrUserInfoFailed, op).Display())
			f.logger.Warn("userinfo fetch failed", "session_id", sessionID, "error", err)
		} else {
			profile = fetched
		}
	}

	var longLived *Token
	if cfg.LongLived != nil && cfg.LongLived.ExchangeURL != "" {
		ll, err := f.tokens.ExchangeLongLived(ctx, cfg, token.AccessToken)
		if err != nil {
			warnings = append(warnings, asFlowError(err, ErrLongLivedExchangeFailed, op).Display())
			f.logger.Warn("long-lived exchange failed", "session_id", sessionID, "error", err)
		} else {
			longLived = ll
		}
	}

	if err := f.persistResult(ctx, sessionID, &StoredTokens{Token: token, LongLived: longLived},
		claims, profile, warnings); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	f.logger.Debug("login completed", "session_id", sessionID,
		"verified_identity", claims != nil, "warnings", len(warnings))
	return &Outcome{
		Status:    StatusCompleted,
		Token:     token,
		LongLived: longLived,
		Claims:    claims,
		Profile:   profile,
		Warnings:  warnings,
	}, nil
}

// DisplayState assembles the session's stored state for rendering.  Absent
// keys are simply absent; it never fails on an empty session.
func (f *Flow) DisplayState(ctx context.Context, sessionID string) (*DisplayState, error) {
	const op = "oauth.Flow.DisplayState"
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}

	ds := &DisplayState{}
	raw, err := f.store.Get(ctx, sessionID, SessionKeyFlowState)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ds.PendingLogin = raw != nil

	for _, item := range []struct {
		key  string
		dest interface{}
	}{
		{SessionKeyTokens, &ds.Tokens},
		{SessionKeyClaims, &ds.Claims},
		{SessionKeyProfile, &ds.Profile},
		{SessionKeyError, &ds.Error},
	} {
		raw, err := f.store.Get(ctx, sessionID, item.key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if raw == nil {
			continue
		}
		if err := json.Unmarshal(raw, item.dest); err != nil {
			return nil, fmt.Errorf("%s: session key %q is corrupt: %w", op, item.key, err)
		}
	}
	return ds, nil
}

// Reset deletes everything the flow stored for sessionID.  Delete failures
// are collected so one bad key does not leave the rest behind.
func (f *Flow) Reset(ctx context.Context, sessionID string) error {
	const op = "oauth.Flow.Reset"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	var result *multierror.Error
	for _, key := range append([]string{SessionKeyFlowState}, resultKeys...) {
		if err := f.store.Delete(ctx, sessionID, key); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: unable to delete %q: %w", op, key, err))
		}
	}
	return result.ErrorOrNil()
}

// consumeFlowState loads and immediately erases the session's flow state.
// The second return value reports the protocol failure (session expired or
// corrupt state); the third reports store failures.
func (f *Flow) consumeFlowState(ctx context.Context, sessionID string) (*FlowState, *FlowError, error) {
	const op = "oauth.Flow.consumeFlowState"
	raw, err := f.store.Get(ctx, sessionID, SessionKeyFlowState)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if raw == nil {
		return nil, newFlowError(ErrSessionExpired, WithOp(op),
			WithMsg("no login is pending for this session")), nil
	}
	if err := f.store.Delete(ctx, sessionID, SessionKeyFlowState); err != nil {
		return nil, nil, fmt.Errorf("%s: unable to erase flow state: %w", op, err)
	}
	var fs FlowState
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, newFlowError(ErrSessionExpired, WithOp(op),
			WithMsg("stored flow state is unreadable"), WithWrap(err)), nil
	}
	return &fs, nil, nil
}

// fail persists the fatal error for display and folds it into a failed
// Outcome.  Store failures while persisting take precedence: the caller
// gets an infrastructure error instead of a clean protocol failure.
func (f *Flow) fail(ctx context.Context, sessionID string, ferr *FlowError, warnings []ErrorDisplay) (*Outcome, error) {
	const op = "oauth.Flow.fail"
	display := ferr.Display()
	record := ErrorRecord{Fatal: &display, Warnings: warnings}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to encode error record: %w", op, err)
	}
	if err := f.store.Set(ctx, sessionID, SessionKeyError, encoded); err != nil {
		return nil, fmt.Errorf("%s: unable to persist error record: %w", op, err)
	}
	f.logger.Warn("login failed", "session_id", sessionID, "kind", display.Kind,
		"reason", display.Reason, "status", display.Status)
	return &Outcome{
		Status:   StatusFailed,
		Err:      ferr,
		Warnings: warnings,
	}, nil
}

// persistResult writes a completed login's result keys.
func (f *Flow) persistResult(ctx context.Context, sessionID string, tokens *StoredTokens,
	claims *jwks.Claims, profile map[string]interface{}, warnings []ErrorDisplay) error {
	const op = "oauth.Flow.persistResult"

	write := func(key string, v interface{}) error {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: unable to encode %q: %w", op, key, err)
		}
		if err := f.store.Set(ctx, sessionID, key, encoded); err != nil {
			return fmt.Errorf("%s: unable to persist %q: %w", op, key, err)
		}
		return nil
	}

	if err := write(SessionKeyTokens, tokens); err != nil {
		return err
	}
	if claims != nil {
		if err := write(SessionKeyClaims, claims); err != nil {
			return err
		}
	}
	if profile != nil {
		if err := write(SessionKeyProfile, profile); err != nil {
			return err
		}
	}
	if len(warnings) > 0 {
		if err := write(SessionKeyError, ErrorRecord{Warnings: warnings}); err != nil {
			return err
		}
	}
	return nil
}

// asFlowError coerces err into a *FlowError, wrapping it under kind when it
// is not one already.
func asFlowError(err error, kind error, op string) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return newFlowError(kind, WithOp(op), WithWrap(err))
}
