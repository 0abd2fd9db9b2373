package oauth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	sdkhttp "github.com/tokenlab/flowprobe/sdk/http"
)

// TestKeyID is the kid the test provider signs id_tokens with and publishes
// in its key set.
const TestKeyID = "test-key-1"

// TestProvider is a local TLS server impersonating an authorization server,
// which makes writing flow tests much easier.  It serves discovery, auth,
// token, key set, userinfo and long-lived exchange endpoints, and keeps
// per-endpoint request counts so tests can assert on caching behavior.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks         *jose.JSONWebKeySet
	replySubject string

	mu                sync.Mutex
	clientID          string
	clientSecret      string
	expectedAuthCode  string
	capturedNonce     string
	capturedChallenge string
	customClaims      map[string]interface{}
	customTokenFields map[string]interface{}
	replyUserinfo     map[string]interface{}
	omitIDToken       bool
	disableUserInfo   bool
	failLongLived     bool
	invalidJWKS       bool

	tokenRequests    int
	jwksRequests     int
	userinfoRequests int
	lastUserinfo     url.Values
	lastUserinfoAuth string

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random port.  It
// is stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:            t,
		replySubject: "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		replyUserinfo: map[string]interface{}{
			"id":       "100001",
			"username": "threadicorn",
		},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = TestJWKS(t, p.ecdsaPublicKey, TestKeyID)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http client trusting the test provider's CA.
func (p *TestProvider) HTTPClient(t *testing.T) *http.Client {
	t.Helper()
	require := require.New(t)
	client, err := sdkhttp.NewClient(p.caCert, 0)
	require.NoError(err)
	return client
}

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// SetClientCreds is for configuring the client information required for the
// token endpoint's checks.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the only auth code /token accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetCustomClaims lets you set claims to embed in the issued id_token.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomTokenFields adds extra top-level fields to the token endpoint's
// response, for asserting raw passthrough.
func (p *TestProvider) SetCustomTokenFields(fields map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customTokenFields = fields
}

// SetUserinfoReply configures the userinfo endpoint's response body.
func (p *TestProvider) SetUserinfoReply(reply map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = reply
}

// OmitIDTokens makes the /token endpoint return no id_token, like a plain
// OAuth2 provider would.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery document.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// FailLongLived makes the long-lived exchange endpoints return 400.
func (p *TestProvider) FailLongLived() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failLongLived = true
}

// InvalidJWKS makes the key set endpoint return garbage.
func (p *TestProvider) InvalidJWKS() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidJWKS = true
}

// CapturedNonce returns the nonce from the most recent /auth request.
func (p *TestProvider) CapturedNonce() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturedNonce
}

// TokenRequestCount returns how many requests /token has served.
func (p *TestProvider) TokenRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// JWKSRequestCount returns how many requests the key set endpoint has served.
func (p *TestProvider) JWKSRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksRequests
}

// UserinfoRequestCount returns how many requests /userinfo has served.
func (p *TestProvider) UserinfoRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userinfoRequests
}

// LastUserinfoQuery returns the query values of the most recent /userinfo
// request, along with its Authorization header.
func (p *TestProvider) LastUserinfoQuery() (url.Values, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUserinfo, p.lastUserinfoAuth
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := struct {
			Issuer           string `json:"issuer"`
			AuthEndpoint     string `json:"authorization_endpoint"`
			TokenEndpoint    string `json:"token_endpoint"`
			JWKSURI          string `json:"jwks_uri"`
			UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
		}{
			Issuer:           p.Addr(),
			AuthEndpoint:     p.Addr() + "/auth",
			TokenEndpoint:    p.Addr() + "/token",
			JWKSURI:          p.Addr() + "/certs",
			UserinfoEndpoint: p.Addr() + "/userinfo",
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}

		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()
		p.capturedNonce = qv.Get("nonce")
		p.capturedChallenge = qv.Get("code_challenge")

		if qv.Get("response_type") != "code" {
			p.redirectError(w, req, "unsupported_response_type", "")
			return
		}
		state := qv.Get("state")
		if state == "" {
			p.redirectError(w, req, "invalid_request", "missing state parameter")
			return
		}
		if p.expectedAuthCode == "" {
			p.redirectError(w, req, "access_denied", "")
			return
		}

		redirectURI := qv.Get("redirect_uri") +
			"?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.jwksRequests++
		if p.invalidJWKS {
			_, _ = w.Write([]byte("It's not a keyset!"))
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		p.tokenRequests++
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch {
		case req.FormValue("grant_type") != "authorization_code":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		case req.FormValue("redirect_uri") == "":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing redirect_uri")
			return
		case p.clientID != "" && req.FormValue("client_id") != p.clientID:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		case req.FormValue("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		}
		if p.capturedChallenge != "" {
			sum := sha256.Sum256([]byte(req.FormValue("code_verifier")))
			if base64.RawURLEncoding.EncodeToString(sum[:]) != p.capturedChallenge {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code verifier does not match challenge")
				return
			}
		}

		stdClaims := jwt.Claims{
			Subject:   p.replySubject,
			Issuer:    p.Addr(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
			Audience:  jwt.Audience{p.clientID},
		}
		privateClaims := map[string]interface{}{}
		for k, v := range p.customClaims {
			privateClaims[k] = v
		}
		if p.capturedNonce != "" {
			privateClaims["nonce"] = p.capturedNonce
		}

		reply := map[string]interface{}{
			"access_token":  "short-lived-" + p.expectedAuthCode,
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-" + p.expectedAuthCode,
		}
		if !p.omitIDToken {
			reply["id_token"] = TestSignJWT(p.t, p.ecdsaPrivateKey, TestKeyID, stdClaims, privateClaims)
		}
		for k, v := range p.customTokenFields {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.userinfoRequests++
		p.lastUserinfo = req.URL.Query()
		p.lastUserinfoAuth = req.Header.Get("Authorization")

		_ = p.writeJSON(w, p.replyUserinfo)

	case "/access_token", "/refresh_access_token":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.failLongLived {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "token exchange disabled")
			return
		}
		qv := req.URL.Query()
		wantGrant := DefaultLongLivedExchangeGrant
		prefix := "long-lived-"
		if req.URL.Path == "/refresh_access_token" {
			wantGrant = DefaultLongLivedRefreshGrant
			prefix = "refreshed-"
		}
		switch {
		case qv.Get("grant_type") != wantGrant:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		case qv.Get("access_token") == "":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing access_token")
			return
		}
		_ = p.writeJSON(w, map[string]interface{}{
			"access_token": prefix + qv.Get("access_token"),
			"token_type":   "bearer",
			"expires_in":   5184000,
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) redirectError(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}
