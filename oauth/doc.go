/*
Package oauth orchestrates a relying party's OAuth 2.0 / OIDC authorization
code flow end to end, so a developer can exercise a provider and inspect the
resulting tokens and claims.

Primary types provided by the package

* Config: the provider configuration for one flow.  A partial manual Config
is merged with the provider's discovery document by a Resolver; manual values
win field-by-field.  Resolved configs are read-only.

* FlowState: the state/nonce/code_verifier triple generated at login start.
Exactly one live FlowState exists per browser session; it is consumed (read
once and erased) when the callback arrives, success or failure.

* Token: the result of a successful code exchange, including the raw provider
response for passthrough fields.

* TokenClient: performs the authorization-code exchange, and the optional
provider-specific long-lived token exchange (e.g. the Threads/Meta
th_exchange_token grant).

* UserInfoClient: profile retrieval for providers that return opaque access
tokens instead of an id_token, with optional appsecret_proof computation.

* Flow: the orchestrator.  StartLogin builds the redirect URL and persists
the FlowState; HandleCallback validates state, exchanges the code, verifies
any id_token against the provider's JWKS (see the jwks package), fetches the
profile when configured, and persists the outcome to the session store.

* Store: the narrow session storage capability the Flow requires: get, set
and delete of opaque values keyed by a session id and a logical key.

The package never retries an outbound call: authorization codes and flow
state are single-use, so retries belong to the end user re-starting a login.
*/
package oauth
