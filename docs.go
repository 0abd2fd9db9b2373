// flowprobe provides a collection of related packages for driving and
// inspecting OAuth 2.0 / OIDC authorization code flows: provider discovery,
// PKCE, token exchange, id_token verification and profile retrieval.
//
// See README.md
package flowprobe
