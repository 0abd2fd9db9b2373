// Package jwks verifies OIDC id_tokens against a provider's published JSON
// Web Key Set.
//
// Primary types provided by the package
//
// * Cache: a URL-keyed cache of JSON Web Key Sets.  Entries are refreshed on
// demand when a required key id is missing (key rotation) or when the entry's
// freshness window has passed.  Concurrent refreshes of the same URL share a
// single underlying fetch.
//
// * Verifier: verifies an id_token's signature using keys from a Cache,
// restricted to an explicit allow-list of asymmetric signing algorithms, and
// validates the standard claims (expiry, issuer, audience, nonce).  Each
// validation failure is reported with a distinct error value, so callers can
// tell a bad signature from a bad nonce.
//
// * Claims: the verified identity claims.  Only constructed after both the
// signature and the claim checks pass.
package jwks
