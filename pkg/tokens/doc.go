// Package tokens issues and verifies the ES256 identity tokens minted by the
// rolepass authority.
//
// Every token carries the materialized identity of the signed-in account:
//
//	{
//	  "iss": "https://auth.example.com",
//	  "sub": "user1",
//	  "aud": ["demo-client"],
//	  "exp": 1700003600,
//	  "iat": 1700000000,
//	  "nonce": "…",
//	  "name": "User One",
//	  "email": "user1@example.com",
//	  "email_verified": true,
//	  "role": "user"
//	}
//
// role is null when the account has no role in the client application. Such
// a token is still valid; role-gated endpoints reject it later.
//
// # Issuing
//
//	key, err := tokens.LoadOrCreateSigningKey("signing.pem")
//	issuer, err := tokens.NewIssuer(key, "https://auth.example.com")
//	idToken, err := issuer.IssueIDToken(identity, "demo-client", nonce, time.Hour)
//
// The issuer publishes its verification key through KeySet, which serves as
// the authority's JWKS document. Tokens carry the key id (an RFC 7638
// thumbprint) in their "kid" header.
//
// # Verifying
//
// Services that hold the public key directly use a Verifier. Services that
// discover keys over the network use pkg/resource instead.
//
//	verifier := tokens.NewVerifier(&key.PublicKey, "https://auth.example.com", "demo-client")
//	claims, err := verifier.Verify(encoded)
package tokens
