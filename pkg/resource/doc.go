// Package resource validates the bearer tokens that rolepass issues, for use
// in the services those tokens protect.
//
// # Quick Start
//
//	keys, err := resource.NewJWKSKeySource(ctx, "https://auth.example.com", nil, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	validator, err := resource.NewValidator(resource.Config{
//	    Issuer:   "https://auth.example.com",
//	    Audience: "demo-client",
//	    Keys:     keys,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r := mux.NewRouter()
//	r.Use(validator.Middleware)
//	r.Handle("/api/admin", resource.RequireRole("admin")(adminHandler))
//
// Handlers read the caller with IdentityFromContext.
//
// # Stages
//
// Validate runs its checks cheapest first and stops at the first failure:
//
//  1. header: a "Bearer <token>" Authorization header
//  2. shape: three non-empty dot-separated segments
//  3. claims: issuer and audience read from the unverified payload
//  4. signature: full verification against the issuer's published keys
//  5. replay: the nonce, checked against the ReplayGuard
//
// Tokens from the wrong issuer or for another audience are turned away in
// stage 3, before any key is fetched.
//
// # Replay Protection
//
// Every rolepass token carries the nonce of the login that produced it. With
// ReplayPolicyTokenReuse (the default) the same token may be presented any
// number of times until it expires, but a different token carrying an
// already seen nonce is rejected. ReplayPolicySingleUse accepts each nonce
// once.
//
// A rejection other than ReplayDetected tells the caller to sign in again;
// see Rejection.Reauthenticate.
package resource
