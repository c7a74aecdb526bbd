// Package client implements the gateway that sits between client
// applications and the rolepass authority.
//
// The gateway starts authorization code flows with PKCE on behalf of
// registered applications, exchanges the returned code for tokens, and hands
// the result back to the application without a shared session store.
//
// # Quick Start
//
// Register each application by the client id it holds at the authority, and
// point every application's redirect uri at the gateway's callback:
//
//	import (
//	    "git.sr.ht/~jakintosh/rolepass/pkg/client"
//	    "git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
//	)
//
//	gateway, err := client.New(client.Config{
//	    AuthorityURL: "https://auth.example.com",
//	    CallbackURL:  "https://gateway.example.com/callback",
//	    Applications: []client.Application{{
//	        ClientID:        "demo-client",
//	        PostLoginTarget: "https://demo.example.com/welcome",
//	        Scopes:          []string{"openid", "profile", "email"},
//	    }},
//	    DefaultClientID: "demo-client",
//	    Mode:            client.RedirectModeSession,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(":9100", gateway.Router())
//
// # Starting a Login
//
// Send the browser to /login?client_id=demo-client. The gateway records a
// correlation entry (state, PKCE verifier and nonce) and redirects to the
// authority's authorize endpoint.
//
// # Handling the Callback
//
// The authority redirects back to /callback. The correlation entry is taken
// exactly once, so a replayed or concurrent callback for the same state
// fails with UnknownOrExpiredState. Each failure renders its own error page
// with a link to start again.
//
// # Handing Tokens to the Application
//
// In RedirectModeSession the token set is stored under a short-lived session
// id and the browser lands on the application's PostLoginTarget with
// ?session=<id>. The application then fetches the tokens from
// GET /session?session=<id> and may drop them early with
// POST /logout?session=<id>.
//
// In RedirectModeToken the browser lands on PostLoginTarget with
// ?token=<id_token> and nothing is stored.
//
// # Custom Exchangers
//
// Exchange is performed by an Exchanger. AuthorityExchanger talks to a real
// authority over HTTP and verifies the ID token signature; tests can supply
// their own implementation.
package client
