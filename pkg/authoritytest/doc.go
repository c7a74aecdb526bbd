/*
Package authoritytest helps services protected by rolepass tokens test
themselves without a deployed authority.

Two levels are offered. Env mints signed tokens directly and builds a
resource.Validator that trusts them, which is enough for most handler
tests:

	env := authoritytest.NewEnv("https://auth.test", "demo-client")
	validator := env.Validator(t)
	req := env.AuthenticatedRequest(t, http.MethodGet, "/api/admin", "alice", "admin")

Authority runs a complete in-process authority on an httptest server, with
registered clients, users and role mappings. Use it when the test needs the
real login and code exchange:

	authority := authoritytest.Start(t, authoritytest.Options{
		Clients: []authoritytest.Client{{ID: "demo-client", RedirectURIs: []string{callbackURL}}},
		Users:   []authoritytest.User{{Handle: "alice", Password: "pw", Roles: map[string]string{"demo-client": "admin"}}},
	})
*/
package authoritytest
