// Package authkit is a pluggable authentication engine for Go web services.
//
// A Client combines three optional features over one storage contract:
//
//   - password: sign-up, sign-in, change, set, and single-use reset tokens
//   - emailVerification: stateless signed verification tokens
//   - oauth: the authorization-code flow with PKCE, account linking and unlinking
//
// Features never touch HTTP or cookies directly. Every operation receives a
// Session (see the session package) and returns either a result or an
// *AuthError carrying a machine-readable ErrorCode. Client.Routes mounts a
// JSON adapter over them with gorilla/mux, and the ratelimit package guards
// each route.
//
// # Basic Usage
//
//	ac, err := authkit.New(authkit.Config{
//	    Secret:  os.Getenv("AUTHKIT_SECRET"),
//	    Storage: memory.New(),
//	    Password: authkit.PasswordConfig{Enabled: true},
//	    OAuth: authkit.OAuthConfig{
//	        Enabled: true,
//	        BaseURL: "https://app.example.com",
//	        Providers: map[string]authkit.OAuthProvider{
//	            "google": {Provider: oauth2.NewGoogleProvider(), ClientID: id, ClientSecret: secret},
//	        },
//	    },
//	})
//
//	mgr := scs.New()
//	sessions := func(w http.ResponseWriter, r *http.Request) authkit.Session {
//	    return session.NewSCS(mgr, r.Context())
//	}
//	mux.Handle("/auth/", mgr.LoadAndSave(ac.Routes("/auth", authkit.RoutesConfig{Sessions: sessions})))
//
// Storage adapters live under stores/: memory, fs (JSON files), gorm and gae
// (Cloud Datastore). stores/redis provides shared secondary storage for rate
// limit counters and OAuth state when running more than one instance.
//
// # Flash
//
// OAuth callbacks end in a redirect, so their outcome is left in the session
// as a one-shot Flash. Read it with GetFlash on the next page view.
package authkit
