package flowprobe_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tokenlab/flowprobe/oauth"
)

func Example_authorizationCodeFlow() {
	ctx := context.Background()

	// Assemble a flow from a discovery URL and a partial manual config;
	// the provider's metadata fills in the rest.
	flow, err := oauth.NewFlow(
		"https://your-issuer.com",
		oauth.Config{
			ClientId:     "your_client_id",
			ClientSecret: "your_client_secret",
			Scopes:       []string{"openid"},
			RedirectURL:  "http://your_redirect_url/callback",
			UsePKCE:      true,
		},
		oauth.NewMemStore(),
	)
	if err != nil {
		// handle error
	}

	// Start a login for the browser's session and redirect to the
	// returned authorize URL.
	authURL, err := flow.StartLogin(ctx, "session-id")
	if err != nil {
		// handle error
	}
	fmt.Println(authURL)

	// When the provider redirects back, hand the callback query to the
	// flow and inspect the outcome.
	http.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		outcome, err := flow.HandleCallback(r.Context(), "session-id", r.URL.Query())
		if err != nil {
			// handle error
		}
		if outcome.Status == oauth.StatusCompleted {
			// outcome.Token, outcome.Claims, outcome.Profile
		}
	})
}
