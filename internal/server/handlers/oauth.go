package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/pysugar/shelflife/internal/auth/oauth"
	"github.com/pysugar/shelflife/internal/logging"
)

const (
	profilePath   = "/profile"
	authStartPath = "/auth/tbdb"
)

// OAuthFlow is the part of the OAuth lifecycle manager the web flow drives.
type OAuthFlow interface {
	BuildAuthorizationURL(ctx context.Context) (string, error)
	ExchangeCodeForToken(ctx context.Context, code, state string) error
	RevokeTokens(ctx context.Context) error
	ClearClientCredentials(ctx context.Context) error
}

// TBDBAuthStartHandler sends the browser to TBDB's consent page.
func TBDBAuthStartHandler(flow OAuthFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := flow.BuildAuthorizationURL(r.Context())
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("OAuth initiation failed")
			redirectWithFlash(w, r, profilePath, FlashAlert, "Failed to connect to TBDB: "+oauthMessage(err))
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// TBDBAuthCallbackHandler finishes the authorization code flow.
func TBDBAuthCallbackHandler(flow OAuthFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := r.URL.Query()
		log := logging.Ctx(ctx)

		if errCode := q.Get("error"); errCode != "" {
			hint := q.Get("error_hint")
			// TBDB forgot our client (e.g. its database was reset): start over.
			if errCode == "invalid_client" && hint == "client_not_found" {
				log.Info().Msg("OAuth client not found on TBDB, clearing credentials and re-registering")
				if err := flow.ClearClientCredentials(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to handle client re-registration")
					redirectWithFlash(w, r, profilePath, FlashAlert, "OAuth client not found. Please try connecting again.")
					return
				}
				redirectWithFlash(w, r, authStartPath, FlashNotice, "Re-registering with TBDB...")
				return
			}

			log.Error().Str("error", errCode).Str("hint", hint).Msg("OAuth callback error")
			desc := q.Get("error_description")
			if desc == "" {
				desc = errCode
			}
			redirectWithFlash(w, r, profilePath, FlashAlert, "TBDB authorization failed: "+desc)
			return
		}

		code := q.Get("code")
		if code == "" {
			redirectWithFlash(w, r, profilePath, FlashAlert, "No authorization code received from TBDB")
			return
		}

		if err := flow.ExchangeCodeForToken(ctx, code, q.Get("state")); err != nil {
			log.Error().Err(err).Msg("OAuth token exchange failed")
			redirectWithFlash(w, r, profilePath, FlashAlert, "Failed to complete TBDB connection: "+oauthMessage(err))
			return
		}
		redirectWithFlash(w, r, profilePath, FlashNotice, "Successfully connected to TBDB!")
	}
}

// TBDBDisconnectHandler revokes the tokens and forgets them locally.
func TBDBDisconnectHandler(flow OAuthFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := flow.RevokeTokens(r.Context()); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("TBDB disconnect failed")
			redirectWithFlash(w, r, profilePath, FlashAlert, "Failed to disconnect from TBDB")
			return
		}
		redirectWithFlash(w, r, profilePath, FlashNotice, "Disconnected from TBDB")
	}
}

func oauthMessage(err error) string {
	var oe *oauth.OAuthError
	if errors.As(err, &oe) {
		return oe.Message
	}
	return err.Error()
}
