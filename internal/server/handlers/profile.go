package handlers

import (
	"context"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/tbdb"
)

type ConnectionReader interface {
	Instance(ctx context.Context) (*models.Connection, error)
}

// TBDBClients hands out a ready TBDB client.
type TBDBClients interface {
	Client(ctx context.Context) (*tbdb.Client, error)
}

type connectionView struct {
	Registered bool                  `json:"registered"`
	Connected  bool                  `json:"connected"`
	Status     string                `json:"status"`
	Verified   bool                  `json:"verified"`
	VerifiedAt *time.Time            `json:"verified_at,omitempty"`
	ExpiresAt  *time.Time            `json:"expires_at,omitempty"`
	APIBaseURL string                `json:"api_base_url,omitempty"`
	LastError  string                `json:"last_error,omitempty"`
	Account    *tbdb.Me              `json:"account,omitempty"`
	Quota      *models.QuotaSnapshot `json:"quota,omitempty"`
	Flash      *Flash                `json:"flash,omitempty"`
}

// ProfileHandler shows the TBDB connection. A connection that has not been
// verified recently is checked against /api/v1/me first.
func ProfileHandler(conns ConnectionReader, clients TBDBClients, sc cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		view := connectionView{Flash: popFlash(w, r)}

		conn, err := conns.Instance(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load TBDB connection")
			return
		}
		if conn.Connected() && !conn.Verified(time.Now()) {
			if client, err := clients.Client(ctx); err == nil {
				me, err := client.GetMe(ctx)
				if err != nil {
					logging.Ctx(ctx).Warn().Err(err).Msg("TBDB connection check failed")
				}
				view.Account = me
			}
			if conn, err = conns.Instance(ctx); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to load TBDB connection")
				return
			}
		}

		view.Registered = conn.Registered()
		view.Connected = conn.Connected()
		view.Status = string(conn.Status)
		view.Verified = conn.Verified(time.Now())
		view.VerifiedAt = conn.VerifiedAt
		view.ExpiresAt = conn.ExpiresAt
		view.APIBaseURL = conn.APIBaseURL
		view.LastError = conn.LastError
		if q, err := tbdb.QuotaStatus(ctx, sc, conns); err == nil {
			view.Quota = q
		}

		if strings.Contains(r.Header.Get("Accept"), "application/json") {
			writeJSON(w, http.StatusOK, view)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := profileTemplate.Execute(w, view); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("failed to render profile")
		}
	}
}

var profileTemplate = template.Must(template.New("profile").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>ShelfLife - TBDB connection</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 640px; margin: 40px auto; padding: 20px; }
		.notice { background: #e6f4ea; padding: 10px; border-radius: 6px; }
		.alert { background: #fde8e8; padding: 10px; border-radius: 6px; }
		dt { font-weight: 600; margin-top: 8px; }
	</style>
</head>
<body>
	<h1>TBDB connection</h1>
	{{with .Flash}}<p class="{{.Kind}}">{{.Message}}</p>{{end}}
	{{if .Connected}}
	<dl>
		<dt>Status</dt><dd>{{if .Verified}}✅ verified{{else}}connected{{end}}</dd>
		{{with .Account}}<dt>Account</dt><dd>{{.Name}} {{.Email}}</dd>{{end}}
		<dt>API</dt><dd>{{.APIBaseURL}}</dd>
		{{with .Quota}}<dt>Quota</dt><dd>{{.Remaining}} / {{.Limit}} calls left ({{.Percentage.StringFixed 1}}% remaining)</dd>{{end}}
	</dl>
	<form method="post" action="/auth/tbdb/disconnect"><button type="submit">Disconnect</button></form>
	{{else}}
	{{with .LastError}}<p class="alert">{{.}}</p>{{end}}
	<p><a href="/auth/tbdb">Connect to TBDB</a></p>
	{{end}}
</body>
</html>
`))
