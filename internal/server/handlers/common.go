// Package handlers implements the ShelfLife HTTP endpoints.
package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/tbdb"
)

const flashCookie = "shelflife_flash"

const (
	FlashNotice = "notice"
	FlashAlert  = "alert"
)

// Flash is a one-shot message carried across a redirect.
type Flash struct {
	Kind    string
	Message string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeTBDBError maps a TBDB client error onto an HTTP response.
func writeTBDBError(w http.ResponseWriter, err error) {
	o := tbdb.Classify(err)
	switch o.Kind {
	case tbdb.OutcomeRateLimited:
		setRetryAfter(w, o.RetryAfter)
		writeError(w, http.StatusTooManyRequests, err.Error())
	case tbdb.OutcomeQuotaExhausted:
		setRetryAfter(w, o.RetryAfter)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case tbdb.OutcomeAuthRequired:
		writeError(w, http.StatusUnauthorized, err.Error())
	case tbdb.OutcomeConnectionRequired:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// setRetryAfter writes whole seconds, rounding up; unknown waits send no header.
func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs <= 0 {
		return
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}

func urlParamID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func setFlash(w http.ResponseWriter, kind, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(kind + ":" + message),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash returns and clears the pending flash, if any.
func popFlash(w http.ResponseWriter, r *http.Request) *Flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1, Expires: time.Unix(0, 0)})
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return nil
	}
	kind, msg, ok := strings.Cut(raw, ":")
	if !ok {
		return nil
	}
	return &Flash{Kind: kind, Message: msg}
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, to, kind, message string) {
	setFlash(w, kind, message)
	http.Redirect(w, r, to, http.StatusSeeOther)
}
