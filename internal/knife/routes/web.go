package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"esi-knife/internal/knife/dto"
	"esi-knife/internal/knife/models"
	"esi-knife/internal/knife/services"
	"esi-knife/pkg/config"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const authorizeURL = "https://login.eveonline.com/oauth/authorize"

const indexPage = `<!DOCTYPE html>
<html>
<head><title>ESI knife</title></head>
<body>
<h1>ESI knife</h1>
<p>Pulls everything your access token can reach out of ESI and bundles
it into a single shareable document.</p>
<p><a href="/knife">Take my character apart</a></p>
</body>
</html>
`

// callbackPage moves the implicit-flow token out of the URL fragment,
// which the server never sees, into a query string /knife can read.
const callbackPage = `<!DOCTYPE html>
<html>
<body>
<script>window.location = "/knife?" + window.location.hash.substr(1);</script>
</body>
</html>
`

const pendingPage = `<!DOCTYPE html>
<html>
<head><title>ESI knife</title><meta http-equiv="refresh" content="10"></head>
<body>
<h1>Your run is %s</h1>
<p>This page refreshes itself. Results stay available for 7 days at
<a href="/view?token=%s">this link</a>.</p>
</body>
</html>
`

// Web serves the HTML shell: SSO entry, the callback trampoline and
// result viewing.
type Web struct {
	repo *services.Repository
}

func NewWeb(repo *services.Repository) *Web {
	return &Web{repo: repo}
}

// Register mounts the HTML routes on the router.
func (w *Web) Register(r chi.Router) {
	r.Get("/", w.index)
	r.Get("/knife", w.knife)
	r.Get("/callback", w.callback)
	r.Get("/view", w.view)
}

func (w *Web) index(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(rw, indexPage)
}

func (w *Web) callback(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(rw, callbackPage)
}

// knife either accepts a token coming back from SSO or starts a new
// login. Token verification happens out of band on the supervisor; we
// might be error limited right now.
func (w *Web) knife(rw http.ResponseWriter, r *http.Request) {
	accessToken := r.URL.Query().Get("access_token")
	state := r.URL.Query().Get("state")

	if accessToken != "" && state != "" && w.repo.ConsumeAuthState(r.Context(), state) {
		if err := w.repo.CreateRun(r.Context(), state, accessToken); err != nil {
			slog.Error("failed to register run", "error", err)
			http.Redirect(rw, r, "/?e=try_again", http.StatusFound)
			return
		}
		http.Redirect(rw, r, "/view?token="+state+"&e=pending", http.StatusFound)
		return
	}

	state = uuid.New().String()
	if err := w.repo.SetAuthState(r.Context(), state); err != nil {
		slog.Error("failed to store auth state", "error", err)
		http.Redirect(rw, r, "/?e=try_again", http.StatusFound)
		return
	}

	query := url.Values{
		"response_type": {"token"},
		"redirect_uri":  {config.CallbackURL()},
		"client_id":     {config.ClientID()},
		"scope":         {config.ScopeString()},
		"state":         {state},
	}
	http.Redirect(rw, r, authorizeURL+"?"+query.Encode(), http.StatusFound)
}

func (w *Web) view(rw http.ResponseWriter, r *http.Request) {
	if w.repo.RateLimited(r.Context(), clientIP(r)) {
		http.Error(rw, "chill out bruh, maybe you need to run a self-hosted copy", 420)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Redirect(rw, r, "/?e=no_token", http.StatusFound)
		return
	}
	if !dto.ValidRunToken(token) {
		http.Redirect(rw, r, "/?e=invalid_token", http.StatusFound)
		return
	}

	doc, err := w.repo.ReadDocument(r.Context(), token)
	if err == nil {
		results, err := services.DecodeDocument(doc)
		if err != nil {
			slog.Error("failed to decode stored document", "token", token, "error", err)
			http.Error(rw, "document corrupt", http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(results); err != nil {
			slog.Warn("failed to write document", "error", err)
		}
		return
	}
	if err != redis.Nil {
		slog.Error("failed to read document", "token", token, "error", err)
	}

	switch state, _ := w.repo.RunState(r.Context(), token); state {
	case models.KeyPending, models.KeyProcessing, models.KeyNew:
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(rw, pendingPage, strings.TrimSuffix(state, "."), token)
	default:
		http.Redirect(rw, r, "/?e=invalid_token", http.StatusFound)
	}
}

// clientIP resolves the caller's address behind the reverse proxy. The
// last X-Forwarded-For hop is the proxy itself, so the one before it is
// the client.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		if len(hops) >= 2 {
			return strings.TrimSpace(hops[len(hops)-2])
		}
		return strings.TrimSpace(hops[0])
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
