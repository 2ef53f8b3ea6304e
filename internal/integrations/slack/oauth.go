package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	"starbot/internal/bot"
	"starbot/internal/logging"
	"starbot/internal/storage"
)

const (
	authorizeURL    = "https://slack.com/oauth/v2/authorize"
	stateCookieName = "starbot_oauth_state"
)

// BotScopes are the bot token scopes the install link asks for
var BotScopes = []string{
	"channels:history",
	"channels:read",
	"groups:history",
	"groups:read",
	"chat:write",
	"reactions:read",
	"reactions:write",
	"team:read",
	"users:read",
}

// Exchanger trades an OAuth code for an installed bot
type Exchanger func(ctx context.Context, code string) (storage.BotRecord, error)

// Launcher starts the bot for a freshly installed team
type Launcher interface {
	Launch(ctx context.Context, record storage.BotRecord) (*bot.Bot, error)
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OAuthHandler serves the "Add to Slack" install flow
type OAuthHandler struct {
	config   OAuthConfig
	exchange Exchanger
	store    storage.BotStore
	launcher Launcher
}

func NewOAuthHandler(config OAuthConfig, store storage.BotStore, launcher Launcher) *OAuthHandler {
	h := &OAuthHandler{
		config:   config,
		store:    store,
		launcher: launcher,
	}
	h.exchange = h.exchangeCode
	return h
}

// WithExchanger replaces the call to oauth.v2.access
func (h *OAuthHandler) WithExchanger(exchange Exchanger) *OAuthHandler {
	h.exchange = exchange
	return h
}

// HandleInstall redirects to Slack's consent screen
func (h *OAuthHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	if h.config.ClientID == "" {
		http.Error(w, "Slack app is not configured", http.StatusServiceUnavailable)
		return
	}

	state := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/slack",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.AuthorizeURL(state), http.StatusFound)
}

func (h *OAuthHandler) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", h.config.ClientID)
	params.Set("scope", strings.Join(BotScopes, ","))
	params.Set("state", state)
	if h.config.RedirectURL != "" {
		params.Set("redirect_uri", h.config.RedirectURL)
	}
	return authorizeURL + "?" + params.Encode()
}

// HandleCallback finishes an install: the code is exchanged for a bot token,
// the bot is stored and then started for its team.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())
	query := r.URL.Query()

	if reason := query.Get("error"); reason != "" {
		logger.Info("Slack install cancelled", "reason", reason)
		http.Error(w, "Installation was cancelled", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		logger.Warn("Slack install with mismatched state")
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		http.Error(w, "Missing OAuth code", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	record, err := h.exchange(ctx, code)
	if err != nil {
		logger.Error("OAuth exchange failed", "error", err)
		http.Error(w, "Could not complete installation", http.StatusBadGateway)
		return
	}

	if err := h.store.UpsertBot(ctx, record); err != nil {
		logger.Error("Failed to store installed bot", "team_id", record.TeamID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// the bot outlives the request
	if _, err := h.launcher.Launch(context.WithoutCancel(ctx), record); err != nil {
		logger.Error("Failed to launch installed bot", "team_id", record.TeamID, "error", err)
		http.Error(w, "Installed, but the bot could not connect", http.StatusBadGateway)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/slack", MaxAge: -1})
	logger.Info("Slack app installed", "team_id", record.TeamID, "bot_id", record.BotUserID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "starbot is installed in %s. Invite it to a channel and say \"@starbot scan\".\n", record.TeamID)
}

func (h *OAuthHandler) exchangeCode(ctx context.Context, code string) (storage.BotRecord, error) {
	resp, err := slack.GetOAuthV2ResponseContext(ctx, http.DefaultClient, h.config.ClientID, h.config.ClientSecret, code, h.config.RedirectURL)
	if err != nil {
		return storage.BotRecord{}, fmt.Errorf("oauth.v2.access failed: %w", err)
	}
	return botRecordFromOAuth(resp)
}

func botRecordFromOAuth(resp *slack.OAuthV2Response) (storage.BotRecord, error) {
	if resp.AccessToken == "" || resp.Team.ID == "" {
		return storage.BotRecord{}, errors.New("oauth response has no bot token")
	}

	var scopes []string
	for _, scope := range strings.Split(resp.Scope, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}

	slog.Debug("OAuth exchange complete", "team_id", resp.Team.ID, "scopes", len(scopes))

	return storage.BotRecord{
		TeamID:    resp.Team.ID,
		BotUserID: resp.BotUserID,
		Token:     resp.AccessToken,
		Scopes:    scopes,
		Enabled:   true,
	}, nil
}
