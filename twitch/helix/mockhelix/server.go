// Package mockhelix is an in-process stand-in for the Twitch OAuth and Helix
// APIs, used by the adapter's tests. It issues and validates tokens, stores
// EventSub subscriptions, and can be scripted to fail authentication or
// rate-limit requests.
package mockhelix

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bjoelf/twitch-adapter/twitch"
)

const (
	bucketLimit  = 800
	bucketWindow = time.Minute
)

// User is a Helix user record served by GetUsers.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Subscription is a stored EventSub subscription.
type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport map[string]string `json:"transport"`
	CreatedAt string            `json:"created_at"`
	Cost      int               `json:"cost"`
}

type tokenRecord struct {
	kind   twitch.TokenKind
	userID string
	login  string
	scopes []string
}

type deviceGrant struct {
	userCode  string
	scopes    []string
	userID    string
	login     string
	pollsLeft int // authorization_pending replies before success
	expired   bool
}

// Server mocks the Twitch OAuth endpoints and a slice of the Helix API.
type Server struct {
	server       *httptest.Server
	clientID     string
	clientSecret string

	mu        sync.Mutex
	users     []User
	authCodes map[string]tokenRecord
	tokens    map[string]tokenRecord
	refresh   map[string]tokenRecord
	devices   map[string]*deviceGrant
	subs      map[string]Subscription
	subOrder  []string

	remaining int
	resetAt   time.Time
	limiter   *rate.Limiter

	failAuthCount   int
	rateLimitCount  int
	failStatusCount int
	failStatus      int
	wsURL          string
	pageSize       int
	validateDelay  time.Duration

	tokenRequests    int
	refreshRequests  int
	validateRequests int
}

// NewServer starts a mock accepting the given application credentials.
func NewServer(clientID, clientSecret string) *Server {
	s := &Server{
		clientID:     clientID,
		clientSecret: clientSecret,
		authCodes:    make(map[string]tokenRecord),
		tokens:       make(map[string]tokenRecord),
		refresh:      make(map[string]tokenRecord),
		devices:      make(map[string]*deviceGrant),
		subs:         make(map[string]Subscription),
		remaining:    bucketLimit,
		resetAt:      time.Now().Add(bucketWindow),
		limiter:      rate.NewLimiter(rate.Inf, 0),
		pageSize:     20,
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts the mock down.
func (s *Server) Close() { s.server.Close() }

// Client returns an HTTP client wired to the mock.
func (s *Server) Client() *http.Client { return s.server.Client() }

// URL returns the mock's base URL.
func (s *Server) URL() string { return s.server.URL }

// Endpoints returns an endpoint set pointing every URL at the mock.
func (s *Server) Endpoints() twitch.Endpoints {
	return twitch.Endpoints{
		AuthURL:     s.server.URL + "/oauth2/authorize",
		TokenURL:    s.server.URL + "/oauth2/token",
		DeviceURL:   s.server.URL + "/oauth2/device",
		ValidateURL: s.server.URL + "/oauth2/validate",
		HelixURL:    s.server.URL + "/helix",
		EventSubURL: s.wsURL,
	}
}

// SetEventSubURL sets the websocket URL that Endpoints reports, so a mock
// EventSub server can be paired with this one.
func (s *Server) SetEventSubURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wsURL = u
}

// AddUser registers a Helix user.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
}

// AddAuthCode registers an authorization code redeemable for a user token.
func (s *Server) AddAuthCode(code, userID, login string, scopes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code] = tokenRecord{kind: twitch.TokenUser, userID: userID, login: login, scopes: scopes}
}

// IssueUserToken mints a valid user token directly, bypassing any flow.
func (s *Server) IssueUserToken(userID, login string, scopes ...string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := tokenRecord{kind: twitch.TokenUser, userID: userID, login: login, scopes: scopes}
	access = "mock-access-" + uuid.NewString()
	refresh = "mock-refresh-" + uuid.NewString()
	s.tokens[access] = rec
	s.refresh[refresh] = rec
	return access, refresh
}

// IssueAppToken mints a valid app token directly.
func (s *Server) IssueAppToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	access := "mock-app-" + uuid.NewString()
	s.tokens[access] = tokenRecord{kind: twitch.TokenApp}
	return access
}

// RevokeToken makes an issued token invalid, so validate and Helix calls
// reject it.
func (s *Server) RevokeToken(access string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, access)
}

// PrimeDevice arranges for the next device-code request to resolve to the
// given user after pendingPolls authorization_pending replies.
func (s *Server) PrimeDevice(userID, login string, pendingPolls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices["next"] = &deviceGrant{userID: userID, login: login, pollsLeft: pendingPolls}
}

// FailAuthOnce makes the next n Helix requests answer 401 regardless of the
// presented token.
func (s *Server) FailAuthOnce(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAuthCount = n
}

// FailStatusOnce makes the next n Helix requests answer with the given
// status code, for testing how clients treat statuses an endpoint does not
// expect.
func (s *Server) FailStatusOnce(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatusCount = n
	s.failStatus = status
}

// RateLimitOnce makes the next n Helix requests answer 429 with a
// Ratelimit-Reset the given distance in the future.
func (s *Server) RateLimitOnce(n int, resetIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitCount = n
	s.resetAt = time.Now().Add(resetIn)
}

// SetPageSize controls how many records list endpoints return per page.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// SetValidateDelay makes the validate endpoint sleep before answering, so
// tests can guarantee concurrent validations overlap.
func (s *Server) SetValidateDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validateDelay = d
}

// Subscriptions returns a snapshot of the stored EventSub subscriptions.
func (s *Server) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// TokenRequests reports how many times the token endpoint was hit.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// RefreshRequests reports how many refresh_token grants were served.
func (s *Server) RefreshRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshRequests
}

// ValidateRequests reports how many times the validate endpoint was hit.
func (s *Server) ValidateRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateRequests
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/oauth2/token":
		s.handleToken(w, r)
	case r.URL.Path == "/oauth2/device":
		s.handleDevice(w, r)
	case r.URL.Path == "/oauth2/validate":
		s.handleValidate(w, r)
	case strings.HasPrefix(r.URL.Path, "/helix/"):
		s.handleHelix(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "message": "not found"})
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "malformed form"))
		return
	}
	s.mu.Lock()
	s.tokenRequests++
	s.mu.Unlock()

	if r.PostForm.Get("client_id") != s.clientID {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "invalid client"))
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.grantAuthCode(w, r)
	case "refresh_token":
		s.grantRefresh(w, r)
	case "client_credentials":
		s.grantClientCredentials(w, r)
	case "urn:ietf:params:oauth:grant-type:device_code":
		s.grantDevice(w, r)
	default:
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "unsupported grant type"))
	}
}

func (s *Server) grantAuthCode(w http.ResponseWriter, r *http.Request) {
	if r.PostForm.Get("client_secret") != s.clientSecret {
		writeJSON(w, http.StatusForbidden, oauthErr(403, "invalid client secret"))
		return
	}
	s.mu.Lock()
	rec, ok := s.authCodes[r.PostForm.Get("code")]
	if ok {
		delete(s.authCodes, r.PostForm.Get("code"))
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "invalid authorization code"))
		return
	}
	s.writeTokenResponse(w, rec, true)
}

func (s *Server) grantRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.refreshRequests++
	rec, ok := s.refresh[r.PostForm.Get("refresh_token")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "Invalid refresh token"))
		return
	}
	s.writeTokenResponse(w, rec, true)
}

func (s *Server) grantClientCredentials(w http.ResponseWriter, r *http.Request) {
	if r.PostForm.Get("client_secret") != s.clientSecret {
		writeJSON(w, http.StatusForbidden, oauthErr(403, "invalid client secret"))
		return
	}
	s.writeTokenResponse(w, tokenRecord{kind: twitch.TokenApp}, false)
}

func (s *Server) grantDevice(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	grant, ok := s.devices[r.PostForm.Get("device_code")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "invalid device code"))
		return
	}
	if grant.expired {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "invalid device code"))
		return
	}
	s.mu.Lock()
	pending := grant.pollsLeft > 0
	if pending {
		grant.pollsLeft--
	}
	s.mu.Unlock()
	if pending {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "authorization_pending"))
		return
	}
	s.writeTokenResponse(w, tokenRecord{
		kind:   twitch.TokenUser,
		userID: grant.userID,
		login:  grant.login,
		scopes: grant.scopes,
	}, true)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("client_id") != s.clientID {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "invalid client"))
		return
	}
	scopes := strings.Fields(r.PostForm.Get("scopes"))

	s.mu.Lock()
	grant := s.devices["next"]
	if grant == nil {
		grant = &deviceGrant{userID: "0", login: "nobody", pollsLeft: 1 << 30}
	} else {
		delete(s.devices, "next")
	}
	grant.scopes = scopes
	grant.userCode = strings.ToUpper(uuid.NewString()[:8])
	code := "mock-device-" + uuid.NewString()
	s.devices[code] = grant
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      code,
		"user_code":        grant.userCode,
		"verification_uri": "https://www.twitch.tv/activate",
		"interval":         1,
		"expires_in":       1800,
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.validateRequests++
	rec, ok := s.tokens[bearerOf(r)]
	delay := s.validateDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, oauthErr(401, "invalid access token"))
		return
	}
	resp := map[string]any{
		"client_id":  s.clientID,
		"scopes":     rec.scopes,
		"expires_in": 3600,
	}
	if rec.kind == twitch.TokenUser {
		resp["user_id"] = rec.userID
		resp["login"] = rec.login
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHelix(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.failAuthCount > 0 {
		s.failAuthCount--
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, oauthErr(401, "invalid access token"))
		return
	}
	if s.failStatusCount > 0 {
		s.failStatusCount--
		status := s.failStatus
		s.mu.Unlock()
		writeJSON(w, status, oauthErr(status, http.StatusText(status)))
		return
	}
	rec, authOK := s.tokens[bearerOf(r)]
	clientOK := r.Header.Get("Client-Id") == s.clientID

	if time.Now().After(s.resetAt) {
		s.remaining = bucketLimit
		s.resetAt = time.Now().Add(bucketWindow)
	}
	forced := s.rateLimitCount > 0
	if forced {
		s.rateLimitCount--
	}
	limited := forced || !s.limiter.Allow()
	if !limited && s.remaining > 0 {
		s.remaining--
	}
	s.setRateHeaders(w)
	s.mu.Unlock()

	if !authOK || !clientOK {
		writeJSON(w, http.StatusUnauthorized, oauthErr(401, "invalid access token"))
		return
	}
	if limited {
		writeJSON(w, http.StatusTooManyRequests, oauthErr(429, "too many requests"))
		return
	}

	switch {
	case r.URL.Path == "/helix/users" && r.Method == http.MethodGet:
		s.handleGetUsers(w, r)
	case r.URL.Path == "/helix/eventsub/subscriptions" && r.Method == http.MethodPost:
		s.handleCreateSub(w, r, rec)
	case r.URL.Path == "/helix/eventsub/subscriptions" && r.Method == http.MethodDelete:
		s.handleDeleteSub(w, r)
	case r.URL.Path == "/helix/eventsub/subscriptions" && r.Method == http.MethodGet:
		s.handleListSubs(w, r)
	default:
		writeJSON(w, http.StatusNotFound, oauthErr(404, "not found"))
	}
}

// setRateHeaders mirrors Twitch's Ratelimit-* trio. Caller holds s.mu.
func (s *Server) setRateHeaders(w http.ResponseWriter) {
	w.Header().Set("Ratelimit-Limit", strconv.Itoa(bucketLimit))
	w.Header().Set("Ratelimit-Remaining", strconv.Itoa(s.remaining))
	w.Header().Set("Ratelimit-Reset", strconv.FormatInt(s.resetAt.Unix(), 10))
}

func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logins := r.URL.Query()["login"]
	ids := r.URL.Query()["id"]
	var data []User
	for _, u := range s.users {
		if len(logins) == 0 && len(ids) == 0 {
			data = append(data, u)
			continue
		}
		for _, l := range logins {
			if u.Login == l {
				data = append(data, u)
			}
		}
		for _, id := range ids {
			if u.ID == id {
				data = append(data, u)
			}
		}
	}
	if data == nil {
		data = []User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handleCreateSub(w http.ResponseWriter, r *http.Request, rec tokenRecord) {
	var req struct {
		Type      string            `json:"type"`
		Version   string            `json:"version"`
		Condition map[string]string `json:"condition"`
		Transport map[string]string `json:"transport"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" || req.Version == "" {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "missing or invalid subscription request"))
		return
	}
	if req.Transport["method"] == "websocket" && req.Transport["session_id"] == "" {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "websocket transport requires a session_id"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subs {
		if existing.Type == req.Type && existing.Version == req.Version &&
			equalConditions(existing.Condition, req.Condition) &&
			existing.Transport["session_id"] == req.Transport["session_id"] {
			writeJSON(w, http.StatusConflict, oauthErr(409, "subscription already exists"))
			return
		}
	}
	sub := Subscription{
		ID:        uuid.NewString(),
		Status:    "enabled",
		Type:      req.Type,
		Version:   req.Version,
		Condition: req.Condition,
		Transport: req.Transport,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Cost:      0,
	}
	s.subs[sub.ID] = sub
	s.subOrder = append(s.subOrder, sub.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"data":          []Subscription{sub},
		"total":         len(s.subs),
		"total_cost":    0,
		"max_total_cost": 10,
	})
}

func (s *Server) handleDeleteSub(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, oauthErr(400, "missing id"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		writeJSON(w, http.StatusNotFound, oauthErr(404, "subscription not found"))
		return
	}
	delete(s.subs, id)
	for i, oid := range s.subOrder {
		if oid == id {
			s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSubs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]Subscription, 0, len(s.subs))
	for _, id := range s.subOrder {
		all = append(all, s.subs[id])
	}
	start := 0
	if after := r.URL.Query().Get("after"); after != "" {
		if n, err := strconv.Atoi(after); err == nil {
			start = n
		}
	}
	end := start + s.pageSize
	if end > len(all) {
		end = len(all)
	}
	page := []Subscription{}
	if start < len(all) {
		page = all[start:end]
	}
	resp := map[string]any{
		"data":       page,
		"total":      len(all),
		"total_cost": 0,
		"pagination": map[string]any{},
	}
	if end < len(all) {
		resp["pagination"] = map[string]any{"cursor": strconv.Itoa(end)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func bearerOf(r *http.Request) string {
	h := r.Header.Get("Authorization")
	for _, prefix := range []string{"Bearer ", "OAuth "} {
		if strings.HasPrefix(h, prefix) {
			return strings.TrimPrefix(h, prefix)
		}
	}
	return ""
}

func (s *Server) writeTokenResponse(w http.ResponseWriter, rec tokenRecord, withRefresh bool) {
	s.mu.Lock()
	access := "mock-access-" + uuid.NewString()
	s.tokens[access] = rec
	resp := map[string]any{
		"access_token": access,
		"expires_in":   3600,
		"token_type":   "bearer",
	}
	if len(rec.scopes) > 0 {
		resp["scope"] = rec.scopes
	}
	if withRefresh {
		refresh := "mock-refresh-" + uuid.NewString()
		s.refresh[refresh] = rec
		resp["refresh_token"] = refresh
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func oauthErr(status int, message string) map[string]any {
	return map[string]any{"status": status, "message": message, "error": http.StatusText(status)}
}

func equalConditions(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			fmt.Println("mockhelix: encode response:", err)
		}
	}
}
