// Package testhelpers runs an in-process fake of the marketplace API for
// tests. Tokens are HS256 JWTs; failures can be scripted per route.
package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/models"
)

const (
	APIPrefix    = "/v1"
	TestUsername = "alice"
	TestPassword = "wonderland"
	TestUserID   = "user-1"
)

type account struct {
	user     models.User
	password string
}

type scriptedFailure struct {
	status int
	left   int
}

// FakeMarket is a stateful stand-in for the marketplace API.
type FakeMarket struct {
	Server *httptest.Server

	mu            sync.Mutex
	secret        []byte
	now           func() time.Time
	tokenLifetime time.Duration
	live          map[string]bool
	rejectRefresh bool
	failures      map[string]*scriptedFailure
	hits          map[string]int
	idemKeys      map[string][]string

	users     map[string]account
	instances map[string]*dtos.InstanceResponse
	repos     map[string]dtos.RepositoryResponse
	issues    []dtos.IssueResponse
	blocks    []dtos.BlockPaymentRequest
	chats     map[string][]dtos.MessageResponse
	apiKeys   map[string]*models.APIKey
	rewards   map[string][]models.Credits
}

// NewFakeMarket starts the server; it is closed when the test ends.
func NewFakeMarket(t *testing.T) *FakeMarket {
	t.Helper()
	f := &FakeMarket{
		secret:        []byte("fake-market-secret"),
		now:           time.Now,
		tokenLifetime: constants.DefaultTokenLifetime,
		live:          map[string]bool{},
		failures:      map[string]*scriptedFailure{},
		hits:          map[string]int{},
		idemKeys:      map[string][]string{},
		users: map[string]account{TestUsername: {
			user:     models.User{ID: TestUserID, Username: TestUsername, Email: "alice@example.com"},
			password: TestPassword,
		}},
		instances: map[string]*dtos.InstanceResponse{},
		repos:     map[string]dtos.RepositoryResponse{},
		chats:     map[string][]dtos.MessageResponse{},
		apiKeys:   map[string]*models.APIKey{},
		rewards:   map[string][]models.Credits{},
	}
	f.Server = httptest.NewServer(f.router())
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL is what a transport.Client should be pointed at.
func (f *FakeMarket) BaseURL() string {
	return f.Server.URL + APIPrefix
}

// SetNow pins the server clock used for issued tokens and bid times.
func (f *FakeMarket) SetNow(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// FailNext makes the next n calls to method+path answer with status.
// path is relative to the API prefix, e.g. "/instances/abc".
func (f *FakeMarket) FailNext(method, path string, status, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+path] = &scriptedFailure{status: status, left: n}
}

// RevokeTokens makes every token issued so far answer 401. The refresh
// endpoint still accepts them.
func (f *FakeMarket) RevokeTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = map[string]bool{}
}

func (f *FakeMarket) RejectRefresh(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectRefresh = reject
}

// Hits counts calls to method+path, failed ones included.
func (f *FakeMarket) Hits(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method+" "+path]
}

// IdempotencyKeys lists the keys received for method+path, in order.
func (f *FakeMarket) IdempotencyKeys(method, path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.idemKeys[method+" "+path]...)
}

func (f *FakeMarket) AddInstance(inst dtos.InstanceResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := inst
	f.instances[inst.ID] = &cp
}

// UpdateInstance edits a stored instance in place.
func (f *FakeMarket) UpdateInstance(id string, fn func(*dtos.InstanceResponse)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[id]; ok {
		fn(inst)
	}
}

func (f *FakeMarket) Instance(id string) dtos.InstanceResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.instances[id]
}

func (f *FakeMarket) AddIssue(is dtos.IssueResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append(f.issues, is)
}

func (f *FakeMarket) Blocks() []dtos.BlockPaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dtos.BlockPaymentRequest(nil), f.blocks...)
}

func (f *FakeMarket) Repositories() []dtos.RepositoryResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repoList()
}

func (f *FakeMarket) RewardReports(id string) []models.Credits {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Credits(nil), f.rewards[id]...)
}

// IssueToken signs a token the way the login endpoint would.
func (f *FakeMarket) IssueToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueToken()
}

func (f *FakeMarket) issueToken() string {
	now := f.now()
	jti := uuid.NewString()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": TestUserID,
		"iat": now.Unix(),
		"exp": now.Add(f.tokenLifetime).Unix(),
		"jti": jti,
	})
	signed, err := tok.SignedString(f.secret)
	if err != nil {
		panic(err)
	}
	f.live[jti] = true
	return signed
}

func (f *FakeMarket) router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix(APIPrefix).Subrouter()
	api.Use(f.scripted)

	api.HandleFunc(constants.PathAuthLogin, f.login).Methods(http.MethodPost)
	api.HandleFunc(constants.PathAuthRegister, f.register).Methods(http.MethodPost)
	api.HandleFunc(constants.PathAuthRefresh, f.refresh).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(f.authenticated)
	authed.HandleFunc(constants.PathAuthMe, f.me).Methods(http.MethodGet)
	authed.HandleFunc(constants.PathAPIKeysList, f.listAPIKeys).Methods(http.MethodGet)
	authed.HandleFunc(constants.PathAPIKeysCreate, f.createAPIKey).Methods(http.MethodPost)
	authed.HandleFunc(constants.PathAPIKeysDelete, f.deleteAPIKey).Methods(http.MethodDelete)
	authed.HandleFunc(constants.PathAPIKeysEnable, f.toggleAPIKey(true)).Methods(http.MethodPut)
	authed.HandleFunc(constants.PathAPIKeysDisable, f.toggleAPIKey(false)).Methods(http.MethodPut)

	authed.HandleFunc(constants.PathInstances, f.createInstance).Methods(http.MethodPost)
	authed.HandleFunc(constants.PathInstancesForCurrentUser, f.listInstances).Methods(http.MethodGet)
	authed.HandleFunc(constants.PathInstancesInvolvedProvider, f.involvedProviders).Methods(http.MethodGet)
	authed.HandleFunc("/instances/{id}", f.getInstance).Methods(http.MethodGet)
	authed.HandleFunc("/instances/{id}/bids", f.submitBid).Methods(http.MethodPost)
	authed.HandleFunc("/instances/{id}/report-reward", f.reportReward).Methods(http.MethodPut)
	authed.HandleFunc("/instances/{id}/winning-providers", f.winningProviders).Methods(http.MethodGet)

	authed.HandleFunc(constants.PathGitHubRepositories, f.listRepos).Methods(http.MethodGet)
	authed.HandleFunc(constants.PathGitHubRepositories, f.addRepo).Methods(http.MethodPost)
	authed.HandleFunc(constants.PathGitHubRepositories, f.removeRepo).Methods(http.MethodDelete)
	authed.HandleFunc(constants.PathGitHubIssues, f.listIssues).Methods(http.MethodGet)
	authed.HandleFunc(constants.PathGitHubBlock, f.block).Methods(http.MethodPost)

	authed.HandleFunc("/chat/{id}", f.getChat).Methods(http.MethodGet)
	authed.HandleFunc("/chat/send-message/{id}", f.sendMessage).Methods(http.MethodPost)
	return r
}

func (f *FakeMarket) scripted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + strings.TrimPrefix(r.URL.Path, APIPrefix)
		f.mu.Lock()
		f.hits[key]++
		if k := r.Header.Get(constants.IdempotencyKeyHeader); k != "" {
			f.idemKeys[key] = append(f.idemKeys[key], k)
		}
		fail := f.failures[key]
		status := 0
		if fail != nil && fail.left > 0 {
			fail.left--
			status = fail.status
		}
		f.mu.Unlock()

		if status != 0 {
			writeDetail(w, status, fmt.Sprintf("scripted failure %d", status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeMarket) parseToken(r *http.Request) (*jwt.Token, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return nil, false
	}
	f.mu.Lock()
	now := f.now
	f.mu.Unlock()
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return f.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now))
	if err != nil || !tok.Valid {
		return nil, false
	}
	return tok, true
}

func (f *FakeMarket) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := f.parseToken(r)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		claims, _ := tok.Claims.(jwt.MapClaims)
		jti, _ := claims["jti"].(string)
		f.mu.Lock()
		live := f.live[jti]
		f.mu.Unlock()
		if !live {
			writeDetail(w, http.StatusUnauthorized, "Token has been revoked")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeMarket) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	f.mu.Lock()
	acct, ok := f.users[r.PostForm.Get("username")]
	if !ok || acct.password != r.PostForm.Get("password") {
		f.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	tok := f.issueToken()
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, dtos.TokenResponse{AccessToken: tok, TokenType: "bearer"})
}

func (f *FakeMarket) register(w http.ResponseWriter, r *http.Request) {
	var req dtos.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	var missing []map[string]string
	for field, v := range map[string]string{"email": req.Email, "username": req.Username, "password": req.Password, "fullname": req.Fullname} {
		if v == "" {
			missing = append(missing, map[string]string{"msg": field + " field required"})
		}
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": missing})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.users[req.Username]; taken {
		writeDetail(w, http.StatusBadRequest, "Username already registered")
		return
	}
	user := models.User{ID: "user-" + strconv.Itoa(len(f.users)+1), Username: req.Username, Email: req.Email}
	f.users[req.Username] = account{user: user, password: req.Password}
	writeJSON(w, http.StatusOK, user)
}

func (f *FakeMarket) refresh(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.parseToken(r); !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectRefresh {
		writeDetail(w, http.StatusUnauthorized, "Refresh rejected")
		return
	}
	writeJSON(w, http.StatusOK, dtos.TokenResponse{AccessToken: f.issueToken(), TokenType: "bearer"})
}

func (f *FakeMarket) me(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	user := f.users[TestUsername].user
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, user)
}

func (f *FakeMarket) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dtos.APIKeyResponse, 0, len(f.apiKeys))
	for _, k := range f.apiKeys {
		out = append(out, dtos.APIKeyResponse{Name: k.Name, IsLive: k.IsLive, IsEnabled: k.IsEnabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeMarket) createAPIKey(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	live, _ := strconv.ParseBool(r.URL.Query().Get("is_live"))
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.apiKeys[name]; exists || name == "" {
		writeDetail(w, http.StatusConflict, "API key already exists")
		return
	}
	k := &models.APIKey{Name: name, Key: "sk-" + uuid.NewString(), IsLive: live, IsEnabled: true}
	f.apiKeys[name] = k
	writeJSON(w, http.StatusOK, dtos.APIKeyResponse{Name: k.Name, Key: k.Key, IsLive: k.IsLive, IsEnabled: k.IsEnabled})
}

func (f *FakeMarket) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apiKeys[name]; !ok {
		writeDetail(w, http.StatusNotFound, "API key not found")
		return
	}
	delete(f.apiKeys, name)
	writeJSON(w, http.StatusOK, dtos.StatusResponse{Status: "ok"})
}

func (f *FakeMarket) toggleAPIKey(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		f.mu.Lock()
		defer f.mu.Unlock()
		k, ok := f.apiKeys[name]
		if !ok {
			writeDetail(w, http.StatusNotFound, "API key not found")
			return
		}
		k.IsEnabled = enabled
		writeJSON(w, http.StatusOK, dtos.StatusResponse{Status: "ok"})
	}
}

func (f *FakeMarket) createInstance(w http.ResponseWriter, r *http.Request) {
	var req dtos.CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	// A replayed create with a known idempotency key returns the original.
	key := r.Header.Get(constants.IdempotencyKeyHeader)
	for _, inst := range f.instances {
		if key != "" && inst.Payload != nil && inst.Payload["idempotency_key"] == key {
			writeJSON(w, http.StatusOK, inst)
			return
		}
	}

	pct := req.PercentageReward
	inst := &dtos.InstanceResponse{
		ID:               uuid.NewString(),
		UserID:           TestUserID,
		Status:           models.InstanceStatusOpen,
		MaxCredit:        req.MaxCreditPerInstance,
		CreationDate:     dtos.Timestamp{Time: f.now().UTC()},
		InstanceTimeout:  float64(req.InstanceTimeout),
		GenRewardTimeout: float64(req.GenRewardTimeout),
		PercentageReward: &pct,
		Payload:          map[string]any{"idempotency_key": key},
	}
	f.instances[inst.ID] = inst
	writeJSON(w, http.StatusOK, inst)
}

func (f *FakeMarket) listInstances(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	filter := r.URL.Query().Get(constants.QueryInstanceStatus)
	out := []dtos.InstanceResponse{}
	for _, inst := range f.instances {
		if filter != "" && filter != strconv.Itoa(int(inst.Status)) {
			continue
		}
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationDate.Time.Before(out[j].CreationDate.Time) })
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeMarket) lookup(w http.ResponseWriter, r *http.Request) *dtos.InstanceResponse {
	inst, ok := f.instances[mux.Vars(r)["id"]]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Instance not found")
		return nil
	}
	return inst
}

func (f *FakeMarket) getInstance(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst := f.lookup(w, r); inst != nil {
		writeJSON(w, http.StatusOK, inst)
	}
}

func (f *FakeMarket) submitBid(w http.ResponseWriter, r *http.Request) {
	var req dtos.SubmitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.lookup(w, r)
	if inst == nil {
		return
	}
	if inst.Status != models.InstanceStatusOpen {
		writeDetail(w, http.StatusConflict, "Auction is closed")
		return
	}
	for i, b := range inst.Bids {
		if b.ProviderID == req.ProviderID {
			inst.Bids[i].Amount = req.Amount
			writeJSON(w, http.StatusOK, inst.Bids[i])
			return
		}
	}
	b := dtos.BidResponse{ProviderID: req.ProviderID, Amount: req.Amount, SubmittedAt: dtos.Timestamp{Time: f.now().UTC()}}
	inst.Bids = append(inst.Bids, b)
	writeJSON(w, http.StatusOK, b)
}

func (f *FakeMarket) reportReward(w http.ResponseWriter, r *http.Request) {
	var req dtos.ReportRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GenReward == nil {
		writeDetail(w, http.StatusBadRequest, "gen_reward is required")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.lookup(w, r)
	if inst == nil {
		return
	}
	f.rewards[inst.ID] = append(f.rewards[inst.ID], *req.GenReward)
	if inst.GenReward != nil {
		if *inst.GenReward == *req.GenReward {
			writeJSON(w, http.StatusOK, inst)
			return
		}
		writeDetail(w, http.StatusConflict, "Reward already reported")
		return
	}
	if *req.GenReward < 0 || *req.GenReward > inst.MaxCredit {
		writeDetail(w, http.StatusBadRequest, "gen_reward out of range")
		return
	}
	reward := *req.GenReward
	inst.GenReward = &reward
	if inst.Origin == string(models.OriginGitHub) {
		inst.Status = models.InstanceStatusResolved
	} else {
		inst.Status = models.InstanceStatusFinalized
	}
	writeJSON(w, http.StatusOK, inst)
}

func (f *FakeMarket) winningProviders(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst := f.lookup(w, r); inst != nil {
		writeJSON(w, http.StatusOK, dtos.WinningProvidersResponse{Providers: append([]string{}, inst.WinningProviders...)})
	}
}

func (f *FakeMarket) involvedProviders(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[r.URL.Query().Get("instance_id")]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Instance not found")
		return
	}
	out := []dtos.InvolvedProviderResponse{}
	for _, b := range inst.Bids {
		out = append(out, dtos.InvolvedProviderResponse{ProviderID: b.ProviderID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeMarket) repoList() []dtos.RepositoryResponse {
	out := make([]dtos.RepositoryResponse, 0, len(f.repos))
	for _, r := range f.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoURL < out[j].RepoURL })
	return out
}

func (f *FakeMarket) listRepos(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, f.repoList())
}

func (f *FakeMarket) addRepo(w http.ResponseWriter, r *http.Request) {
	var req dtos.AddRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RepoURL == "" {
		writeDetail(w, http.StatusBadRequest, "repo_url is required")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[req.RepoURL] = dtos.RepositoryResponse{RepoURL: req.RepoURL, DefaultReward: req.DefaultReward}
	writeJSON(w, http.StatusOK, f.repos[req.RepoURL])
}

func (f *FakeMarket) removeRepo(w http.ResponseWriter, r *http.Request) {
	var req dtos.RemoveRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "repo_url is required")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[req.RepoURL]; !ok {
		writeDetail(w, http.StatusNotFound, "Repository not bound")
		return
	}
	delete(f.repos, req.RepoURL)
	writeJSON(w, http.StatusOK, dtos.StatusResponse{Status: "ok"})
}

func (f *FakeMarket) listIssues(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo := r.URL.Query().Get("repo_url")
	out := []dtos.IssueResponse{}
	for _, is := range f.issues {
		if repo == "" || is.RepoURL == repo {
			out = append(out, is)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeMarket) block(w http.ResponseWriter, r *http.Request) {
	var req dtos.BlockPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.issues {
		is := &f.issues[i]
		if is.RepoURL != req.RepoURL || is.IssueNumber != req.IssueNumber {
			continue
		}
		if !is.PaymentBlocked {
			is.PaymentBlocked = true
			f.blocks = append(f.blocks, req)
			if is.InstanceID != nil {
				if inst, ok := f.instances[*is.InstanceID]; ok {
					inst.Status = models.InstanceStatusFinalized
				}
			}
		}
		writeJSON(w, http.StatusOK, dtos.StatusResponse{Status: "ok"})
		return
	}
	writeDetail(w, http.StatusNotFound, "Issue not found")
}

func (f *FakeMarket) getChat(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := f.instances[id]; !ok {
		writeDetail(w, http.StatusNotFound, "Instance not found")
		return
	}
	writeJSON(w, http.StatusOK, append([]dtos.MessageResponse{}, f.chats[id]...))
}

func (f *FakeMarket) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req dtos.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeDetail(w, http.StatusBadRequest, "message is required")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := mux.Vars(r)["id"]
	if _, ok := f.instances[id]; !ok {
		writeDetail(w, http.StatusNotFound, "Instance not found")
		return
	}
	f.chats[id] = append(f.chats[id], dtos.MessageResponse{
		Sender:    string(models.SenderRequester),
		Message:   req.Message,
		Timestamp: dtos.Timestamp{Time: f.now().UTC()},
	})
	writeJSON(w, http.StatusOK, dtos.StatusResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
