package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/profilehub/internal/address"
	"github.com/hitoshi/profilehub/internal/auth"
	"github.com/hitoshi/profilehub/internal/metrics"
	"github.com/hitoshi/profilehub/internal/middleware"
	"github.com/hitoshi/profilehub/internal/model"
	"github.com/hitoshi/profilehub/internal/profile"
	"github.com/hitoshi/profilehub/internal/repository"
	"github.com/hitoshi/profilehub/internal/security"
	"github.com/hitoshi/profilehub/internal/storage"
)

// --- インメモリリポジトリ ---

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]model.User{}}
}

func (r *memUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[externalID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *memUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ExternalID == user.ExternalID || u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	r.users[user.ExternalID] = *user
	return nil
}

func (r *memUserRepo) RecordLogin(ctx context.Context, externalID string, picture *string, at time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[externalID]
	if !ok {
		return nil, nil
	}
	if picture != nil {
		u.Picture = *picture
	}
	u.LastLogin, u.UpdatedAt = at, at
	r.users[externalID] = u
	return &u, nil
}

func (r *memUserRepo) UpdateProfile(ctx context.Context, externalID string, changes model.ProfileChanges, at time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[externalID]
	if !ok {
		return nil, nil
	}
	if changes.Name != nil {
		u.Name = *changes.Name
	}
	if changes.Bio != nil {
		u.Bio = *changes.Bio
	}
	if changes.CustomAvatar != nil {
		u.CustomAvatar = *changes.CustomAvatar
	}
	u.UpdatedAt = at
	r.users[externalID] = u
	return &u, nil
}

type memAddressRepo struct {
	mu        sync.Mutex
	users     *memUserRepo
	addresses map[string]model.Address
}

func newMemAddressRepo(users *memUserRepo) *memAddressRepo {
	return &memAddressRepo{users: users, addresses: map[string]model.Address{}}
}

func (r *memAddressRepo) ListByOwner(ctx context.Context, owner string) ([]*model.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*model.Address, 0)
	for _, a := range r.addresses {
		if a.OwnerExternalID == owner {
			a := a
			list = append(list, &a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (r *memAddressRepo) FindByID(ctx context.Context, id string) (*model.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.addresses[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *memAddressRepo) Create(ctx context.Context, a *model.Address) error {
	if u, _ := r.users.FindByExternalID(ctx, a.OwnerExternalID); u == nil {
		return repository.ErrOwnerNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses[a.ID] = *a
	return nil
}

func (r *memAddressRepo) UpdateForOwner(ctx context.Context, a *model.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.addresses[a.ID]
	if !ok || existing.OwnerExternalID != a.OwnerExternalID {
		return false, nil
	}
	a.CreatedAt = existing.CreatedAt
	r.addresses[a.ID] = *a
	return true, nil
}

func (r *memAddressRepo) DeleteForOwner(ctx context.Context, id, owner string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.addresses[id]
	if !ok || existing.OwnerExternalID != owner {
		return false, nil
	}
	delete(r.addresses, id)
	return true, nil
}

// --- OAuthプロバイダーのスタブ ---

type stubOAuthProvider struct {
	users map[string]*auth.OAuthUserInfo // 認可コード → ユーザー情報
}

func (p *stubOAuthProvider) GetLoginURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (p *stubOAuthProvider) ExchangeCode(ctx context.Context, code string) (*auth.OAuthUserInfo, error) {
	info, ok := p.users[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown code", auth.ErrTokenExchangeFailed)
	}
	return info, nil
}

// --- テスト用アプリケーション ---

type integrationApp struct {
	router   http.Handler
	codec    *auth.TokenCodec
	users    *memUserRepo
	registry *prometheus.Registry
}

func newIntegrationApp(t *testing.T) *integrationApp {
	t.Helper()

	codec, err := auth.NewTokenCodec([]byte("integration-secret-0123456789abcdef"))
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	users := newMemUserRepo()
	addresses := newMemAddressRepo(users)
	provider := &stubOAuthProvider{users: map[string]*auth.OAuthUserInfo{
		"code-alice": {ProviderUserID: "google-alice", Email: "alice@example.com", Name: "Alice", Picture: "https://lh3.googleusercontent.com/alice", Provider: "google"},
		"code-bob":   {ProviderUserID: "google-bob", Email: "bob@example.com", Name: "Bob", Provider: "google"},
	}}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	authService := auth.NewService(provider, users, codec, auth.ServiceConfig{SessionTTL: time.Hour})
	profileService := profile.NewService(users, security.NewTextSanitizer(), storage.NopAvatarStore{}, authService, collector)
	addressService := address.NewService(addresses)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		HealthChecker:     fakeHealthChecker{},
		Metrics:           collector,
		MetricsGatherer:   registry,
		SessionCookie:     auth.NewSessionCookie(auth.CookieConfig{MaxAge: time.Hour}),
		TokenVerifier:     codec,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       authService,
		AuthConfig:        AuthHandlerConfig{BaseURL: "http://localhost:8080"},
		ProfileService:    profileService,
		AddressService:    addressService,
	})

	return &integrationApp{router: router, codec: codec, users: users, registry: registry}
}

func (a *integrationApp) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w.Result()
}

// login はOAuthフローを通してセッションCookieを取得する。
func (a *integrationApp) login(t *testing.T, code string) *http.Cookie {
	t.Helper()

	resp := a.do(t, http.MethodGet, "/auth/login-redirect", "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login-redirect status = %d", resp.StatusCode)
	}
	stateCookie := findCookie(resp, oauthStateCookie)
	if stateCookie == nil {
		t.Fatal("expected oauth_state cookie")
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	state := loc.Query().Get("state")

	resp = a.do(t, http.MethodGet, "/auth/callback?code="+code+"&state="+url.QueryEscape(state), "", stateCookie)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/home" {
		t.Fatalf("callback status = %d, Location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	session := findCookie(resp, auth.SessionCookieName)
	if session == nil || session.Value == "" {
		t.Fatal("expected session cookie after callback")
	}
	if !session.HttpOnly || session.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie attributes: HttpOnly=%v SameSite=%v", session.HttpOnly, session.SameSite)
	}
	return session
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
}

// --- シナリオ ---

func TestIntegration_LoginProfileEditAndLogout(t *testing.T) {
	app := newIntegrationApp(t)
	session := app.login(t, "code-alice")

	// ホーム画面は認証済みで表示される
	resp := app.do(t, http.MethodGet, "/home", "", session)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/home status = %d", resp.StatusCode)
	}

	// ログイン済みで/loginは/homeへ
	resp = app.do(t, http.MethodGet, "/login", "", session)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/home" {
		t.Errorf("/login status = %d, Location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	// プロフィール取得
	var prof map[string]interface{}
	decodeBody(t, app.do(t, http.MethodGet, "/profile", "", session), &prof)
	if prof["googleId"] != "google-alice" || prof["name"] != "Alice" {
		t.Errorf("profile = %v", prof)
	}

	// プロフィール編集: HTMLは除去され、セッションが再発行される
	resp = app.do(t, http.MethodPatch, "/profile", `{"name":"<i>Alice B</i>","bio":"<script>x</script>hi"}`, session)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH /profile status = %d", resp.StatusCode)
	}
	reissued := findCookie(resp, auth.SessionCookieName)
	if reissued == nil || reissued.Value == "" {
		t.Fatal("expected reissued session cookie")
	}
	var patched struct {
		Success bool `json:"success"`
		User    struct {
			Name string `json:"name"`
			Bio  string `json:"bio"`
		} `json:"user"`
	}
	decodeBody(t, resp, &patched)
	if !patched.Success || patched.User.Name != "Alice B" {
		t.Errorf("patched = %+v", patched)
	}
	if strings.Contains(patched.User.Bio, "<") {
		t.Errorf("bio should be sanitized, got %q", patched.User.Bio)
	}
	claims, err := app.codec.Verify(reissued.Value)
	if err != nil {
		t.Fatalf("reissued token invalid: %v", err)
	}
	if claims.DisplayName != "Alice B" {
		t.Errorf("reissued DisplayName = %q, want Alice B", claims.DisplayName)
	}

	// 自己紹介が500文字を超えると400
	resp = app.do(t, http.MethodPatch, "/profile", `{"bio":"`+strings.Repeat("あ", 501)+`"}`, reissued)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("long bio status = %d, want 400", resp.StatusCode)
	}

	// ログアウト: Cookieが削除される
	resp = app.do(t, http.MethodPost, "/auth/logout", "", reissued)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	cleared := findCookie(resp, auth.SessionCookieName)
	if cleared == nil || cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", cleared)
	}

	// ログアウト後（Cookieなし）のAPIは401
	resp = app.do(t, http.MethodGet, "/profile", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("after logout status = %d, want 401", resp.StatusCode)
	}
	resp = app.do(t, http.MethodGet, "/home", "")
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/login" {
		t.Errorf("/home after logout: status = %d, Location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestIntegration_RepeatedLoginKeepsSingleUser(t *testing.T) {
	app := newIntegrationApp(t)
	app.login(t, "code-alice")
	app.login(t, "code-alice")

	if n := len(app.users.users); n != 1 {
		t.Errorf("users = %d, want 1", n)
	}
}

func TestIntegration_AddressCRUDAndOwnership(t *testing.T) {
	app := newIntegrationApp(t)
	alice := app.login(t, "code-alice")
	bob := app.login(t, "code-bob")

	type listBody struct {
		Addresses []struct {
			ID         string `json:"id"`
			City       string `json:"city"`
			PostalCode string `json:"postalCode"`
		} `json:"addresses"`
	}

	// 作成
	var created listBody
	resp := app.do(t, http.MethodPost, "/addresses",
		`{"label":"Home","city":" Chiyoda ","state":"Tokyo","postalCode":"100-0001","country":"Japan"}`, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /addresses status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &created)
	if len(created.Addresses) != 1 || created.Addresses[0].City != "Chiyoda" {
		t.Fatalf("created = %+v", created)
	}
	addressID := created.Addresses[0].ID

	// 不正なラベルは400
	resp = app.do(t, http.MethodPost, "/addresses",
		`{"label":"Office","city":"a","state":"b","postalCode":"c","country":"d"}`, alice)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid label status = %d, want 400", resp.StatusCode)
	}

	// 他ユーザーの住所の更新・削除は403
	resp = app.do(t, http.MethodPut, "/addresses",
		`{"addressId":"`+addressID+`","label":"Work","city":"x","state":"y","postalCode":"z","country":"w"}`, bob)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-user PUT status = %d, want 403", resp.StatusCode)
	}
	resp = app.do(t, http.MethodDelete, "/addresses?addressId="+addressID, "", bob)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-user DELETE status = %d, want 403", resp.StatusCode)
	}

	// 他ユーザーの一覧には現れない
	var bobList listBody
	decodeBody(t, app.do(t, http.MethodGet, "/addresses", "", bob), &bobList)
	if len(bobList.Addresses) != 0 {
		t.Errorf("bob addresses = %+v, want empty", bobList.Addresses)
	}

	// 存在しない住所は404
	resp = app.do(t, http.MethodDelete, "/addresses?addressId=missing", "", alice)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing DELETE status = %d, want 404", resp.StatusCode)
	}

	// 所有者による更新（pincodeも受け付ける）
	var updated listBody
	resp = app.do(t, http.MethodPut, "/addresses",
		`{"addressId":"`+addressID+`","label":"Work","city":"Minato","state":"Tokyo","pincode":"105-0011","country":"Japan"}`, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &updated)
	if len(updated.Addresses) != 1 || updated.Addresses[0].City != "Minato" || updated.Addresses[0].PostalCode != "105-0011" {
		t.Errorf("updated = %+v", updated)
	}

	// 所有者による削除
	var deleted listBody
	decodeBody(t, app.do(t, http.MethodDelete, "/addresses?addressId="+addressID, "", alice), &deleted)
	if len(deleted.Addresses) != 0 {
		t.Errorf("after delete = %+v, want empty", deleted.Addresses)
	}
}

func TestIntegration_ProtectedEndpoints_RequireAuth(t *testing.T) {
	app := newIntegrationApp(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/profile"},
		{http.MethodPatch, "/profile"},
		{http.MethodGet, "/addresses"},
		{http.MethodPost, "/addresses"},
		{http.MethodPut, "/addresses"},
		{http.MethodDelete, "/addresses?addressId=x"},
	}

	for _, ep := range endpoints {
		resp := app.do(t, ep.method, ep.path, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", ep.method, ep.path, resp.StatusCode)
		}
	}

	// 改ざんされたトークンも401
	resp := app.do(t, http.MethodGet, "/profile", "", &http.Cookie{Name: auth.SessionCookieName, Value: "eyJhbGciOiJub25lIn0.e30."})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", resp.StatusCode)
	}
}

func TestIntegration_CallbackFailureRedirectsWithTag(t *testing.T) {
	app := newIntegrationApp(t)

	resp := app.do(t, http.MethodGet, "/auth/callback?code=unknown&state=s", "", &http.Cookie{Name: oauthStateCookie, Value: "s"})
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login?error=token_exchange_failed" {
		t.Errorf("Location = %q", loc)
	}
	if c := findCookie(resp, auth.SessionCookieName); c != nil {
		t.Error("no session cookie should be set on failure")
	}
}

func TestIntegration_HealthAndMetrics(t *testing.T) {
	app := newIntegrationApp(t)
	app.login(t, "code-alice")

	resp := app.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", resp.StatusCode)
	}

	resp = app.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`profilehub_login_total{outcome="success"} 1`, "profilehub_http_status_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics should contain %q", want)
		}
	}
}

func TestIntegration_RootRedirects(t *testing.T) {
	app := newIntegrationApp(t)

	resp := app.do(t, http.MethodGet, "/", "")
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/login" {
		t.Errorf("anonymous /: status = %d, Location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	session := app.login(t, "code-bob")
	resp = app.do(t, http.MethodGet, "/", "", session)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/home" {
		t.Errorf("authenticated /: status = %d, Location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestIntegration_CrossOriginMutationRejected(t *testing.T) {
	app := newIntegrationApp(t)
	session := app.login(t, "code-alice")

	send := func(origin string) *http.Response {
		req := httptest.NewRequest(http.MethodPatch, "/profile", strings.NewReader(`{"bio":"hello"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", origin)
		req.AddCookie(session)
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, req)
		return w.Result()
	}

	if resp := send("https://evil.example.com"); resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-origin PATCH status = %d, want 403", resp.StatusCode)
	}
	if resp := send("http://localhost:3000"); resp.StatusCode != http.StatusOK {
		t.Errorf("trusted-origin PATCH status = %d, want 200", resp.StatusCode)
	}
}
