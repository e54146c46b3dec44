package httpapi

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/attach-dev/attach-gateway/internal/cache"
	"github.com/attach-dev/attach-gateway/internal/config"
	"github.com/attach-dev/attach-gateway/internal/mem"
	"github.com/attach-dev/attach-gateway/internal/oidc"
	"github.com/attach-dev/attach-gateway/internal/proxy"
	"github.com/attach-dev/attach-gateway/internal/queue"
	"github.com/attach-dev/attach-gateway/internal/quota"
	"github.com/attach-dev/attach-gateway/internal/session"
	"github.com/attach-dev/attach-gateway/internal/tasks"
	"github.com/attach-dev/attach-gateway/internal/usage"
)

const testIssuer = "https://issuer.test"

// gateway is a fully wired server over httptest engine and JWKS servers.
type gateway struct {
	srv    *httptest.Server
	engine *httptest.Server
	jwks   *httptest.Server
	key    *rsa.PrivateKey
}

func newGateway(t *testing.T) *gateway {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	pub, err := jwk.FromRaw(key.Public())
	if err != nil {
		t.Fatalf("build jwk: %v", err)
	}
	pub.Set(jwk.KeyIDKey, "test-key")
	pub.Set(jwk.AlgorithmKey, "RS256")
	set := jwk.NewSet()
	set.AddKey(pub)
	doc, _ := json.Marshal(set)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	}))

	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply":"from engine","path":"` + r.URL.Path + `"}`))
	}))

	cfg := &config.Config{
		OIDCIssuer:   testIssuer,
		OIDCAud:      "gateway",
		Auth0Domain:  "issuer.test",
		Auth0Client:  "client-1",
		CORSOrigins:  []string{"http://localhost:9000"},
		EngineURL:    engine.URL,
		QuotaWindow:  time.Minute,
		CacheBackend: config.BackendMemory,
	}

	verifier := &oidc.Verifier{
		Issuer:   testIssuer,
		Audience: "gateway",
		Leeway:   time.Minute,
		Keys:     oidc.NewKeySetCache(jwks.URL, 10*time.Minute),
	}

	quotaMW := &quota.Middleware{
		Store:     quota.NewMemoryMeterStore(time.Minute),
		Counter:   quota.ByteCounter{},
		Sink:      usage.Null{},
		MaxTokens: 100000,
		Window:    time.Minute,
		MaxBody:   1 << 20,
	}

	dispatcher := proxy.NewHandler(engine.URL, 5*time.Second, cache.NewMemory(), queue.NewMemory(4), false, mem.None{})

	s := &Server{
		Cfg:   cfg,
		Auth:  &oidc.Authenticator{Primary: verifier},
		Quota: quotaMW,
		Tasks: tasks.NewRegistry(engine.URL),
		Proxy: dispatcher,
		Mem:   mem.None{},
	}

	return &gateway{
		srv:    httptest.NewServer(s.Routes()),
		engine: engine,
		jwks:   jwks,
		key:    key,
	}
}

func (g *gateway) close() {
	g.srv.Close()
	g.engine.Close()
	g.jwks.Close()
}

func (g *gateway) token(t *testing.T, sub string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": "gateway",
		"sub": sub,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(g.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestRoutes_AuthConfigIsPublic(t *testing.T) {
	g := newGateway(t)
	defer g.close()

	resp, err := http.Get(g.srv.URL + "/auth/config")
	if err != nil {
		t.Fatalf("GET /auth/config: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 without a token, got %d", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["domain"] != "issuer.test" || body["client_id"] != "client-1" || body["audience"] != "gateway" {
		t.Errorf("unexpected bootstrap %+v", body)
	}
}

func TestRoutes_ChatRequiresToken(t *testing.T) {
	g := newGateway(t)
	defer g.close()

	resp, err := http.Post(g.srv.URL+"/api/chat", "application/json", strings.NewReader(`{"model":"m"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRoutes_ChatEndToEnd(t *testing.T) {
	g := newGateway(t)
	defer g.close()

	req, _ := http.NewRequest(http.MethodPost, g.srv.URL+"/api/chat",
		strings.NewReader(`{"model":"m","messages":[{"role":"user","content":"hi"}],"stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token(t, "user-1"))
	req.Header.Set("User-Agent", "gateway-test/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	sid := resp.Header.Get(session.Header)
	if len(sid) != 16 {
		t.Errorf("session header %q, want 16 hex chars", sid)
	}
	if want := session.ID("user-1", "gateway-test/1.0")[:16]; sid != want {
		t.Errorf("session header %q, want %q", sid, want)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["reply"] != "from engine" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestRoutes_UnknownPathPassesThrough(t *testing.T) {
	g := newGateway(t)
	defer g.close()

	req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/api/tags", nil)
	req.Header.Set("Authorization", "Bearer "+g.token(t, "user-1"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["path"] != "/api/tags" {
		t.Errorf("engine saw path %q, want /api/tags", body["path"])
	}
}

func TestRoutes_MetricsSnapshotZerosWithoutRedis(t *testing.T) {
	g := newGateway(t)
	defer g.close()

	req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+g.token(t, "user-1"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap struct {
		CacheHits     int64 `json:"cache_hits"`
		JobsProcessed int64 `json:"jobs_processed"`
	}
	json.NewDecoder(resp.Body).Decode(&snap)
	if snap.CacheHits != 0 || snap.JobsProcessed != 0 {
		t.Errorf("expected zero counters, got %+v", snap)
	}
}

func TestRoutes_MemEventsNotReady(t *testing.T) {
	g := newGateway(t)
	defer g.close()

	req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/mem/events", nil)
	req.Header.Set("Authorization", "Bearer "+g.token(t, "user-1"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no memory backend, got %d", resp.StatusCode)
	}
}

func TestRoutes_CORSPreflight(t *testing.T) {
	g := newGateway(t)
	defer g.close()

	req, _ := http.NewRequest(http.MethodOptions, g.srv.URL+"/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:9000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:9000" {
		t.Errorf("Allow-Origin %q, want the configured origin", got)
	}
}

func TestParseLimit(t *testing.T) {
	if got := parseLimit("", 100, 1000); got != 100 {
		t.Errorf("default: got %d", got)
	}
	if got := parseLimit("50", 100, 1000); got != 50 {
		t.Errorf("explicit: got %d", got)
	}
	if got := parseLimit("5000", 100, 1000); got != 1000 {
		t.Errorf("clamp: got %d", got)
	}
	if got := parseLimit("-3", 100, 1000); got != 100 {
		t.Errorf("negative: got %d", got)
	}
	if got := parseLimit("abc", 100, 1000); got != 100 {
		t.Errorf("garbage: got %d", got)
	}
}
