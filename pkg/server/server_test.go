package server

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oarkflow/json"

	"github.com/oarkflow/svcl"
	"github.com/oarkflow/svcl/pkg/builtins"
	"github.com/oarkflow/svcl/pkg/loader"
)

const serviceSource = `server 8080

func greet(name): "Hello " + name

endpoint GET "/hello/:name": greet(name)
endpoint GET "/echo/:name": name + ":" + tag
endpoint GET "/shout/:word": upper(word)
endpoint POST "/items": json {"ok": true}
endpoint POST "/echo": body
endpoint GET "/broken": 1 / 0
endpoint GET "/admin/me": auth_sub
endpoint GET "/admin/public/me": "anon:" + auth_sub
`

func bundleOf(t *testing.T, src string) *loader.Bundle {
	t.Helper()
	prog, err := svcl.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return &loader.Bundle{Program: prog, Source: src}
}

func newServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	base := []Option{
		WithCapabilities(builtins.New(nil)),
		WithAccessLog(false),
	}
	s, err := New(bundleOf(t, serviceSource), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestDispatchEndpoints(t *testing.T) {
	s := newServer(t)
	cases := []struct {
		method, target, body string
		status               int
		contentType          string
		expected             string
	}{
		{http.MethodGet, "/hello/Bob", "", 200, fiber.MIMETextPlainCharsetUTF8, "Hello Bob"},
		{http.MethodGet, "/hello/Jane%20Doe", "", 200, fiber.MIMETextPlainCharsetUTF8, "Hello Jane Doe"},
		{http.MethodGet, "/echo/path?name=query&tag=t1", "", 200, fiber.MIMETextPlainCharsetUTF8, "path:t1"},
		{http.MethodGet, "/shout/hey", "", 200, fiber.MIMETextPlainCharsetUTF8, "HEY"},
		{http.MethodPost, "/echo", "raw payload", 200, fiber.MIMETextPlainCharsetUTF8, "raw payload"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
		resp, body := do(t, s, req)
		if resp.StatusCode != tc.status || body != tc.expected {
			t.Fatalf("%s %s: got %d %q", tc.method, tc.target, resp.StatusCode, body)
		}
		if ct := resp.Header.Get(fiber.HeaderContentType); ct != tc.contentType {
			t.Fatalf("%s %s: unexpected content type %q", tc.method, tc.target, ct)
		}
		if resp.Header.Get(fiber.HeaderXRequestID) == "" {
			t.Fatalf("%s %s: missing request id", tc.method, tc.target)
		}
	}
}

func TestDispatchJSONBody(t *testing.T) {
	s := newServer(t)
	resp, body := do(t, s, httptest.NewRequest(http.MethodPost, "/items", nil))
	if resp.StatusCode != 200 || resp.Header.Get(fiber.HeaderContentType) != fiber.MIMEApplicationJSON {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Header.Get(fiber.HeaderContentType))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil || payload["ok"] != true {
		t.Fatalf("unexpected json body %q: %v", body, err)
	}
}

func TestStoredRequestValuesSurviveLaterRequests(t *testing.T) {
	src := `endpoint GET "/remember/:name": config_set("last", name) + cache_set("tag", tag)
endpoint GET "/noise/:word": word + tag
endpoint GET "/last": config_get("last", "none") + "/" + cache_get("tag", "none")
`
	s, err := New(bundleOf(t, src), WithCapabilities(builtins.New(nil)), WithAccessLog(false))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if !s.app.Config().Immutable {
		t.Fatal("expected immutable request strings")
	}
	do(t, s, httptest.NewRequest(http.MethodGet, "/remember/alice?tag=blue", nil))
	for i := 0; i < 5; i++ {
		do(t, s, httptest.NewRequest(http.MethodGet, "/noise/xxxxxxxxxxxxxxxxxxxxxxxx?tag=zzzzzzzz", nil))
	}
	if _, body := do(t, s, httptest.NewRequest(http.MethodGet, "/last", nil)); body != "alice/blue" {
		t.Fatalf("stored values changed: %q", body)
	}
}

func TestDispatchErrors(t *testing.T) {
	s := newServer(t)
	cases := []struct {
		method, target string
		status         int
		fragment       string
	}{
		{http.MethodGet, "/missing", 404, "no endpoint"},
		{http.MethodGet, "/hello", 404, "no endpoint"},
		{http.MethodPost, "/hello/Bob", 405, "method not allowed"},
		{http.MethodGet, "/broken", 500, "Division by zero"},
	}
	for _, tc := range cases {
		resp, body := do(t, s, httptest.NewRequest(tc.method, tc.target, nil))
		if resp.StatusCode != tc.status {
			t.Fatalf("%s %s: expected %d, got %d (%s)", tc.method, tc.target, tc.status, resp.StatusCode, body)
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			t.Fatalf("%s %s: error body is not json: %q", tc.method, tc.target, body)
		}
		if !strings.Contains(strings.ToLower(payload["error"]), strings.ToLower(tc.fragment)) {
			t.Fatalf("%s %s: unexpected error %q", tc.method, tc.target, payload["error"])
		}
	}
}

func TestIntrospectionRoutes(t *testing.T) {
	s := newServer(t, WithVersion("1.2.3"), WithAnnotations(svcl.Annotations{
		"greet": {Params: []string{"number"}, Result: "number"},
	}))

	_, body := do(t, s, httptest.NewRequest(http.MethodGet, "/__svcl/schema", nil))
	var schema svcl.Schema
	if err := json.Unmarshal([]byte(body), &schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(schema.Endpoints) != 8 || schema.Server == nil || schema.Server.Port != 8080 {
		t.Fatalf("unexpected schema %s", body)
	}

	_, body = do(t, s, httptest.NewRequest(http.MethodGet, "/__svcl/diagnostics", nil))
	var diags struct {
		Diagnostics []svcl.Diagnostic `json:"diagnostics"`
		Errors      int               `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &diags); err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if diags.Errors == 0 || len(diags.Diagnostics) == 0 {
		t.Fatalf("expected a type error for greet, got %s", body)
	}

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/__svcl/source", nil))
	if body != serviceSource || resp.Header.Get(fiber.HeaderContentType) != fiber.MIMETextPlainCharsetUTF8 {
		t.Fatalf("unexpected source response %q", body)
	}

	_, body = do(t, s, httptest.NewRequest(http.MethodGet, "/__svcl/health", nil))
	var health map[string]any
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatalf("health: %v", err)
	}
	if health["status"] != "healthy" || health["version"] != "1.2.3" || health["endpoints"] != float64(8) {
		t.Fatalf("unexpected health %s", body)
	}
}

func signToken(t *testing.T, secret []byte, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestAuth(t *testing.T) {
	secret := []byte("s3cret")
	s := newServer(t, WithAuth(Auth{
		Secret:         secret,
		ProtectedPaths: []string{"/admin"},
		AllowMissingOn: []string{"/admin/public"},
	}))
	authed := func(target, token string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if token != "" {
			req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		}
		return req
	}

	resp, body := do(t, s, authed("/admin/me", ""))
	if resp.StatusCode != fiber.StatusUnauthorized || !strings.Contains(body, ErrMissingToken.Error()) {
		t.Fatalf("expected 401 for missing token, got %d %s", resp.StatusCode, body)
	}
	resp, _ = do(t, s, authed("/admin/me", signToken(t, []byte("other"), "eve")))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.StatusCode)
	}
	resp, body = do(t, s, authed("/admin/me", signToken(t, secret, "alice")))
	if resp.StatusCode != 200 || body != "alice" {
		t.Fatalf("expected alice, got %d %q", resp.StatusCode, body)
	}
	resp, body = do(t, s, authed("/admin/public/me", ""))
	if resp.StatusCode != 200 || body != "anon:" {
		t.Fatalf("expected anonymous access, got %d %q", resp.StatusCode, body)
	}
	resp, body = do(t, s, authed("/hello/Bob", ""))
	if resp.StatusCode != 200 || body != "Hello Bob" {
		t.Fatalf("unprotected route should pass, got %d %q", resp.StatusCode, body)
	}
}

func TestAuthVerifyClaims(t *testing.T) {
	a := &Auth{Secret: []byte("k")}
	sub, claims, err := a.verify(signToken(t, a.Secret, "bob"))
	if err != nil || sub != "bob" || claims["role"] != "admin" {
		t.Fatalf("unexpected verify result %q %v %v", sub, claims, err)
	}
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none to be rejected, got %v", err)
	}
}

func TestReload(t *testing.T) {
	next := "endpoint GET \"/v\": \"two\"\n"
	var loadErr, hookErr error
	var hooked *svcl.Program
	s, err := New(bundleOf(t, "endpoint GET \"/v\": \"one\"\n"),
		WithAccessLog(false),
		WithReload("@every 1h", func() (*loader.Bundle, error) {
			if loadErr != nil {
				return nil, loadErr
			}
			return bundleOf(t, next), nil
		}),
		WithReloadHook(func(p *svcl.Program) error {
			hooked = p
			return hookErr
		}),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	get := func() string {
		_, body := do(t, s, httptest.NewRequest(http.MethodGet, "/v", nil))
		return body
	}
	if got := get(); got != "one" {
		t.Fatalf("expected one, got %q", got)
	}

	loadErr = errors.New("disk gone")
	if err := s.Reload(); err == nil || get() != "one" {
		t.Fatal("failed load must keep the current program")
	}
	loadErr = nil

	hookErr = errors.New("migration failed")
	if err := s.Reload(); err == nil || get() != "one" {
		t.Fatal("failed hook must keep the current program")
	}
	hookErr = nil

	if err := s.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := get(); got != "two" || hooked == nil || s.Program() != hooked {
		t.Fatalf("expected reloaded program, got %q", got)
	}

	next = "endpoint GET \"/w\": \"three\"\n"
	if err := s.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	resp, _ := do(t, s, httptest.NewRequest(http.MethodGet, "/v", nil))
	if resp.StatusCode != 404 {
		t.Fatalf("removed endpoint should 404, got %d", resp.StatusCode)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, svcl.ErrNilProgram) {
		t.Fatalf("expected ErrNilProgram, got %v", err)
	}
	if _, err := New(bundleOf(t, ""), WithReload("not a schedule", func() (*loader.Bundle, error) { return nil, nil })); err == nil {
		t.Fatal("expected invalid cron spec error")
	}
}
