package httpapi_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/turnstile/internal/admission/service"
	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
	"github.com/BrandonDHaskell/turnstile/internal/admission/store/memory"
	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
	"github.com/BrandonDHaskell/turnstile/internal/broadcast"
	"github.com/BrandonDHaskell/turnstile/internal/httpapi"
	"github.com/BrandonDHaskell/turnstile/internal/metrics"
)

const (
	deviceSecret  = "reader-secret"
	sessionSecret = "test-session-secret"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	ts       *httptest.Server
	auth     *httpapi.Authenticator
	accounts *memory.AccountStore
	log      *memory.AccessLogStore
	clock    *clock
}

type envOption func(*envConfig)

type envConfig struct {
	log store.AccessLogStore
}

func withLogStore(l store.AccessLogStore) envOption {
	return func(c *envConfig) { c.log = l }
}

func cardPtr(s string) *string { return &s }

// newTestServer wires the full dependency graph on in-memory stores and
// returns an httptest.Server plus handles for inspection.
func newTestServer(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		accounts: memory.NewAccountStore(
			store.Account{ID: "acct-alice", Name: "Alice", Email: "alice@example.test", CardID: cardPtr("CARD-001"), PointBalance: 5},
			store.Account{ID: "acct-bob", Name: "Bob", CardID: cardPtr("CARD-000"), PointBalance: 0},
		),
		log:   memory.NewAccessLogStore(),
		clock: &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		auth:  httpapi.NewAuthenticator([]string{deviceSecret}, sessionSecret),
	}
	cfg := envConfig{log: env.log}
	for _, o := range opts {
		o(&cfg)
	}

	m := metrics.New()
	hub := broadcast.NewHub(broadcast.WithMetrics(m))
	dispatcher := broadcast.NewDispatcher(hub, broadcast.DispatcherConfig{Metrics: m})
	readers := service.NewReaderRegistry(memory.NewReaderStore())
	engine := service.NewEngine(env.accounts, cfg.log, dispatcher,
		service.WithClock(env.clock.Now),
		service.WithMetrics(m),
		service.WithReaderRegistry(readers),
	)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Addr:        ":0",
		Metrics:     m,
		Engine:      engine,
		Readers:     readers,
		Hub:         hub,
		Auth:        env.auth,
		StreamRoles: []string{"admin", "staff"},
		Keepalive:   time.Hour,
	})

	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	t.Cleanup(dispatcher.Close)
	t.Cleanup(hub.Close)
	return env
}

func (e *testEnv) staffToken(t *testing.T, role string) string {
	t.Helper()
	tok, err := e.auth.IssueSession("user-1", "Sam Staff", role, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return tok
}

func (e *testEnv) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeAccess(t *testing.T, resp *http.Response) types.AccessResponse {
	t.Helper()
	var out types.AccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode access response: %v", err)
	}
	return out
}

// ── Auth ─────────────────────────────────────────────────────────────────────

func TestAccess_NoCredentials_401(t *testing.T) {
	env := newTestServer(t)

	resp := env.post(t, "/v1/access", "", map[string]string{"cardId": "CARD-001"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if n := len(env.log.Attempts()); n != 0 {
		t.Errorf("rejected request reached the engine (%d attempts)", n)
	}
}

func TestAccess_WrongSecret_401(t *testing.T) {
	env := newTestServer(t)

	resp := env.post(t, "/v1/access", "not-the-secret", map[string]string{"cardId": "CARD-001"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAccess_ExpiredSession_401(t *testing.T) {
	env := newTestServer(t)
	tok, _ := env.auth.IssueSession("user-1", "Sam", "staff", -time.Minute)

	resp := env.post(t, "/v1/access", tok, map[string]string{"cardId": "CARD-001"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAccess_StaffSessionAccepted(t *testing.T) {
	env := newTestServer(t)

	resp := env.post(t, "/v1/access", env.staffToken(t, "staff"), map[string]string{"cardId": "CARD-001"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAccess_CrossSiteSessionCookie_401(t *testing.T) {
	env := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/access", strings.NewReader(`{"cardId":"CARD-001"}`))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.AddCookie(&http.Cookie{Name: httpapi.SessionCookie, Value: env.staffToken(t, "admin")})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if n := len(env.log.Attempts()); n != 0 {
		t.Errorf("cookie-only request reached the engine (%d attempts)", n)
	}
	acct, _ := env.accounts.Get(context.Background(), "acct-alice")
	if acct.PointBalance != 5 {
		t.Errorf("balance = %d, want 5", acct.PointBalance)
	}
}

func TestAccess_PlainTextBody_415(t *testing.T) {
	env := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/access", strings.NewReader(`{"cardId":"CARD-001"}`))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+deviceSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}
	if n := len(env.log.Attempts()); n != 0 {
		t.Errorf("rejected body reached the engine (%d attempts)", n)
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestAccess_MissingCardID_400(t *testing.T) {
	env := newTestServer(t)

	resp := env.post(t, "/v1/access", deviceSecret, map[string]string{"deviceId": "entrance"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if n := len(env.log.Attempts()); n != 0 {
		t.Errorf("validation failure must not log, got %d attempts", n)
	}
}

func TestAccess_BlankCardID_400(t *testing.T) {
	env := newTestServer(t)

	resp := env.post(t, "/v1/access", deviceSecret, map[string]string{"cardId": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAccess_MalformedJSON_400(t *testing.T) {
	env := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/access", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+deviceSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ── Decision scenarios ───────────────────────────────────────────────────────

func TestAccess_UnknownCard(t *testing.T) {
	env := newTestServer(t)

	resp := env.post(t, "/v1/access", deviceSecret, map[string]string{"cardId": "CARD-999"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeAccess(t, resp)
	if out.Status != types.OutcomeDenied || out.Message == nil || *out.Message != types.ReasonUnregisteredCard {
		t.Errorf("unexpected response %+v", out)
	}
	if out.PointsDeducted != 0 {
		t.Errorf("pointsDeducted = %d", out.PointsDeducted)
	}

	attempts := env.log.Attempts()
	if len(attempts) != 1 || attempts[0].AccountID != store.UnknownAccountID {
		t.Errorf("expected one attempt for unknown account, got %+v", attempts)
	}
}

func TestAccess_GracePeriodScenario(t *testing.T) {
	env := newTestServer(t)
	card := map[string]string{"cardId": "CARD-001", "deviceId": "entrance"}

	steps := []struct {
		advance   time.Duration
		deducted  int
		tolerance bool
		remaining int
	}{
		{0, 1, false, 4},
		{5 * time.Minute, 0, true, 4},
		{30 * time.Minute, 1, false, 3},
	}

	for i, step := range steps {
		env.clock.Advance(step.advance)
		out := decodeAccess(t, env.post(t, "/v1/access", deviceSecret, card))

		if out.Status != types.OutcomeAllowed {
			t.Fatalf("step %d: status %s", i, out.Status)
		}
		if out.Message != nil {
			t.Errorf("step %d: expected null message, got %q", i, *out.Message)
		}
		if out.PointsDeducted != step.deducted || out.IsToleranceEntry != step.tolerance || out.PointsRemaining != step.remaining {
			t.Errorf("step %d: got deducted=%d tolerance=%v remaining=%d",
				i, out.PointsDeducted, out.IsToleranceEntry, out.PointsRemaining)
		}
		if _, err := time.Parse(time.RFC3339, out.Timestamp); err != nil {
			t.Errorf("step %d: bad timestamp %q", i, out.Timestamp)
		}
	}
}

func TestAccess_ZeroBalanceWarning(t *testing.T) {
	env := newTestServer(t)

	out := decodeAccess(t, env.post(t, "/v1/access", deviceSecret, map[string]string{"cardId": "CARD-000"}))
	if out.Status != types.OutcomeWarning || out.PointsDeducted != 0 || out.PointsRemaining != 0 {
		t.Errorf("unexpected response %+v", out)
	}
}

type failingLog struct{}

func (failingLog) Append(context.Context, store.AccessAttempt) (store.AccessAttempt, error) {
	return store.AccessAttempt{}, errors.New("disk full")
}

func TestAccess_LogFailure_500WithDecision(t *testing.T) {
	env := newTestServer(t, withLogStore(failingLog{}))

	resp := env.post(t, "/v1/access", deviceSecret, map[string]string{"cardId": "CARD-001"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	out := decodeAccess(t, resp)
	if out.Status != types.OutcomeAllowed || out.PointsRemaining != 4 {
		t.Errorf("decision missing from 500 body: %+v", out)
	}
}

// ── Protobuf ─────────────────────────────────────────────────────────────────

func TestAccess_Protobuf(t *testing.T) {
	env := newTestServer(t)

	msg, err := structpb.NewStruct(map[string]any{"card_id": "CARD-001", "device_id": "north-gate"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	body, _ := proto.Marshal(msg)

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/access", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Authorization", "Bearer "+deviceSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("Content-Type = %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fields := out.AsMap()
	if fields["status"] != "allowed" {
		t.Errorf("status = %v", fields["status"])
	}
	if fields["points_remaining"] != float64(4) {
		t.Errorf("points_remaining = %v", fields["points_remaining"])
	}
	if fields["message"] != nil {
		t.Errorf("message = %v, want null", fields["message"])
	}

	if got := env.log.Attempts()[0].DeviceID; got != "north-gate" {
		t.Errorf("device_id = %q", got)
	}
}

// ── Readers ──────────────────────────────────────────────────────────────────

func TestReaders_HeartbeatAndList(t *testing.T) {
	env := newTestServer(t)

	resp := env.post(t, "/v1/readers/heartbeat", deviceSecret, map[string]any{
		"deviceId":        "entrance",
		"firmwareVersion": "1.4.2",
		"uptimeS":         120,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat: expected 200, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/readers", nil)
	req.Header.Set("Authorization", "Bearer "+env.staffToken(t, "staff"))
	list, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get readers: %v", err)
	}
	defer list.Body.Close()
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", list.StatusCode)
	}

	var body struct {
		Readers []types.Reader `json:"readers"`
	}
	if err := json.NewDecoder(list.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Readers) != 1 || body.Readers[0].FirmwareVersion != "1.4.2" {
		t.Errorf("unexpected readers %+v", body.Readers)
	}
}

func TestReaders_HeartbeatRejectsStaff(t *testing.T) {
	env := newTestServer(t)

	resp := env.post(t, "/v1/readers/heartbeat", env.staffToken(t, "admin"), map[string]string{"deviceId": "x"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

// ── Event stream ─────────────────────────────────────────────────────────────

type sseFrame struct {
	event string
	data  string
}

func readFrame(t *testing.T, br *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" || f.data != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, env *testEnv, token string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/v1/events", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: httpapi.SessionCookie, Value: token})
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func TestEvents_Unauthenticated_401(t *testing.T) {
	env := newTestServer(t)

	resp, _ := openStream(t, env, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		t.Error("rejected request must not open a stream")
	}
}

func TestEvents_WrongRole_403(t *testing.T) {
	env := newTestServer(t)

	resp, _ := openStream(t, env, env.staffToken(t, "viewer"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestEvents_DeviceSecret_403(t *testing.T) {
	env := newTestServer(t)

	resp, _ := openStream(t, env, deviceSecret)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestEvents_TwoDashboardsReceiveSameEvent(t *testing.T) {
	env := newTestServer(t)
	tok := env.staffToken(t, "staff")

	respA, brA := openStream(t, env, tok)
	respB, brB := openStream(t, env, tok)
	for _, r := range []*http.Response{respA, respB} {
		if r.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", r.StatusCode)
		}
		if ct := r.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Fatalf("Content-Type = %q", ct)
		}
	}

	if f := readFrame(t, brA); f.event != "connected" {
		t.Fatalf("A: first frame %q, want connected", f.event)
	}
	if f := readFrame(t, brB); f.event != "connected" {
		t.Fatalf("B: first frame %q, want connected", f.event)
	}

	if resp := env.post(t, "/v1/access", deviceSecret, map[string]string{"cardId": "CARD-001"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("access: %d", resp.StatusCode)
	}

	fa := readFrame(t, brA)
	fb := readFrame(t, brB)
	if fa.event != "access" || fb.event != "access" {
		t.Fatalf("events = %q, %q", fa.event, fb.event)
	}
	if fa.data != fb.data {
		t.Errorf("dashboards saw different payloads:\n%s\n%s", fa.data, fb.data)
	}

	var ev types.BroadcastEvent
	if err := json.Unmarshal([]byte(fa.data), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Status != types.OutcomeAllowed || ev.Account == nil || ev.Account.PointsRemaining != 4 {
		t.Errorf("unexpected event %+v", ev)
	}
}

// ── Ops ──────────────────────────────────────────────────────────────────────

func TestHealthAndMetrics(t *testing.T) {
	env := newTestServer(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}
