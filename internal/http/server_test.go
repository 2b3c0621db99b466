package http

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"medauth/internal/domain"
	"medauth/internal/metrics"
	"medauth/internal/service"
)

const testPassword = "Secr3tPass"

type testServer struct {
	router  *gin.Engine
	users   *mockUserRepo
	codes   *mockTwoFactorRepo
	sender  *captureSender
	tokens  *service.JWTService
	hasher  *service.PasswordHasher
	clock   *fakeClock
	guard   *Guard
	metrics *metrics.Metrics
}

type serverOptions struct {
	rateLimitMax   int
	throttle       *Throttle
	trustedProxies []string
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := service.NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	if opts.rateLimitMax == 0 {
		opts.rateLimitMax = 100
	}
	if opts.throttle == nil {
		opts.throttle = NewThrottle(6000, 1000)
	}

	s := &testServer{
		users:   newMockUserRepo(),
		codes:   newMockTwoFactorRepo(),
		sender:  &captureSender{},
		hasher:  hasher,
		clock:   &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	s.tokens = service.NewJWTService(service.JWTOptions{
		Secret:   "test-secret",
		Issuer:   "medauth-test",
		Audience: "medauth-web",
	})
	logger := zap.NewNop()
	authServ := service.NewAuthService(service.AuthDeps{
		Logger:  logger,
		Users:   s.users,
		Codes:   s.codes,
		Hasher:  hasher,
		Tokens:  s.tokens,
		Sender:  s.sender,
		Metrics: s.metrics,
	})
	accounts := service.NewAccountService(logger, s.users, hasher, s.tokens)
	limiter := service.NewRateLimiter(service.NewMemoryRateLimitStoreWithClock(s.clock.Now), opts.rateLimitMax, 15*time.Minute)
	s.guard = NewGuard(logger, s.tokens, s.users, limiter, s.metrics, time.Second)

	s.router = NewRouter(
		logger,
		s.metrics,
		s.guard,
		opts.throttle,
		NewAuthHandler(logger, authServ, accounts),
		NewUserHandler(logger, accounts),
		nil,
		opts.trustedProxies,
	)
	return s
}

func (s *testServer) addUser(t *testing.T, id string, role domain.Role, status domain.Status) domain.User {
	t.Helper()
	hash, err := s.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := domain.User{
		ID:           id,
		Email:        id + "@example.com",
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		Status:       status,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users.put(u)
	return u
}

func (s *testServer) accessToken(t *testing.T, u domain.User) string {
	t.Helper()
	tok, err := s.tokens.IssueAccessToken(u)
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	return tok
}

type testEnvelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env testEnvelope
	if rec.Header().Get("Content-Type") != "" && bytes.HasPrefix(rec.Body.Bytes(), []byte("{")) {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, env testEnvelope, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s", code, env.Error.Code)
	}
	if env.Error.Message == "" {
		t.Fatalf("expected a human readable message")
	}
}

func stringField(t *testing.T, m map[string]any, path ...string) string {
	t.Helper()
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("path %v: %v is not an object", path, cur)
		}
		cur = obj[key]
	}
	s, _ := cur.(string)
	return s
}
