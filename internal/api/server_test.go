package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postcraft/configs"
	"github.com/maheshrc27/postcraft/internal/api/handlers"
	"github.com/maheshrc27/postcraft/internal/cache"
	job "github.com/maheshrc27/postcraft/internal/jobs"
	"github.com/maheshrc27/postcraft/internal/metrics"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/platform/platformtest"
	"github.com/maheshrc27/postcraft/internal/queue"
	"github.com/maheshrc27/postcraft/internal/repository/memory"
	"github.com/maheshrc27/postcraft/internal/service"
	"github.com/maheshrc27/postcraft/internal/transfer"
	"github.com/maheshrc27/postcraft/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "0123456789abcdef0123456789abcdef"

type idleDriver struct{}

func (idleDriver) Schedule(ctx context.Context, jobID string, runAt time.Time) error { return nil }
func (idleDriver) Start(exec queue.Executor) error                                  { return nil }
func (idleDriver) Stop()                                                            {}

type memoryMedia struct{}

func (memoryMedia) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "https://media.test/" + key, nil
}

// consentFake is a destination with a PKCE consent flow that records the
// verifiers it is handed.
type consentFake struct {
	*platformtest.Fake

	mu        sync.Mutex
	issued    []string
	exchanged []string
}

func (f *consentFake) AuthURLWithVerifier(state, verifier string) string {
	f.mu.Lock()
	f.issued = append(f.issued, verifier)
	f.mu.Unlock()
	return "https://consent.test/authorize?state=" + url.QueryEscape(state)
}

func (f *consentFake) ConnectWithVerifier(ctx context.Context, code, verifier string) (*platform.Credentials, error) {
	f.mu.Lock()
	f.exchanged = append(f.exchanged, verifier)
	f.mu.Unlock()
	if verifier == "" {
		return nil, platform.Authentication(f.Platform, "missing verifier", nil)
	}
	return f.Fake.Connect(ctx, code)
}

type testServer struct {
	app     *fiber.App
	store   *memory.Store
	queue   *queue.JobQueue
	consent *consentFake
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()
	cfg := config.Config{SecretKey: secret, CookieName: "session", FrontendURL: "http://app.test", APIRateLimit: 1000}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := memory.New()
	repos := service.Repositories{
		Posts:     store.Posts(),
		Accounts:  store.Accounts(),
		Assets:    store.Assets(),
		PostMedia: store.PostMedia(),
		Selected:  store.SelectedAccounts(),
		Records:   store.Records(),
		Jobs:      store.Jobs(),
		Metrics:   store.Metrics(),
		Tx:        store,
	}
	c := cache.NewMemory(0, logger, m)
	t.Cleanup(func() { c.Close() })

	consent := &consentFake{Fake: platformtest.New("youtube")}
	registry := platform.NewRegistry(platformtest.New("instagram"), platformtest.New("x"), consent)
	vault := service.NewCredentialVault(store.Accounts(), secret)
	q := queue.NewJobQueue(store.Jobs(), idleDriver{}, queue.Options{}, logger, m)

	publisher := service.NewPublishService(repos, registry, vault, service.PublishOptions{}, logger, m)
	metricsService := service.NewMetricsService(repos, registry, vault, c, time.Minute, logger, m)
	accounts := service.NewAccountService(store.Accounts(), registry, vault, logger)
	posts := service.NewPostService(repos, registry, memoryMedia{}, q, logger)

	q.Register(queue.TypePublishPost, job.PublishPostHandler(publisher, logger))
	q.Register(queue.TypeSyncMetrics, job.SyncMetricsHandler(metricsService))

	app := NewApp(cfg, Handlers{
		Platform:  handlers.NewPlatformHandler(accounts, metricsService, q, registry.Names(), cfg, logger),
		Post:      handlers.NewPostHandler(posts, metricsService, logger),
		Job:       handlers.NewJobHandler(q, logger),
		Analytics: handlers.NewAnalyticsHandler(metricsService, logger),
	}, reg, logger)

	token, err := utils.GenerateToken(secret, "7", time.Hour)
	require.NoError(t, err)

	return &testServer{app: app, store: store, queue: q, consent: consent, token: token}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	if strings.HasPrefix(req.URL.Path, "/api") {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (s *testServer) connect(t *testing.T, platformName string) int64 {
	t.Helper()
	status, _ := s.do(t, httptest.NewRequest("GET", "/auth/"+platformName+"/callback?code=abc&state="+s.token, nil))
	require.Equal(t, fiber.StatusTemporaryRedirect, status)

	accounts, err := s.store.Accounts().ListByUserID(context.Background(), 7)
	require.NoError(t, err)
	for _, acc := range accounts {
		if acc.Platform == platformName {
			return acc.ID
		}
	}
	t.Fatalf("account for %s not stored", platformName)
	return 0
}

func createPostRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/posts/create", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	status, _ = s.do(t, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, fiber.StatusOK, status)
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/posts", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestCallbackRejectsBadState(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, httptest.NewRequest("GET", "/auth/instagram/callback?code=abc&state=forged", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAuthRedirectErrors(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, httptest.NewRequest("GET", "/auth/myspace?state="+s.token, nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = s.do(t, httptest.NewRequest("GET", "/auth/instagram?state="+s.token, nil))
	assert.Equal(t, fiber.StatusBadRequest, status, "fake adapter has no consent page")

	status, _ = s.do(t, httptest.NewRequest("GET", "/auth/youtube?state=forged", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestConsentFlowCarriesPerFlowVerifier(t *testing.T) {
	s := newTestServer(t)

	begin := func() string {
		resp, err := s.app.Test(httptest.NewRequest("GET", "/auth/youtube?state="+s.token, nil), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusFound, resp.StatusCode)
		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		state := loc.Query().Get("state")
		require.NotEmpty(t, state)
		assert.NotEqual(t, s.token, state, "the session token never reaches the destination")
		return state
	}

	first, second := begin(), begin()
	require.Len(t, s.consent.issued, 2)
	assert.NotEqual(t, s.consent.issued[0], s.consent.issued[1])

	status, _ := s.do(t, httptest.NewRequest("GET", "/auth/youtube/callback?code=abc&state="+url.QueryEscape(second), nil))
	require.Equal(t, fiber.StatusTemporaryRedirect, status)
	assert.Equal(t, []string{s.consent.issued[1]}, s.consent.exchanged)

	accounts, err := s.store.Accounts().ListByUserID(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "youtube", accounts[0].Platform)

	assert.NotContains(t, first, s.consent.issued[0], "verifier is sealed inside the state")

	status, _ = s.do(t, httptest.NewRequest("GET", "/auth/youtube/callback?code=abc&state="+s.token, nil))
	assert.Equal(t, fiber.StatusBadRequest, status, "a state without a verifier cannot finish a PKCE flow")
}

func TestAccountsLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.connect(t, "instagram")

	status, body := s.do(t, httptest.NewRequest("GET", "/api/accounts", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.NotContains(t, string(body), "access-abc")
	var accounts []models.SocialAccount
	require.NoError(t, json.Unmarshal(body, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "instagram-account", accounts[0].AccountID)

	status, body = s.do(t, httptest.NewRequest("POST", "/api/accounts/sync?id="+strconv.FormatInt(id, 10), nil))
	require.Equal(t, fiber.StatusAccepted, status)
	var accepted transfer.JobAccepted
	require.NoError(t, json.Unmarshal(body, &accepted))
	require.NoError(t, s.queue.Process(context.Background(), accepted.JobID))

	status, body = s.do(t, httptest.NewRequest("GET", "/api/accounts/metrics?days=7&id="+strconv.FormatInt(id, 10), nil))
	require.Equal(t, fiber.StatusOK, status)
	var history []models.AccountMetrics
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
	assert.Equal(t, int64(100), history[0].Followers)

	status, _ = s.do(t, httptest.NewRequest("POST", "/api/accounts/sync?id=999", nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = s.do(t, httptest.NewRequest("POST", "/api/accounts/remove?id="+strconv.FormatInt(id, 10), nil))
	assert.Equal(t, fiber.StatusOK, status)

	status, body = s.do(t, httptest.NewRequest("GET", "/api/accounts", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))
}

func TestPostPublishFlow(t *testing.T) {
	s := newTestServer(t)
	ig := s.connect(t, "instagram")
	x := s.connect(t, "x")

	req := createPostRequest(t, map[string]string{
		"caption":           "Hello",
		"hashtags":          "go, fiber",
		"scheduling_time":   time.Now().Add(time.Hour).Format(time.RFC3339),
		"selected_accounts": "[" + strconv.FormatInt(ig, 10) + "," + strconv.FormatInt(x, 10) + "]",
		"media_urls":        `["https://cdn.example.com/a.jpg"]`,
	})
	status, body := s.do(t, req)
	require.Equal(t, fiber.StatusCreated, status, string(body))
	var post models.Post
	require.NoError(t, json.Unmarshal(body, &post))
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	postID := strconv.FormatInt(post.ID, 10)

	status, body = s.do(t, httptest.NewRequest("POST", "/api/posts/publish?id="+postID, nil))
	require.Equal(t, fiber.StatusAccepted, status)
	var accepted transfer.JobAccepted
	require.NoError(t, json.Unmarshal(body, &accepted))
	require.NoError(t, s.queue.Process(context.Background(), accepted.JobID))

	status, body = s.do(t, httptest.NewRequest("GET", "/api/jobs/"+accepted.JobID, nil))
	require.Equal(t, fiber.StatusOK, status)
	var view struct {
		Status   string `json:"status"`
		Attempts []any  `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, models.JobStatusCompleted, view.Status)
	assert.Empty(t, view.Attempts)

	status, body = s.do(t, httptest.NewRequest("GET", "/api/posts?id="+postID, nil))
	require.Equal(t, fiber.StatusOK, status)
	var info struct {
		Status  string                  `json:"status"`
		Media   []*models.MediaAsset    `json:"media"`
		Records []*models.PublishRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, models.PostStatusPublished, info.Status)
	assert.Len(t, info.Media, 1)
	assert.Len(t, info.Records, 2)

	status, body = s.do(t, httptest.NewRequest("GET", "/api/posts/metrics?id="+postID, nil))
	require.Equal(t, fiber.StatusOK, status)
	var perDestination []transfer.DestinationMetrics
	require.NoError(t, json.Unmarshal(body, &perDestination))
	assert.Len(t, perDestination, 2)

	status, body = s.do(t, httptest.NewRequest("GET", "/api/analytics/overview", nil))
	require.Equal(t, fiber.StatusOK, status)
	var overview transfer.AnalyticsOverview
	require.NoError(t, json.Unmarshal(body, &overview))
	assert.Equal(t, 2, overview.ConnectedAccounts)
	assert.Equal(t, int64(1), overview.PostsByStatus[models.PostStatusPublished])
}

func TestPostErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)
	ig := s.connect(t, "instagram")

	status, _ := s.do(t, createPostRequest(t, map[string]string{
		"caption":           "Hello",
		"scheduling_time":   "next tuesday",
		"selected_accounts": "[" + strconv.FormatInt(ig, 10) + "]",
	}))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = s.do(t, httptest.NewRequest("GET", "/api/posts?id=999", nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = s.do(t, httptest.NewRequest("POST", "/api/posts/remove?id=abc", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = s.do(t, httptest.NewRequest("POST", "/api/posts/schedule?id=1&at=soon", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = s.do(t, httptest.NewRequest("GET", "/api/jobs/missing", nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body := s.do(t, httptest.NewRequest("GET", "/api/posts", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))
}
