package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"licensehub/backend/internal/auth"
	"licensehub/backend/internal/config"
	"licensehub/backend/internal/health"
	"licensehub/backend/internal/monitoring"
	"licensehub/backend/internal/service"
	"licensehub/backend/internal/storage/memory"
)

// promauto 指标注册到全局 registry，整个测试二进制只能创建一次
var (
	testMetricsOnce sync.Once
	testMetrics     *monitoring.Metrics
)

func sharedMetrics() *monitoring.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = monitoring.NewMetrics()
	})
	return testMetrics
}

type testEnv struct {
	router   *gin.Engine
	store    *memory.Store
	licenses *service.LicenseService
	auth     *auth.Service
}

func newTestEnv(t *testing.T, limits config.RateLimitConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	keygen := service.NewKeyGenerator(store)
	validation := service.NewValidationService(store)
	activation := service.NewActivationService(store, validation)
	lifecycle := service.NewLifecycleService(store, keygen)
	licenses := service.NewLicenseService(store, keygen, 7)
	authService := auth.NewService(store)

	cfg := &config.Config{
		RateLimit: limits,
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		JWT: config.JWTConfig{
			Secret:        "test-secret-key-32-characters-long-minimum",
			Issuer:        "licensehub",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
		},
	}
	tokens := auth.NewTokenService(authService, &cfg.JWT)
	log := zap.NewNop()

	router := NewRouter(RouterDependencies{
		Config:            cfg,
		ValidationService: validation,
		ActivationService: activation,
		LicenseService:    licenses,
		LifecycleService:  lifecycle,
		AuthService:       authService,
		TokenService:      tokens,
		Metrics:           sharedMetrics(),
		HealthChecker:     monitoring.NewHealthChecker(store, log, "test"),
		AlertManager:      monitoring.NewAlertManager(log),
		ProbeChecker:      health.NewChecker(store, log),
		Logger:            log,
	})

	return &testEnv{
		router:   router,
		store:    store,
		licenses: licenses,
		auth:     authService,
	}
}

// 宽松的默认限额，避免功能测试被限流干扰
func defaultLimits() config.RateLimitConfig {
	return config.RateLimitConfig{HourlyMax: 1000, BurstMax: 500}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (e *testEnv) seedLicense(t *testing.T, input service.CreateLicenseInput) string {
	t.Helper()
	license, err := e.licenses.Create(input)
	require.NoError(t, err)
	return license.LicenseKey
}

func (e *testEnv) loginAdmin(t *testing.T) string {
	t.Helper()
	_, err := e.auth.CreateAdmin(auth.CreateAdminInput{
		Email:    "root@licensehub.test",
		Username: "root",
		Password: "super-secret-99",
	})
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/v1/auth/login", gin.H{
		"email":    "root@licensehub.test",
		"password": "super-secret-99",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeBody(t, w)["data"].(map[string]interface{})
	token, _ := data["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestPublicAPI_Validate(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	key := env.seedLicense(t, service.CreateLicenseInput{
		ProductName:    "Acme Suite",
		CustomerEmail:  "buyer@example.com",
		MaxActivations: 3,
	})

	t.Run("有效许可证返回公开视图", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/validate", gin.H{
			"license_key": key,
			"domain":      "example.com",
		}, "")
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, true, body["valid"])
		license := body["license"].(map[string]interface{})
		assert.Equal(t, "Acme Suite", license["product_name"])

		// public surface must never echo the key or the customer email
		assert.NotContains(t, w.Body.String(), key)
		assert.NotContains(t, w.Body.String(), "buyer@example.com")
	})

	t.Run("未知密钥仍返回 HTTP 200", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/validate", gin.H{
			"license_key": "XXXXXXXX-XXXXXXXX-XXXXXXXX-XXXXXXXX",
			"domain":      "example.com",
		}, "")
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, "license not found", body["message"])
	})

	t.Run("缺少字段返回 400", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/validate", gin.H{"license_key": key}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPublicAPI_ActivationFlow(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	key := env.seedLicense(t, service.CreateLicenseInput{
		ProductName:    "Acme Suite",
		MaxActivations: 1,
	})

	// 首次激活
	w := env.do(t, http.MethodPost, "/v1/activate", gin.H{
		"license_key": key,
		"domain":      "a.example.com",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeBody(t, w)["activation_token"].(string)
	require.NotEmpty(t, token)

	// 同域名重复激活幂等，返回原 token
	w = env.do(t, http.MethodPost, "/v1/activate", gin.H{
		"license_key": key,
		"domain":      "a.example.com",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, token, decodeBody(t, w)["activation_token"])

	// 槽位耗尽
	w = env.do(t, http.MethodPost, "/v1/activate", gin.H{
		"license_key": key,
		"domain":      "b.example.com",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "activation limit reached", decodeBody(t, w)["message"])

	// 心跳
	w = env.do(t, http.MethodPost, "/v1/heartbeat", gin.H{"activation_token": token}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// 停用释放槽位后 b 域名可激活
	w = env.do(t, http.MethodPost, "/v1/deactivate", gin.H{
		"license_key": key,
		"domain":      "a.example.com",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/v1/activate", gin.H{
		"license_key": key,
		"domain":      "b.example.com",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, token, decodeBody(t, w)["activation_token"])

	// 旧 token 的心跳失效
	w = env.do(t, http.MethodPost, "/v1/heartbeat", gin.H{"activation_token": token}, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invalid activation token", decodeBody(t, w)["message"])
}

func TestPublicAPI_Status(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	key := env.seedLicense(t, service.CreateLicenseInput{
		ProductName:    "Acme Suite",
		CustomerEmail:  "buyer@example.com",
		MaxActivations: 3,
	})

	w := env.do(t, http.MethodPost, "/v1/activate", gin.H{
		"license_key": key,
		"domain":      "a.example.com",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/status/"+key, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["active_count"])
	assert.Equal(t, float64(2), body["slots_free"])
	assert.Len(t, body["activations"], 1)

	// 状态端点不得泄露激活令牌和客户邮箱
	assert.NotContains(t, w.Body.String(), "activation_token")
	assert.NotContains(t, w.Body.String(), "buyer@example.com")

	w = env.do(t, http.MethodGet, "/v1/status/UNKNOWN-KEY", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicAPI_RateLimit(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{HourlyMax: 100, BurstMax: 2})
	key := env.seedLicense(t, service.CreateLicenseInput{ProductName: "Acme Suite"})

	payload := gin.H{"license_key": key, "domain": "example.com"}
	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, "/v1/validate", payload, "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodPost, "/v1/validate", payload, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// 登录端点不走公开限流
	loginBody := gin.H{"email": "nobody@licensehub.test", "password": "whatever-123"}
	w = env.do(t, http.MethodPost, "/v1/auth/login", loginBody, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAPI_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	w := env.do(t, http.MethodGet, "/v1/admin/licenses", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/v1/admin/licenses", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAPI_LicenseLifecycle(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.loginAdmin(t)

	// 创建许可证
	w := env.do(t, http.MethodPost, "/v1/admin/licenses", gin.H{
		"product_name":    "Acme Suite",
		"max_activations": 2,
	}, token)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)["data"].(map[string]interface{})
	key := created["license_key"].(string)
	require.NotEmpty(t, key)

	validate := func() map[string]interface{} {
		w := env.do(t, http.MethodPost, "/v1/validate", gin.H{
			"license_key": key,
			"domain":      "example.com",
		}, "")
		require.Equal(t, http.StatusOK, w.Code)
		return decodeBody(t, w)
	}

	// 暂停后验证失败，恢复后重新可用
	w = env.do(t, http.MethodPost, "/v1/admin/licenses/"+key+"/suspend", gin.H{"reason": "billing"}, token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "suspend", body["action"])

	assert.Equal(t, "license suspended", validate()["message"])

	w = env.do(t, http.MethodPost, "/v1/admin/licenses/"+key+"/unsuspend", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unsuspend", decodeBody(t, w)["action"])
	assert.Equal(t, true, validate()["valid"])

	// 非法延长天数
	w = env.do(t, http.MethodPost, "/v1/admin/licenses/"+key+"/extend", gin.H{"days": -1}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/admin/licenses/"+key+"/extend", gin.H{"days": 30}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "extend", decodeBody(t, w)["action"])

	// 换发密钥后旧密钥失效
	w = env.do(t, http.MethodPost, "/v1/admin/licenses/"+key+"/regenerate-key", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	newKey := body["new_license_key"].(string)
	require.NotEmpty(t, newKey)
	require.NotEqual(t, key, newKey)
	assert.Equal(t, "license not found", validate()["message"])

	// 删除后再次操作返回 404
	w = env.do(t, http.MethodDelete, "/v1/admin/licenses/"+newKey, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "delete", decodeBody(t, w)["action"])

	w = env.do(t, http.MethodDelete, "/v1/admin/licenses/"+newKey, nil, token)
	require.Equal(t, http.StatusNotFound, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "license not found", body["message"])
}

func TestAdminAPI_ListAndSummary(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.loginAdmin(t)

	env.seedLicense(t, service.CreateLicenseInput{ProductName: "Acme Suite"})
	env.seedLicense(t, service.CreateLicenseInput{ProductName: "Widget Pro"})

	w := env.do(t, http.MethodGet, "/v1/admin/licenses?search=widget", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])

	w = env.do(t, http.MethodGet, "/v1/admin/licenses/summary", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])
}
