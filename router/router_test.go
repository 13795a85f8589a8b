package workflow_routers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/logging"
)

func init() { gin.SetMode(gin.TestMode) }

func testDeps() Deps {
	return Deps{
		Logger: logging.NewNop(),
		LoadAgentConfig: func(ctx context.Context, agentID string) (config.AgentConfig, error) {
			return config.AgentConfig{}, nil
		},
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	engine := NewEngine(testDeps())

	req := httptest.NewRequest(http.MethodGet, "/healthz/", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestOutboundCallRejectsMissingDispatcher(t *testing.T) {
	engine := NewEngine(testDeps())

	body := `{"agentId":"a1","toPhone":"+14155550101","fromDid":"+14155550100","provider":"twilio","webhookUrl":"https://example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/talk/outbound-call", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOutboundCallRejectsMalformedBody(t *testing.T) {
	engine := NewEngine(testDeps())

	req := httptest.NewRequest(http.MethodPost, "/v1/talk/outbound-call", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJWTAuthSkippedWithoutSecret(t *testing.T) {
	handler := jwtAuth(nil)
	ctx, engine := ginTestContext()
	_ = engine
	handler(ctx)
	assert.False(t, ctx.IsAborted())
}

func TestJWTAuthRejectsMissingBearer(t *testing.T) {
	secret := []byte("test-secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = req

	jwtAuth(secret)(ctx)
	assert.True(t, ctx.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuthAcceptsValidBearer(t *testing.T) {
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "agent-1"})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = req

	jwtAuth(secret)(ctx)
	assert.False(t, ctx.IsAborted())
}

func ginTestContext() (*gin.Context, *gin.Engine) {
	rec := httptest.NewRecorder()
	ctx, engine := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return ctx, engine
}
