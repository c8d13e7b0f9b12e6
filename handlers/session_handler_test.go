package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionResponse struct {
	Success     bool `json:"success"`
	Credentials struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ExpiresAt    time.Time `json:"expires_at"`
		UserID       string    `json:"user_id"`
	} `json:"credentials"`
	RefreshAfter time.Time `json:"refresh_after"`
	Error        string    `json:"error"`
}

func postJSON(router *gin.Engine, path string, body gin.H) *httptest.ResponseRecorder {
	jsonData, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewBuffer(jsonData))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestSessionLifecycle(t *testing.T) {
	router, _, _ := SetupTestEnvironment(t)

	// 签发
	w := postJSON(router, "/api/session", gin.H{"user_id": "user-9"})
	require.Equal(t, http.StatusOK, w.Code)

	var issued sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.True(t, issued.Success)
	assert.NotEmpty(t, issued.Credentials.AccessToken)
	assert.Equal(t, "user-9", issued.Credentials.UserID)

	// refresh_after 提前于过期时刻，客户端照此安排轮换
	assert.True(t, issued.RefreshAfter.Equal(issued.Credentials.ExpiresAt.Add(-5*time.Minute)))

	// 带token查询状态
	w = httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/session/status", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Credentials.AccessToken)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, true, status["authenticated"])
	assert.Equal(t, "user-9", status["user_id"])

	// 刷新轮换
	w = postJSON(router, "/api/session/refresh", gin.H{"refresh_token": issued.Credentials.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	var refreshed sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refreshed))
	assert.True(t, refreshed.Success)
	assert.NotEqual(t, issued.Credentials.AccessToken, refreshed.Credentials.AccessToken)
	assert.True(t, refreshed.RefreshAfter.Before(refreshed.Credentials.ExpiresAt))

	// 旧refresh token已作废
	w = postJSON(router, "/api/session/refresh", gin.H{"refresh_token": issued.Credentials.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 注销后新token也失效
	w = postJSON(router, "/api/session/signout", gin.H{"refresh_token": refreshed.Credentials.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/session/status", nil)
	req.Header.Set("Authorization", "Bearer "+refreshed.Credentials.AccessToken)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, false, status["authenticated"])
}

func TestSessionStatus_Anonymous(t *testing.T) {
	router, _, _ := SetupTestEnvironment(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/session/status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, false, status["authenticated"])
}

func TestSessionIssue_MissingUserID(t *testing.T) {
	router, _, _ := SetupTestEnvironment(t)

	w := postJSON(router, "/api/session", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
