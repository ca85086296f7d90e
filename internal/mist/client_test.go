package mist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string, maxAttempts int) *Client {
	return NewClient(Config{
		BaseURL:        baseURL,
		APIKey:         "test-token",
		MaxAttempts:    maxAttempts,
		RequestTimeout: 5 * time.Second,
	})
}

// TestFetchAdoptionConfigSuccess 正常拉取并携带 Token 鉴权头
func TestFetchAdoptionConfigSuccess(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cmd": "set system services ssh\ndelete system phone-home"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	cmd, err := client.FetchAdoptionConfig(context.Background(), "org-1", "site-1")
	require.NoError(t, err)

	assert.Equal(t, "Token test-token", gotAuth, "应使用 Token 方式鉴权")
	assert.Equal(t, "/orgs/org-1/ocdevices/outbound_ssh_cmd", gotPath)
	assert.Equal(t, "site_id=site-1", gotQuery)
	assert.Contains(t, cmd, "delete system phone-home")
}

// TestFetchAdoptionConfigNoSite 未指定 site 时不携带查询参数
func TestFetchAdoptionConfigNoSite(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"cmd": "set system services ssh"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1)
	_, err := client.FetchAdoptionConfig(context.Background(), "org-1", "")
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

// TestFetchAdoptionConfigRetryOn500 5xx 触发重试直至成功
func TestFetchAdoptionConfigRetryOn500(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"cmd": "set system services ssh"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	cmd, err := client.FetchAdoptionConfig(context.Background(), "org-1", "site-1")
	require.NoError(t, err)
	assert.Equal(t, "set system services ssh", cmd)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "前两次 5xx 后第三次成功")
}

// TestFetchAdoptionConfigRetryExhausted 重试预算耗尽后返回错误
func TestFetchAdoptionConfigRetryExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	_, err := client.FetchAdoptionConfig(context.Background(), "org-1", "site-1")
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "总尝试次数应等于 max_attempts")
}

// TestFetchAdoptionConfigUnauthorized 401 不重试并返回鉴权错误
func TestFetchAdoptionConfigUnauthorized(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.FetchAdoptionConfig(context.Background(), "org-1", "site-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "鉴权失败不应重试")
}

// TestFetchAdoptionConfigNotFound 404 返回资源不存在错误
func TestFetchAdoptionConfigNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.FetchAdoptionConfig(context.Background(), "org-missing", "site-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestFetchAdoptionConfigEmptyCmd 空配置视为不可重试错误
func TestFetchAdoptionConfigEmptyCmd(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"cmd": ""}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.FetchAdoptionConfig(context.Background(), "org-1", "site-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
