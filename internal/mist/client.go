package mist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/simonrho/mist-adopt/pkg/logger"
)

// 不可重试的失败分类：鉴权失败与资源不存在直接终止
var (
	ErrUnauthorized = errors.New("mist api: unauthorized")
	ErrNotFound     = errors.New("mist api: org or site not found")
)

// Config 客户端配置
type Config struct {
	BaseURL string
	APIKey  string
	// MaxAttempts 瞬时失败（网络错误/5xx/429）的总尝试次数，最小为 1
	MaxAttempts    int
	RequestTimeout time.Duration
}

// Client Mist 云端 API 客户端
type Client struct {
	baseURL     string
	apiKey      string
	maxAttempts int
	httpClient  *http.Client
}

// adoptionResponse outbound_ssh_cmd 接口的响应体
type adoptionResponse struct {
	Cmd string `json:"cmd"`
}

// NewClient 创建 API 客户端
func NewClient(cfg Config) *Client {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// 自定义传输以提升连接与响应的鲁棒性
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   20,
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		maxAttempts: maxAttempts,
		httpClient:  &http.Client{Transport: transport, Timeout: timeout},
	}
}

// FetchAdoptionConfig 拉取 (org, site) 对应的纳管配置文本。
// 网络错误、5xx 与 429 按指数退避重试至尝试预算耗尽；401/403/404 立即失败。
func (c *Client) FetchAdoptionConfig(ctx context.Context, orgID, siteID string) (string, error) {
	endpoint := fmt.Sprintf("%s/orgs/%s/ocdevices/outbound_ssh_cmd", c.baseURL, url.PathEscape(orgID))
	if strings.TrimSpace(siteID) != "" {
		endpoint += "?site_id=" + url.QueryEscape(siteID)
	}

	var cmd string
	attempt := 0
	operation := func() error {
		attempt++
		out, err := c.fetchOnce(ctx, endpoint)
		if err != nil {
			if attempt < c.maxAttempts {
				logger.Warn("Mist API attempt failed", "org_id", orgID, "site_id", siteID, "attempt", attempt, "error", err)
			}
			return err
		}
		cmd = out
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxAttempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return cmd, nil
}

// fetchOnce 发起一次请求；返回 backoff.Permanent 包装的错误表示不可重试
func (c *Client) fetchOnce(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 网络层错误视为瞬时失败
		return "", fmt.Errorf("mist api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read mist api response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var payload adoptionResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", backoff.Permanent(fmt.Errorf("failed to decode mist api response: %w", err))
		}
		if strings.TrimSpace(payload.Cmd) == "" {
			return "", backoff.Permanent(fmt.Errorf("mist api returned empty adoption command"))
		}
		return payload.Cmd, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, snippet(body)))
	case resp.StatusCode == http.StatusNotFound:
		return "", backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrNotFound, resp.StatusCode, snippet(body)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("mist api transient failure: status %d: %s", resp.StatusCode, snippet(body))
	default:
		return "", backoff.Permanent(fmt.Errorf("mist api unexpected status %d: %s", resp.StatusCode, snippet(body)))
	}
}

// snippet 截断响应体用于错误信息
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
