package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/simonrho/mist-adopt/internal/config"
	"github.com/simonrho/mist-adopt/pkg/logger"
)

// StoredObject 已写入对象的信息
type StoredObject struct {
	URI      string `json:"uri"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// ReportWriter 运行报告写入器
type ReportWriter interface {
	Write(ctx context.Context, runID string, payload []byte) (StoredObject, error)
}

// NewReportWriter 根据配置创建写入器（委派到本地或 MinIO）
func NewReportWriter(cfg *config.Config) ReportWriter {
	dw := &DelegatingReportWriter{cfg: cfg, local: &LocalReportWriter{cfg: cfg}}
	if strings.EqualFold(strings.TrimSpace(cfg.Report.Backend), "minio") {
		dw.minio = initMinioWriter(cfg)
	}
	return dw
}

// DelegatingReportWriter 按后端路由写入
type DelegatingReportWriter struct {
	cfg   *config.Config
	local *LocalReportWriter
	minio *MinioReportWriter
}

func (w *DelegatingReportWriter) Write(ctx context.Context, runID string, payload []byte) (StoredObject, error) {
	backend := strings.ToLower(strings.TrimSpace(w.cfg.Report.Backend))
	if backend == "minio" {
		if w.minio == nil {
			// MinIO 未初始化：记录预警并回退到本地
			logger.Warn("MinIO backend selected but client not initialized; falling back to local")
			return w.local.Write(ctx, runID, payload)
		}
		obj, err := w.minio.Write(ctx, runID, payload)
		if err != nil {
			// 失败则记录预警并回退到本地
			logger.Warn("MinIO write failed; falling back to local", "error", err)
			return w.local.Write(ctx, runID, payload)
		}
		return obj, nil
	}
	// 默认走本地
	return w.local.Write(ctx, runID, payload)
}

// LocalReportWriter 本地文件写入
type LocalReportWriter struct {
	cfg *config.Config
}

func (w *LocalReportWriter) Write(ctx context.Context, runID string, payload []byte) (StoredObject, error) {
	baseDir := strings.TrimSpace(w.cfg.Report.Local.BaseDir)
	if baseDir == "" {
		baseDir = "./data/reports"
	}

	// 层级：baseDir / report.prefix / 日期
	parts := []string{baseDir}
	if p := strings.TrimSpace(w.cfg.Report.Prefix); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, time.Now().Format("20060102"))
	dirPath := filepath.Join(parts...)

	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
	}

	fullPath := filepath.Join(dirPath, reportFilename(runID))
	if err := os.WriteFile(fullPath, payload, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write file: %w", err)
	}

	sum := sha256.Sum256(payload)
	return StoredObject{
		URI:      "file://" + fullPath,
		Size:     int64(len(payload)),
		Checksum: "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}

// MinioReportWriter MinIO 对象存储写入
type MinioReportWriter struct {
	cfg           *config.Config
	client        *minio.Client
	endpoint      string
	bucketEnsured bool
}

// initMinioWriter 尝试初始化 MinIO 写入器（包含合理的超时设置与连通性校验）
func initMinioWriter(cfg *config.Config) *MinioReportWriter {
	host := strings.TrimSpace(cfg.Report.Minio.Host)
	port := cfg.Report.Minio.Port
	if host == "" || port <= 0 {
		logger.Warn("MinIO configuration incomplete; host/port missing")
		return nil
	}
	endpoint := fmt.Sprintf("%s:%d", host, port)

	// 自定义传输以提升连接与响应的鲁棒性
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.Report.Minio.AccessKey, cfg.Report.Minio.SecretKey, ""),
		Secure:    cfg.Report.Minio.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.Error("MinIO client initialization failed", "error", err)
		return nil
	}

	w := &MinioReportWriter{cfg: cfg, client: client, endpoint: endpoint}

	// 进行一次轻量 bucket 校验（不影响整体初始化）
	bucket := strings.TrimSpace(cfg.Report.Minio.Bucket)
	if bucket == "" {
		logger.Warn("MinIO bucket not configured")
		return w
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.ensureBucket(ctx, bucket, 2); err != nil {
		logger.Warn("MinIO bucket ensure at init failed", "error", err)
	} else {
		w.bucketEnsured = true
	}
	return w
}

// Write 将报告写入 MinIO
func (w *MinioReportWriter) Write(ctx context.Context, runID string, payload []byte) (StoredObject, error) {
	if w == nil || w.client == nil {
		return StoredObject{}, fmt.Errorf("minio client not initialized")
	}
	bucket := strings.TrimSpace(w.cfg.Report.Minio.Bucket)
	if bucket == "" {
		return StoredObject{}, fmt.Errorf("minio bucket not configured")
	}

	// 对象路径与本地层级保持一致
	parts := []string{}
	if p := strings.TrimSpace(w.cfg.Report.Prefix); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, time.Now().Format("20060102"))
	objectName := path.Join(strings.Join(parts, "/"), reportFilename(runID))

	// 写入前快速连通性探测（失败则尽早返回明确错误）
	if err := w.fastConnectivityCheck(ctx); err != nil {
		return StoredObject{}, fmt.Errorf("minio connectivity failed to %s: %w", w.endpoint, err)
	}

	// 需要时确保 bucket（有限重试）
	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, bucket, 3); err != nil {
			return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}

	// 带重试的对象写入（指数退避）
	var lastErr error
	attempts := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := 0; i < len(attempts); i++ {
		r := bytes.NewReader(payload)
		attemptCtx, cancel := w.attemptContext(ctx, attempts[i])
		_, err := w.client.PutObject(attemptCtx, bucket, objectName, r, int64(len(payload)), minio.PutObjectOptions{ContentType: "application/json"})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		time.Sleep(attempts[i])
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	sum := sha256.Sum256(payload)
	return StoredObject{
		URI:      "minio://" + path.Join(bucket, objectName),
		Size:     int64(len(payload)),
		Checksum: "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}

// fastConnectivityCheck 使用 TCP 直连做快速连通性校验
func (w *MinioReportWriter) fastConnectivityCheck(parent context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(parent, "tcp", w.endpoint)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

// ensureBucket 校验并创建 bucket，支持有限重试
func (w *MinioReportWriter) ensureBucket(parent context.Context, bucket string, retries int) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := w.attemptContext(parent, 10*time.Second)
		exists, err := w.client.BucketExists(ctx, bucket)
		cancel()
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		if exists {
			return nil
		}
		ctx2, cancel2 := w.attemptContext(parent, 10*time.Second)
		if mkErr := w.client.MakeBucket(ctx2, bucket, minio.MakeBucketOptions{}); mkErr != nil {
			lastErr = mkErr
			cancel2()
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		cancel2()
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("bucket ensure failed for %s", bucket)
}

// attemptContext 构造限时上下文，尊重父上下文的剩余截止时间
func (w *MinioReportWriter) attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		remain := time.Until(deadline)
		if remain > time.Second && prefer < remain {
			return context.WithTimeout(parent, prefer)
		}
		if remain > time.Second {
			return context.WithTimeout(parent, remain-time.Second)
		}
		return context.WithTimeout(parent, time.Second)
	}
	return context.WithTimeout(parent, prefer)
}

func reportFilename(runID string) string {
	return "run-" + runID + ".json"
}
