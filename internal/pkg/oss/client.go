package oss

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"

	"github.com/qs3c/site_structure_server/config"
)

const (
	uploadAttempts = 3
	uploadBackoff  = 2 * time.Second
)

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

// Enabled OSS 配置是否完整，可以创建客户端
func Enabled(cfg *config.OSSConfig) bool {
	return cfg != nil && cfg.Endpoint != "" && cfg.AccessKeyID != "" && cfg.BucketName != ""
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// StructureObjectKey 公司结构快照的对象键
func StructureObjectKey(companyID int64) string {
	return fmt.Sprintf("structures/%d/%s.json", companyID, uuid.NewString())
}

// UploadStructure 上传 JSON 结构快照并返回 URL
func (c *Client) UploadStructure(companyID int64, data []byte) (string, error) {
	objectKey := StructureObjectKey(companyID)

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType("application/json"))
	if err != nil {
		return "", fmt.Errorf("failed to upload structure snapshot: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// UploadStructureWithRetry 带重试的上传，线性退避
func (c *Client) UploadStructureWithRetry(companyID int64, data []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		url, err := c.UploadStructure(companyID, data)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if attempt < uploadAttempts {
			time.Sleep(time.Duration(attempt) * uploadBackoff)
		}
	}
	return "", lastErr
}

func (c *Client) UploadFile(objectKey string, data []byte, contentType string) (string, error) {
	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType(contentType))
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return c.GetURL(objectKey), nil
}

func (c *Client) Delete(objectKey string) error {
	err := c.bucket.DeleteObject(objectKey)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL 获取文件访问 URL，配置了 CDN 时优先使用 CDN 域名
func (c *Client) GetURL(objectKey string) string {
	return objectURL(c.cdnDomain, c.bucketName, c.client.Config.Endpoint, objectKey)
}

// GetSignedURL 获取临时下载 URL，默认有效期一小时
func (c *Client) GetSignedURL(objectKey string, expireSeconds ...int64) (string, error) {
	expire := int64(3600)
	if len(expireSeconds) > 0 && expireSeconds[0] > 0 {
		expire = expireSeconds[0]
	}

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, expire)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return signedURL, nil
}

// ExtractObjectKey 从 GetURL 返回的 URL 中提取对象键
func (c *Client) ExtractObjectKey(url string) string {
	return extractObjectKey(c.cdnDomain, url)
}

func objectURL(cdnDomain, bucketName, endpoint, objectKey string) string {
	if cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cdnDomain, objectKey)
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", bucketName, endpoint, objectKey)
}

func extractObjectKey(cdnDomain, url string) string {
	if cdnDomain != "" {
		prefix := fmt.Sprintf("https://%s/", cdnDomain)
		if strings.HasPrefix(url, prefix) {
			return url[len(prefix):]
		}
	}

	// https://bucket.endpoint/path/to/object
	parts := strings.Split(url, "/")
	if len(parts) >= 4 {
		return strings.Join(parts[3:], "/")
	}

	return path.Base(url)
}
