package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/temoto/robotstxt"
)

// RobotsSitemaps 返回 robots.txt 中声明的 Sitemap 地址。
// robots.txt 不存在或无法解析时返回空，不报错
func (c *Client) RobotsSitemaps(ctx context.Context, baseURL string) ([]string, error) {
	robotsURL := strings.TrimRight(baseURL, "/") + "/robots.txt"

	resp, err := c.Get(ctx, robotsURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	if !resp.OK() {
		return nil, nil
	}

	data, err := robotstxt.FromBytes(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data.Sitemaps, nil
}
