package discovery

import (
	"math"
	"net/url"
	"regexp"
)

const (
	minSmartPriority    = 0.1
	maxSmartPriority    = 1.0
	depthPenaltyPerSeg  = 0.05
	maxDepthPenalty     = 0.20
	penaltyFreeSegments = 2
)

type priorityBoost struct {
	pattern *regexp.Regexp
	boost   float64
}

// priorityBoosts 按顺序匹配，第一个匹配的生效
var priorityBoosts = []priorityBoost{
	{regexp.MustCompile(`(?i)about|company|who-we-are|our-story`), 0.25},
	{regexp.MustCompile(`(?i)products?|services?|solutions?`), 0.20},
	{regexp.MustCompile(`(?i)contact`), 0.15},
	{regexp.MustCompile(`(?i)careers?|jobs`), 0.10},
	{regexp.MustCompile(`(?i)news|blog`), 0.05},
}

// SmartPriority 根据 URL 调整区域优先级：业务页面加分，路径过深减分，结果在 [0.1, 1.0]
func SmartPriority(rawURL string, base float64) float64 {
	p := base
	target := rawURL
	var segments int
	if u, err := url.Parse(rawURL); err == nil {
		target = u.Path
		segments = len(PathSegments(u.Path))
	}

	for _, b := range priorityBoosts {
		if b.pattern.MatchString(target) {
			p += b.boost
			break
		}
	}

	if extra := segments - penaltyFreeSegments; extra > 0 {
		p -= math.Min(float64(extra)*depthPenaltyPerSeg, maxDepthPenalty)
	}

	return math.Max(minSmartPriority, math.Min(maxSmartPriority, p))
}
