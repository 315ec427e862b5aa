package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/pkg/fetch"
)

// AnalysisError 分析错误，包含写入任务的提示和原始错误
type AnalysisError struct {
	UserMessage string
	RawError    error
}

func (e *AnalysisError) Error() string {
	if e.RawError == nil {
		return e.UserMessage
	}
	return e.UserMessage + ": " + e.RawError.Error()
}

func (e *AnalysisError) Unwrap() error {
	return e.RawError
}

// classifyError 将失败原因归类为简短固定的描述
func classifyError(step string, err error) *AnalysisError {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae
	}

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &AnalysisError{UserMessage: "analysis timed out while " + step, RawError: err}
	case errors.As(err, &dnsErr):
		return &AnalysisError{UserMessage: "domain does not resolve", RawError: err}
	case errors.Is(err, fetch.ErrAccessRestricted):
		return &AnalysisError{UserMessage: "site refused automated access", RawError: err}
	case errors.Is(err, discovery.ErrNoPagesDiscovered):
		return &AnalysisError{UserMessage: "no pages could be discovered", RawError: err}
	default:
		return &AnalysisError{UserMessage: "analysis failed while " + step, RawError: err}
	}
}

// ValidateDomain 校验任务域名是否可访问
func ValidateDomain(domain string) error {
	d := strings.TrimSpace(domain)
	if d == "" {
		return &AnalysisError{UserMessage: "domain is empty"}
	}
	if strings.ContainsAny(d, " \t\n/") && !strings.Contains(d, "://") {
		return &AnalysisError{UserMessage: "domain is malformed", RawError: fmt.Errorf("invalid domain %q", d)}
	}
	return nil
}
