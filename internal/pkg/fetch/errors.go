package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAccessRestricted 无法判断页面是否存在的响应，如需要登录、反爬拦截、限流
	ErrAccessRestricted = errors.New("access restricted")
	ErrNotFound         = errors.New("not found")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrBodyTooLarge     = errors.New("response body too large")
)

// Error 请求失败，网络错误时 StatusCode 为 0
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRestrictedStatus 是否为限制访问的状态码（不代表页面不存在）
func IsRestrictedStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusTooManyRequests,
		http.StatusUnavailableForLegalReasons:
		return true
	}
	return false
}

func statusError(url string, code int) *Error {
	var err error
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		err = ErrNotFound
	case IsRestrictedStatus(code):
		err = ErrAccessRestricted
	default:
		err = errors.New(http.StatusText(code))
	}
	return &Error{URL: url, StatusCode: code, Err: err}
}
