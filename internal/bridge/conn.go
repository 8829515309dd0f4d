// conn.go — Connection helpers: error classification, raw HTTP transport.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// IsConnectionError returns true if the error indicates the upstream is unreachable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	// Prefer typed error checks over string matching
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// Fallback: string check for wrapped errors that lose type info
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}

// DoHTTP sends a raw JSON payload to endpoint and returns the HTTP response.
// headers are applied after the default Content-Type so a caller can override
// it or add auth (e.g. "Authorization"). The caller must provide a context
// that outlives the response body read.
func DoHTTP(ctx context.Context, client *http.Client, method, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return client.Do(httpReq)
}
