// conn_test.go — Tests for IsConnectionError and DoHTTP.
package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsConnectionError_NilError(t *testing.T) {
	t.Parallel()
	if IsConnectionError(nil) {
		t.Error("expected false for nil error")
	}
}

func TestIsConnectionError_OpError(t *testing.T) {
	t.Parallel()
	opErr := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: errors.New("connection refused"),
	}
	if !IsConnectionError(opErr) {
		t.Error("expected true for *net.OpError")
	}
}

func TestIsConnectionError_WrappedOpError(t *testing.T) {
	t.Parallel()
	opErr := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: errors.New("connection refused"),
	}
	wrapped := errors.Join(errors.New("context"), opErr)
	if !IsConnectionError(wrapped) {
		t.Error("expected true for wrapped *net.OpError")
	}
}

func TestIsConnectionError_DNSError(t *testing.T) {
	t.Parallel()
	dnsErr := &net.DNSError{
		Err:  "no such host",
		Name: "nonexistent.example.com",
	}
	if !IsConnectionError(dnsErr) {
		t.Error("expected true for *net.DNSError")
	}
}

func TestIsConnectionError_WrappedDNSError(t *testing.T) {
	t.Parallel()
	dnsErr := &net.DNSError{
		Err:  "no such host",
		Name: "nonexistent.example.com",
	}
	wrapped := errors.Join(errors.New("lookup failed"), dnsErr)
	if !IsConnectionError(wrapped) {
		t.Error("expected true for wrapped *net.DNSError")
	}
}

func TestIsConnectionError_ConnectionRefusedString(t *testing.T) {
	t.Parallel()
	err := errors.New("dial tcp 127.0.0.1:7890: connection refused")
	if !IsConnectionError(err) {
		t.Error("expected true for error containing 'connection refused'")
	}
}

func TestIsConnectionError_NoSuchHostString(t *testing.T) {
	t.Parallel()
	err := errors.New("lookup nonexistent.local: no such host")
	if !IsConnectionError(err) {
		t.Error("expected true for error containing 'no such host'")
	}
}

func TestIsConnectionError_UnrelatedError(t *testing.T) {
	t.Parallel()
	err := errors.New("timeout exceeded")
	if IsConnectionError(err) {
		t.Error("expected false for unrelated error")
	}
}

func TestIsConnectionError_EmptyError(t *testing.T) {
	t.Parallel()
	err := errors.New("")
	if IsConnectionError(err) {
		t.Error("expected false for empty error message")
	}
}

func TestIsConnectionError_PartialMatchNotSubstring(t *testing.T) {
	t.Parallel()
	err := errors.New("no such hostile environment")
	if !IsConnectionError(err) {
		t.Error("expected true: 'no such host' is a substring of the message")
	}
}

func TestDoHTTP_SetsContentTypeAndHeaders(t *testing.T) {
	t.Parallel()
	var gotContentType, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := DoHTTP(context.Background(), srv.Client(), http.MethodPost, srv.URL, []byte(`{"a":1}`), map[string]string{"Authorization": "Bearer token"})
	if err != nil {
		t.Fatalf("DoHTTP: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotAuth != "Bearer token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer token")
	}
	if gotBody != `{"a":1}` {
		t.Errorf("body = %q, want %q", gotBody, `{"a":1}`)
	}
}
