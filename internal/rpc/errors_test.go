package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "nil", err: nil, transient: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, transient: true},
		{name: "connection refused", err: syscall.ECONNREFUSED, transient: true},
		{name: "connection reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), transient: true},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, transient: true},
		{name: "429", err: errors.New("429 Too Many Requests"), transient: true},
		{name: "rate limit", err: errors.New("rate limit exceeded"), transient: true},
		{name: "503", err: errors.New("503 Service Unavailable"), transient: true},
		{name: "bad gateway", err: errors.New("502 Bad Gateway"), transient: true},
		{name: "unknown method", err: errors.New("the method eth_getLogz does not exist"), transient: false},
		{name: "plain error", err: errors.New("something else"), transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{name: "nil", err: nil, fatal: false},
		{name: "method not found", err: errors.New("method not found"), fatal: true},
		{name: "malformed json", err: errors.New("invalid character '<' looking for beginning of value"), fatal: true},
		{name: "unmarshal mismatch", err: errors.New("json: cannot unmarshal string into Go value"), fatal: true},
		{name: "timeout", err: context.DeadlineExceeded, fatal: false},
		{name: "503", err: errors.New("503 Service Unavailable"), fatal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}
