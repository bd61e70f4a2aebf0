package querysync

import (
	"context"
	"errors"
	"sync"
)

// A process-wide client for programs that want one. Libraries and tests
// should create their own with New.
var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

var ErrAlreadyInitialized = errors.New("querysync: default client already initialized")

// Init creates the process-wide client.
func Init(opts Options) (*Client, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient != nil {
		return nil, ErrAlreadyInitialized
	}
	defaultClient = New(opts)
	return defaultClient, nil
}

// Default returns the process-wide client, or nil before Init.
func Default() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultClient
}

// Dispose closes the process-wide client; Init may be called again afterwards.
func Dispose(ctx context.Context) error {
	defaultMu.Lock()
	c := defaultClient
	defaultClient = nil
	defaultMu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close(ctx)
}
