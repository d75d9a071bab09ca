// Copyright 2024-2026 Aiku AI

package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// URLOpener returns an Opener that downloads url with client.
func URLOpener(client *http.Client, url string) Opener {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build media request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download media: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d downloading media", resp.StatusCode)
		}
		return resp.Body, nil
	}
}

// BytesOpener returns an Opener over an in-memory payload.
func BytesOpener(data []byte) Opener {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}
