// Package fetch retrieves OpenAPI documents from remote services, git
// working trees and custom callback endpoints.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"apigen/internal/openapi"
)

var (
	ErrTimeout     = errors.New("source fetch timed out")
	ErrUnreachable = errors.New("source unreachable")
	ErrParse       = errors.New("source returned an invalid document")
)

// HTTPError reports a non-2xx response from the source service.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("source returned HTTP %d", e.Status)
}

type Fetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Remote downloads and parses the document served at specURL.
func (f *Fetcher) Remote(ctx context.Context, specURL string) (openapi.Document, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}
	doc, err := openapi.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return doc, nil
}

// FromRepo reads the document at specPath inside a checked out repository.
func (f *Fetcher) FromRepo(dir, specPath string) (openapi.Document, error) {
	data, err := os.ReadFile(filepath.Join(dir, specPath))
	if err != nil {
		return nil, fmt.Errorf("read spec from repository: %w", err)
	}
	doc, err := openapi.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return doc, nil
}

// PreviousFromCallback asks a custom callback endpoint for the document it
// currently holds. Used as a fallback history source when the local store
// has none. Any failure just means no previous document.
func (f *Fetcher) PreviousFromCallback(ctx context.Context, callbackURL, token string) (openapi.Document, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callbackURL, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return openapi.Parse(data)
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
