// Package blobstore generalizes the teacher's Supabase Storage REST client
// (internal/storage/storage.go) into the S3-style presigned-URL object store
// contract of spec.md §4.A: Put, PutStream, Get, GetRange, Delete, DeleteMany,
// List, Exists, PresignGet.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vclip/render-pipeline/internal/retry"
)

const (
	uploadTimeout   = 180 * time.Second
	downloadTimeout = 120 * time.Second
)

// Store is an HTTP-REST-backed object store client, structurally the same
// shape as the teacher's Supabase client but generalized to a named bucket
// and an explicit key rather than a hardcoded storage path.
type Store struct {
	baseURL    string
	bucket     string
	bearer     string
	httpClient *http.Client
}

func New(baseURL, bucket, bearerToken string) *Store {
	return &Store{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		bucket:  bucket,
		bearer:  bearerToken,
		httpClient: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (s *Store) objectURL(key string) string {
	return fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, key)
}

// Put uploads data to key, retrying transient failures with jittered
// backoff (via PutStream and retry.Do).
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.PutStream(ctx, key, int64(len(data)), contentType, func() (io.Reader, error) {
		return bytes.NewReader(data), nil
	})
}

// PutFile uploads the file at path, re-opening it fresh for every retry
// attempt instead of reading it into memory, used by the render worker to
// upload encoded clips and thumbnails directly from disk.
func (s *Store) PutFile(ctx context.Context, key, path, contentType string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("blobstore: stat %s: %w", path, err)
	}
	return s.PutStream(ctx, key, info.Size(), contentType, func() (io.Reader, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("blobstore: open %s: %w", path, err)
		}
		return f, nil
	})
}

// PutStream uploads the body newBody produces, calling it fresh on every
// retry attempt so a consumed reader from a failed attempt is never reused
// (the teacher does the equivalent by rebuilding bytes.NewReader(data)
// inside its retry loop in internal/storage/storage.go).
func (s *Store) PutStream(ctx context.Context, key string, size int64, contentType string, newBody func() (io.Reader, error)) error {
	policy := retry.DefaultPolicy("blobstore.Put " + key)
	return retry.Do(ctx, policy, isRetryableErr, func(ctx context.Context) error {
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		body, err := newBody()
		if err != nil {
			return fmt.Errorf("blobstore: build body: %w", err)
		}

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, s.objectURL(key), body)
		if err != nil {
			return fmt.Errorf("blobstore: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.bearer)
		req.Header.Set("Content-Type", contentType)
		req.ContentLength = size
		req.Header.Set("x-upsert", "true")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return &retryableErr{err: fmt.Errorf("blobstore: put %s: %w", key, err)}
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}
		err = fmt.Errorf("blobstore: put %s: status %d: %s", key, resp.StatusCode, truncate(string(respBody), 200))
		if isRetryableStatus(resp.StatusCode) {
			return &retryableErr{err: err}
		}
		return err
	})
}

// Get downloads the full object at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.GetRange(ctx, key, 0, -1)
}

// GetRange downloads bytes [offset, offset+length) of key; length < 0 means
// "to end of object" (Get calls it with offset 0, length -1).
func (s *Store) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	var out []byte
	policy := retry.DefaultPolicy("blobstore.Get " + key)
	err := retry.Do(ctx, policy, isRetryableErr, func(ctx context.Context) error {
		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, s.objectURL(key), nil)
		if err != nil {
			return fmt.Errorf("blobstore: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.bearer)
		if length >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return &retryableErr{err: fmt.Errorf("blobstore: get %s: %w", key, err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent {
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return &retryableErr{err: fmt.Errorf("blobstore: read body %s: %w", key, err)}
			}
			out = data
			return nil
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("blobstore: %s: %w", key, errNotFound)
		}
		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("blobstore: get %s: status %d: %s", key, resp.StatusCode, truncate(string(body), 200))
		if isRetryableStatus(resp.StatusCode) {
			return &retryableErr{err: err}
		}
		return err
	})
	return out, err
}

// Delete removes a single object. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, []string{key})
}

// DeleteMany removes several objects in one request, mirroring the
// bucket-level bulk-delete endpoint of S3-compatible object stores.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(struct {
		Prefixes []string `json:"prefixes"`
	}{Prefixes: keys})
	if err != nil {
		return fmt.Errorf("blobstore: marshal delete request: %w", err)
	}

	url := fmt.Sprintf("%s/object/%s", s.baseURL, s.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("blobstore: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("blobstore: delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("blobstore: delete: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

// Exists reports whether key is present, via a metadata-only HEAD request.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(key), nil)
	if err != nil {
		return false, fmt.Errorf("blobstore: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.bearer)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("blobstore: exists %s: %w", key, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// List returns object keys under prefix, one page at a time.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	url := fmt.Sprintf("%s/object/list/%s", s.baseURL, s.bucket)
	body, _ := json.Marshal(struct {
		Prefix string `json:"prefix"`
		Limit  int    `json:"limit"`
	}{Prefix: prefix, Limit: limit})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("blobstore: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blobstore: list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("blobstore: list: status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("blobstore: decode list response: %w", err)
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = prefix + e.Name
	}
	return keys, nil
}

// PresignGet returns a time-limited signed URL for key, handed to clients
// that fetch the rendered clip directly rather than through this service.
func (s *Store) PresignGet(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	url := fmt.Sprintf("%s/object/sign/%s/%s", s.baseURL, s.bucket, key)
	body := fmt.Sprintf(`{"expiresIn": %d}`, int(expiresIn.Seconds()))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("blobstore: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("blobstore: presign %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("blobstore: presign %s: status %d: %s", key, resp.StatusCode, truncate(string(respBody), 200))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("blobstore: decode presign response: %w", err)
	}
	return s.baseURL + result.SignedURL, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
