// Package storage stores listing media in Supabase Storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrStorageUnavailable = errors.New("storage unavailable")

// Client uploads and removes objects in a single bucket
type Client interface {
	Upload(ctx context.Context, objectPath string, body []byte, contentType string) error
	Delete(ctx context.Context, objectPath string) error
	PublicURL(objectPath string) string
}

// SupabaseClient interacts with Supabase Storage via REST API.
type SupabaseClient struct {
	projectURL string
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
}

// NewSupabaseClient creates a client for bucket, authenticating with the service role key
func NewSupabaseClient(projectURL, bucket, serviceKey string) *SupabaseClient {
	projectURL = strings.TrimRight(projectURL, "/")
	return &SupabaseClient{
		projectURL: projectURL,
		baseURL:    fmt.Sprintf("%s/storage/v1", projectURL),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *SupabaseClient) objectURL(objectPath string) string {
	return fmt.Sprintf("%s/object/%s/%s", c.baseURL, c.bucket, escapePath(objectPath))
}

// Upload writes (or overwrites) an object
func (c *SupabaseClient) Upload(ctx context.Context, objectPath string, body []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL(objectPath), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	return c.send(req, "upload")
}

// Delete removes an object
func (c *SupabaseClient) Delete(ctx context.Context, objectPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(objectPath), nil)
	if err != nil {
		return err
	}

	return c.send(req, "delete")
}

// PublicURL returns the URL clients use to fetch an object from a public bucket
func (c *SupabaseClient) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", c.baseURL, c.bucket, escapePath(objectPath))
}

func (c *SupabaseClient) send(req *http.Request, op string) error {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceKey))
	req.Header.Set("apikey", c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s returned %s", ErrStorageUnavailable, op, resp.Status)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("supabase %s failed: %s", op, string(data))
	}
	return nil
}

func escapePath(objectPath string) string {
	segments := strings.Split(strings.TrimLeft(objectPath, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
