package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"chunkstore/internal/models"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	httpTimeoutEnvKey  = "CHUNKSTORE_HTTP_TIMEOUT"
	apiTokenEnvKey     = "CHUNKSTORE_API_TOKEN"
	adminTokenEnvKey   = "CHUNKSTORE_ADMIN_TOKEN"
)

// Chunk is one part of a chunk upload. Checksum may be empty; when set the
// server rejects content that does not hash to it.
type Chunk struct {
	Checksum string
	Content  io.Reader
}

// Client is a simple HTTP client for the chunkstore API.
type Client struct {
	baseURL    string
	http       *http.Client
	authToken  string
	adminToken string
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: httpTimeoutFromEnv()},
		authToken:  strings.TrimSpace(os.Getenv(apiTokenEnvKey)),
		adminToken: strings.TrimSpace(os.Getenv(adminTokenEnvKey)),
	}
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) GetInfo(ctx context.Context) (InfoResponse, error) {
	var resp InfoResponse
	err := c.do(ctx, http.MethodGet, "/v1/info", nil, nil, &resp)
	return resp, err
}

// MissingChunks returns the checksums the server has no blob for.
func (c *Client) MissingChunks(ctx context.Context, checksums []string) ([]string, error) {
	var resp MissingChunksResponse
	err := c.do(ctx, http.MethodPost, "/v1/chunk-upload/missing", nil, MissingChunksRequest{Checksums: checksums}, &resp)
	return resp.Missing, err
}

// UploadChunks sends chunks as one multipart request. The part filename
// carries the expected checksum.
func (c *Client) UploadChunks(ctx context.Context, owner string, chunks []Chunk) (ChunkUploadResponse, error) {
	var resp ChunkUploadResponse
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if owner != "" {
		if err := mw.WriteField("owner", owner); err != nil {
			return resp, err
		}
	}
	for i, chunk := range chunks {
		name := chunk.Checksum
		if name == "" {
			name = "chunk-" + strconv.Itoa(i)
		}
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			return resp, err
		}
		if _, err := io.Copy(part, chunk.Content); err != nil {
			return resp, err
		}
	}
	if err := mw.Close(); err != nil {
		return resp, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chunk-upload", &body)
	if err != nil {
		return resp, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuthHeader(req)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		return resp, decodeError(httpResp)
	}
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	return resp, err
}

// Assemble asks the server to assemble a file from uploaded chunks.
func (c *Client) Assemble(ctx context.Context, req AssembleRequest) (AssembleResponse, error) {
	var resp AssembleResponse
	err := c.do(ctx, http.MethodPost, "/v1/files/assemble", nil, req, &resp)
	return resp, err
}

func (c *Client) ListFiles(ctx context.Context, limit int) ([]models.File, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp []models.File
	err := c.do(ctx, http.MethodGet, "/v1/files", query, nil, &resp)
	return resp, err
}

func (c *Client) GetFile(ctx context.Context, id string) (FileResponse, error) {
	var resp FileResponse
	err := c.do(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) DeleteFile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(id), nil, nil, nil)
}

// Download streams a file's content starting at offset into w.
func (c *Client) Download(ctx context.Context, id string, offset int64, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/files/"+url.PathEscape(id)+"/content", nil)
	if err != nil {
		return 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	c.setAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// DeleteBlob deletes a blob by checksum. Requires the admin token when the
// server has one configured.
func (c *Client) DeleteBlob(ctx context.Context, checksum string) error {
	return c.do(ctx, http.MethodDelete, "/v1/admin/blobs/"+url.PathEscape(checksum), nil, nil, nil)
}

// AdminGCBlobs runs a blob GC sweep. Applying sends the confirmation header
// the server requires.
func (c *Client) AdminGCBlobs(ctx context.Context, req BlobGCRequest) (BlobGCResponse, error) {
	var resp BlobGCResponse
	var header http.Header
	if req.Apply {
		header = http.Header{"X-Confirm": []string{"true"}}
	}
	err := c.doWithHeader(ctx, http.MethodPost, "/v1/admin/gc-blobs", nil, header, req, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	return c.doWithHeader(ctx, method, path, query, nil, body, out)
}

func (c *Client) doWithHeader(ctx context.Context, method, path string, query url.Values, header http.Header, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	c.setAuthHeader(req)
	if strings.HasPrefix(path, "/v1/admin/") {
		c.setAdminHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.Message = errResp.Error
		return apiErr
	}
	apiErr.Message = fmt.Sprintf("api error: %s", resp.Status)
	return apiErr
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.authToken == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
}

func (c *Client) setAdminHeader(req *http.Request) {
	if c.adminToken == "" || req == nil {
		return
	}
	req.Header.Set("X-Admin-Token", c.adminToken)
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
