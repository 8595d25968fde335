package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/MontBlanc-69/onitu/internal/onituerr"
	"github.com/MontBlanc-69/onitu/internal/plug"
)

// HTTPStore is a RemoteStore backed by a REST-ish JSON/bytes HTTP API,
// config-driven from an {access_key, access_secret, root, changes_timer}
// object store service block: bearer-token authenticated requests built
// from an oauth2.TokenSource, covering the five verbs any bucket-style
// API exposes (list-changes, get-range, put, delete, move).
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	logger     *slog.Logger
}

// NewHTTPStore creates an HTTPStore. tokens supplies bearer credentials
// derived from the service block's access_key/access_secret (an
// oauth2.Config.TokenSource or oauth2.StaticTokenSource, depending on
// the backend's auth scheme).
func NewHTTPStore(baseURL string, httpClient *http.Client, tokens oauth2.TokenSource, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPStore{baseURL: baseURL, httpClient: httpClient, tokens: tokens, logger: logger}
}

var _ RemoteStore = (*HTTPStore)(nil)

func (h *HTTPStore) authorize(req *http.Request) error {
	tok, err := h.tokens.Token()
	if err != nil {
		return fmt.Errorf("objectstore: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	return nil
}

func (h *HTTPStore) do(ctx context.Context, method, path string, body io.Reader, extraHeaders http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: building request: %w", err)
	}

	for k, vs := range extraHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if err := h.authorize(req); err != nil {
		return nil, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("objectstore: %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:mnd // diagnostic cap

		return nil, fmt.Errorf("objectstore: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	return resp, nil
}

type pollResponse struct {
	Entries []struct {
		Name     string  `json:"name"`
		Deleted  bool    `json:"deleted"`
		Size     int64   `json:"size"`
		Revision string  `json:"revision"`
		ModNanos int64   `json:"mod_nanos"`
	} `json:"entries"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// Poll calls GET /changes?cursor=..., returning a flat cursor/has_more
// JSON body rather than a linked-list of pages.
func (h *HTTPStore) Poll(ctx context.Context, cursor []byte) ([]PollEntry, []byte, bool, error) {
	q := url.Values{}
	if len(cursor) > 0 {
		q.Set("cursor", string(cursor))
	}

	resp, err := h.do(ctx, http.MethodGet, "/changes?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, cursor, false, err
	}
	defer resp.Body.Close()

	var parsed pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cursor, false, fmt.Errorf("objectstore: decoding changes response: %w", err)
	}

	entries := make([]PollEntry, 0, len(parsed.Entries))

	for _, e := range parsed.Entries {
		if e.Deleted {
			entries = append(entries, PollEntry{Name: e.Name})
			continue
		}

		entries = append(entries, PollEntry{
			Name: e.Name,
			Metadata: &ObjectMeta{
				Name: e.Name, Size: e.Size, Revision: e.Revision, ModNanos: e.ModNanos,
			},
		})
	}

	return entries, []byte(parsed.NextCursor), parsed.HasMore, nil
}

// GetRange issues a ranged GET with a per-call Range header.
func (h *HTTPStore) GetRange(ctx context.Context, name string, offset int64, buf []byte) (int, error) {
	end := offset + int64(len(buf)) - 1
	headers := http.Header{"Range": []string{fmt.Sprintf("bytes=%d-%d", offset, end)}}

	resp, err := h.do(ctx, http.MethodGet, "/objects/"+url.PathEscape(name), nil, headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, fmt.Errorf("objectstore: reading range body: %w", err)
	}

	return n, nil
}

// Create begins a server-side upload session, using the path itself as
// the handle since this HTTP surface has no separate session ID.
func (h *HTTPStore) Create(ctx context.Context, name string) (string, error) {
	resp, err := h.do(ctx, http.MethodPost, "/uploads/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return "", err
	}

	resp.Body.Close()

	return name, nil
}

// WriteRange PUTs chunk at offset within the named upload session.
func (h *HTTPStore) WriteRange(ctx context.Context, handle string, offset int64, chunk []byte) error {
	headers := http.Header{"Content-Range": []string{fmt.Sprintf("bytes %d-%d/*", offset, offset+int64(len(chunk))-1)}}

	resp, err := h.do(ctx, http.MethodPut, "/uploads/"+url.PathEscape(handle), bytes.NewReader(chunk), headers)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

type commitRequest struct {
	ParentRevision string `json:"parent_revision,omitempty"`
}

type commitResponse struct {
	Name     string `json:"name"`
	Revision string `json:"revision"`
}

// Commit finalizes the upload session, enforcing parentRev as an
// If-Match-style precondition. A 409 response is classified as
// plug.ErrRevisionMismatch rather than a generic failure.
func (h *HTTPStore) Commit(ctx context.Context, handle, _, parentRev string) (string, string, error) {
	payload, err := json.Marshal(commitRequest{ParentRevision: parentRev})
	if err != nil {
		return "", "", fmt.Errorf("objectstore: encoding commit request: %w", err)
	}

	resp, err := h.do(ctx, http.MethodPost, "/uploads/"+url.PathEscape(handle)+"/commit", bytes.NewReader(payload), nil)
	if err != nil {
		if isConflict(err) {
			return "", "", fmt.Errorf("%w: %v", plug.ErrRevisionMismatch, err)
		}

		return "", "", err
	}
	defer resp.Body.Close()

	var parsed commitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", fmt.Errorf("objectstore: decoding commit response: %w", err)
	}

	return parsed.Name, parsed.Revision, nil
}

// Abort cancels the upload session.
func (h *HTTPStore) Abort(ctx context.Context, handle string) error {
	resp, err := h.do(ctx, http.MethodDelete, "/uploads/"+url.PathEscape(handle), nil, nil)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

// Move issues a server-side rename.
func (h *HTTPStore) Move(ctx context.Context, oldName, newName string) error {
	payload, err := json.Marshal(struct {
		NewName string `json:"new_name"`
	}{NewName: newName})
	if err != nil {
		return fmt.Errorf("objectstore: encoding move request: %w", err)
	}

	resp, err := h.do(ctx, http.MethodPost, "/objects/"+url.PathEscape(oldName)+"/move", bytes.NewReader(payload), nil)
	if err != nil {
		if isNotImplemented(err) {
			return fmt.Errorf("%w: %v", onituerr.ErrUnsupported, err)
		}

		return err
	}

	return resp.Body.Close()
}

// Delete idempotently removes name.
func (h *HTTPStore) Delete(ctx context.Context, name string) error {
	resp, err := h.do(ctx, http.MethodDelete, "/objects/"+url.PathEscape(name), nil, nil)
	if err != nil {
		if isNotFound(err) {
			return nil
		}

		return err
	}

	return resp.Body.Close()
}

func isConflict(err error) bool      { return containsStatus(err, http.StatusConflict) }
func isNotFound(err error) bool      { return containsStatus(err, http.StatusNotFound) }
func isNotImplemented(err error) bool { return containsStatus(err, http.StatusNotImplemented) }

func containsStatus(err error, code int) bool {
	return err != nil && bytes.Contains([]byte(err.Error()), []byte(fmt.Sprintf("status %d", code)))
}
