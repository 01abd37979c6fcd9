package onedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrAuthorization marks failures to obtain a bearer token, as opposed to
// failures of the request itself.
var ErrAuthorization = errors.New("onedrive: obtaining token")

// maxItemBodyBytes bounds how much of a driveItem response is read.
const maxItemBodyBytes = 4 << 20

// conflictReplace overwrites an existing item of the same name.
const conflictReplace = "replace"

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // API annotation key
}

type uploadSessionResponse struct {
	UploadURL          string   `json:"uploadUrl"`
	ExpirationDateTime string   `json:"expirationDateTime"`
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

// UploadSession is a server-side resumable upload. It is never persisted.
type UploadSession struct {
	UploadURL          string // NEVER log; it grants write access without a token
	ExpiresAt          time.Time
	NextExpectedRanges []string
}

// FragmentResult is the service's answer to one fragment PUT.
type FragmentResult struct {
	StatusCode int
	Done       bool  // 200 or 201: the file is complete
	Item       *Item // set when Done and the reply decoded
}

// CreateUploadSession opens a resumable upload for name inside parent. An
// existing file of that name is replaced when the upload completes.
func (c *Client) CreateUploadSession(ctx context.Context, parent ItemRef, name string) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("parent", parent.String()),
		slog.String("name", name),
	)

	body, err := json.Marshal(createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: conflictReplace},
	})
	if err != nil {
		return nil, fmt.Errorf("onedrive: marshaling upload session request: %w", err)
	}

	path := parent.childPath(name) + "/" + c.sessionAction

	resp, err := c.Do(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var usr uploadSessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxItemBodyBytes)).Decode(&usr); err != nil {
		return nil, fmt.Errorf("onedrive: decoding upload session response: %w", err)
	}

	if usr.UploadURL == "" {
		return nil, errors.New("onedrive: upload session response has no uploadUrl")
	}

	session := &UploadSession{
		UploadURL:          usr.UploadURL,
		NextExpectedRanges: usr.NextExpectedRanges,
	}

	if usr.ExpirationDateTime != "" {
		exp, parseErr := time.Parse(time.RFC3339, usr.ExpirationDateTime)
		if parseErr != nil {
			c.logger.Warn("invalid upload session expiration, using zero time",
				slog.String("raw", usr.ExpirationDateTime),
				slog.String("error", parseErr.Error()),
			)
		}

		session.ExpiresAt = exp
	}

	c.logger.Debug("upload session created",
		slog.Time("expires", session.ExpiresAt),
	)

	return session, nil
}

// UploadFragment sends data as bytes start..start+len(data)-1 of a total-byte
// file. It issues exactly one request and never retries. A 202 yields
// Done=false; a 200 or 201 yields Done with the completed Item. A 200 or 201
// whose body cannot be read still yields Done, with a nil Item and the read
// error. Any other status is returned as an *APIError alongside the result.
// Token failures wrap ErrAuthorization.
func (c *Client) UploadFragment(
	ctx context.Context, session *UploadSession, data []byte, start, total int64,
) (*FragmentResult, error) {
	end := start + int64(len(data))
	contentRange := fmt.Sprintf("bytes %d-%d/%d", start, end-1, total)

	c.logger.Debug("uploading fragment",
		slog.String("range", contentRange),
	)

	tok, err := c.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("onedrive: creating fragment request: %w", err)
	}

	c.setHeaders(req, tok)
	req.Header.Set("Content-Range", contentRange)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onedrive: fragment request failed: %w", err)
	}

	result := &FragmentResult{StatusCode: resp.StatusCode}

	switch resp.StatusCode {
	case http.StatusAccepted:
		// Drain so the connection can be reused.
		_, drainErr := io.Copy(io.Discard, io.LimitReader(resp.Body, maxItemBodyBytes))
		resp.Body.Close()

		if drainErr != nil {
			c.logger.Debug("draining fragment response", slog.String("error", drainErr.Error()))
		}

		return result, nil

	case http.StatusOK, http.StatusCreated:
		// The file is committed now, whether or not the reply is readable.
		result.Done = true

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxItemBodyBytes))
		resp.Body.Close()

		if readErr != nil {
			return result, fmt.Errorf("onedrive: reading final fragment response: %w", readErr)
		}

		item, decErr := decodeItem(body, c.logger)
		if decErr != nil {
			return result, decErr
		}

		result.Item = item

		c.logger.Debug("upload complete",
			slog.String("item_id", item.ID),
			slog.String("item_name", item.Name),
		)

		return result, nil

	default:
		errBody := readErrorBody(resp)

		return result, newAPIError(resp, errBody)
	}
}

// SimpleUpload sends a small file in a single PUT. size must be the exact
// number of bytes r yields. It does not retry: r is consumed by the first
// attempt.
func (c *Client) SimpleUpload(
	ctx context.Context, parent ItemRef, name string, r io.Reader, size int64,
) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("parent", parent.String()),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	tok, err := c.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorization, err)
	}

	url, err := c.resolve(parent.childPath(name) + "/content")
	if err != nil {
		return nil, err
	}

	if size == 0 {
		r = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return nil, fmt.Errorf("onedrive: creating upload request: %w", err)
	}

	c.setHeaders(req, tok)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("simple upload request failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("onedrive: upload request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, newAPIError(resp, readErrorBody(resp))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxItemBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("onedrive: reading upload response: %w", err)
	}

	return decodeItem(data, c.logger)
}
