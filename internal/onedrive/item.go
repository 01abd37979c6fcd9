package onedrive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Timestamp bounds. Values outside this range are treated as absent.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// Item is a driveItem as returned by the service, normalized so callers
// never see raw API shapes.
type Item struct {
	ID         string
	Name       string
	DriveID    string // lowercase; the service is inconsistent about casing
	ParentID   string
	ParentPath string
	Size       int64
	ETag       string
	CTag       string
	IsFolder   bool
	MimeType   string
	WebURL     string

	QuickXorHash string // base64
	SHA1Hash     string // hex, personal accounts
	SHA256Hash   string // hex, business accounts, sometimes
	CRC32Hash    string // hex, personal accounts

	CreatedAt  time.Time // zero when absent or invalid
	ModifiedAt time.Time
}

// ItemRef addresses a folder either by item id or by path from the drive
// root. ID wins when both are set; the zero value is the root folder.
type ItemRef struct {
	ID   string
	Path string
}

// Root is the drive's root folder.
var Root = ItemRef{}

func (r ItemRef) String() string {
	if r.ID != "" {
		return "id:" + r.ID
	}

	return "/" + strings.Trim(r.Path, "/")
}

// childPath returns the API path addressing name inside the folder,
// without a trailing colon-action. Examples:
//
//	/drive/items/ABC:/report.pdf:
//	/drive/root:/Documents/report.pdf:
func (r ItemRef) childPath(name string) string {
	if r.ID != "" {
		return "/drive/items/" + url.PathEscape(r.ID) + ":/" + url.PathEscape(name) + ":"
	}

	p := strings.Trim(r.Path, "/")
	if p == "" {
		return "/drive/root:/" + url.PathEscape(name) + ":"
	}

	return "/drive/root:/" + encodePathSegments(p) + "/" + url.PathEscape(name) + ":"
}

// encodePathSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, %, and spaces are encoded per segment so the
// result is safe to interpolate into API URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// driveItemResponse mirrors the driveItem JSON. Unexported; callers use
// Item via toItem.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	ETag                 string           `json:"eTag"`
	CTag                 string           `json:"cTag"`
	WebURL               string           `json:"webUrl"`
	CreatedDateTime      string           `json:"createdDateTime"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *json.RawMessage `json:"folder"`
}

type parentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Path    string `json:"path"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA1Hash     string `json:"sha1Hash"`
	SHA256Hash   string `json:"sha256Hash"`
	CRC32Hash    string `json:"crc32Hash"`
}

// decodeItem reads a driveItem body and normalizes it.
func decodeItem(data []byte, logger *slog.Logger) (*Item, error) {
	var dir driveItemResponse
	if err := json.Unmarshal(data, &dir); err != nil {
		return nil, fmt.Errorf("onedrive: decoding item: %w", err)
	}

	item := dir.toItem(logger)

	return &item, nil
}

// toItem normalizes a driveItem response.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:       d.ID,
		Name:     d.Name,
		Size:     d.Size,
		ETag:     d.ETag,
		CTag:     d.CTag,
		WebURL:   d.WebURL,
		IsFolder: d.Folder != nil,
	}

	if d.ParentReference != nil {
		item.DriveID = strings.ToLower(d.ParentReference.DriveID)
		item.ParentID = d.ParentReference.ID
		item.ParentPath = d.ParentReference.Path
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
			item.SHA1Hash = strings.ToLower(d.File.Hashes.SHA1Hash)
			item.SHA256Hash = strings.ToLower(d.File.Hashes.SHA256Hash)
			item.CRC32Hash = strings.ToLower(d.File.Hashes.CRC32Hash)
		}
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger)
	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger)

	return item
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Missing, invalid, or out-of-range values yield the zero time.
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, ignoring",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, ignoring",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Time{}
	}

	return t.UTC()
}
