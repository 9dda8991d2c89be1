package icloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// CloudKit query paths on the photos service.
const (
	privateQueryPath = "/database/1/com.apple.photos.cloud/production/private/records/query"
	sharedQueryPath  = "/database/1/com.apple.photos.cloud/production/shared/records/query"
)

// queryRequest is the CloudKit record query envelope.
type queryRequest struct {
	Query  queryBody `json:"query"`
	ZoneID zoneID    `json:"zoneID"`
}

type queryBody struct {
	RecordType string        `json:"recordType"`
	FilterBy   []queryFilter `json:"filterBy,omitempty"`
}

type queryFilter struct {
	FieldName  string     `json:"fieldName"`
	Comparator string     `json:"comparator"`
	FieldValue fieldValue `json:"fieldValue"`
}

type fieldValue struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
}

type zoneID struct {
	ZoneName string `json:"zoneName"`
}

// queryResponse is the subset of the CloudKit response we consume.
type queryResponse struct {
	Records []struct {
		RecordName string `json:"recordName"`
		RecordType string `json:"recordType"`
		Fields     map[string]struct {
			Value any `json:"value"`
		} `json:"fields"`
	} `json:"records"`
}

// ListAlbums enumerates both personal and shared albums. The listing is
// rebuilt from scratch on every call; nothing is cached across cycles.
func (c *Client) ListAlbums(ctx context.Context) ([]Album, error) {
	if c.photosURL == "" {
		return nil, fmt.Errorf("%w: not authenticated", ErrServiceUnavailable)
	}

	personal, err := c.queryAlbums(ctx, privateQueryPath, KindPersonal)
	if err != nil {
		return nil, err
	}

	shared, err := c.queryAlbums(ctx, sharedQueryPath, KindShared)
	if err != nil {
		return nil, err
	}

	albums := append(personal, shared...)

	sort.Slice(albums, func(i, j int) bool {
		if albums[i].Kind != albums[j].Kind {
			return albums[i].Kind < albums[j].Kind
		}

		return albums[i].Name < albums[j].Name
	})

	return albums, nil
}

// queryAlbums fetches album records from one database (private or shared).
func (c *Client) queryAlbums(ctx context.Context, path string, kind AlbumKind) ([]Album, error) {
	req := queryRequest{
		Query:  queryBody{RecordType: "CPLAlbumByPositionLive"},
		ZoneID: zoneID{ZoneName: "PrimarySync"},
	}

	var resp queryResponse

	if err := c.photosQuery(ctx, path, req, &resp); err != nil {
		return nil, err
	}

	var albums []Album

	for _, rec := range resp.Records {
		nameField, ok := rec.Fields["albumNameEnc"]
		if !ok {
			continue
		}

		enc, ok := nameField.Value.(string)
		if !ok {
			continue
		}

		album := Album{
			Name: decodeBase64Name(enc),
			Kind: kind,
		}

		if countField, ok := rec.Fields["itemCount"]; ok {
			if n, ok := countField.Value.(float64); ok {
				album.ItemCount = int(n)
			}
		}

		albums = append(albums, album)
	}

	return albums, nil
}

// ListPhotos enumerates the photos of one album. Each call issues a fresh
// query, so the listing is restartable per call.
func (c *Client) ListPhotos(ctx context.Context, album Album) ([]Photo, error) {
	if c.photosURL == "" {
		return nil, fmt.Errorf("%w: not authenticated", ErrServiceUnavailable)
	}

	path := privateQueryPath
	if album.Kind == KindShared {
		path = sharedQueryPath
	}

	req := queryRequest{
		Query: queryBody{
			RecordType: "CPLAssetByAlbum",
			FilterBy: []queryFilter{{
				FieldName:  "albumNameEnc",
				Comparator: "EQUALS",
				FieldValue: fieldValue{Value: encodeBase64Name(album.Name), Type: "STRING"},
			}},
		},
		ZoneID: zoneID{ZoneName: "PrimarySync"},
	}

	var resp queryResponse

	if err := c.photosQuery(ctx, path, req, &resp); err != nil {
		return nil, err
	}

	var photos []Photo

	for _, rec := range resp.Records {
		nameField, ok := rec.Fields["filenameEnc"]
		if !ok {
			continue
		}

		enc, ok := nameField.Value.(string)
		if !ok {
			continue
		}

		photo := Photo{
			RemoteID:  rec.RecordName,
			Filename:  decodeBase64Name(enc),
			AlbumName: album.Name,
			Kind:      album.Kind,
		}

		if sizeField, ok := rec.Fields["resOriginalFileSize"]; ok {
			if n, ok := sizeField.Value.(float64); ok {
				photo.SizeBytes = int64(n)
			}
		}

		photos = append(photos, photo)
	}

	return photos, nil
}

// Download streams the original bytes of one photo. The returned size is
// the advertised Content-Length (0 when unknown); the stream is finite and
// not restartable mid-flight. The caller owns the ReadCloser.
func (c *Client) Download(ctx context.Context, remoteID string) (io.ReadCloser, int64, error) {
	if c.photosURL == "" {
		return nil, 0, fmt.Errorf("%w: not authenticated", ErrServiceUnavailable)
	}

	// Resolve the asset's download URL, then stream it.
	req := queryRequest{
		Query: queryBody{
			RecordType: "CPLAsset",
			FilterBy: []queryFilter{{
				FieldName:  "recordName",
				Comparator: "EQUALS",
				FieldValue: fieldValue{Value: remoteID, Type: "STRING"},
			}},
		},
		ZoneID: zoneID{ZoneName: "PrimarySync"},
	}

	var resp queryResponse

	if err := c.photosQuery(ctx, privateQueryPath, req, &resp); err != nil {
		return nil, 0, err
	}

	downloadURL := ""

	for _, rec := range resp.Records {
		if field, ok := rec.Fields["resOriginalRes"]; ok {
			if ref, ok := field.Value.(map[string]any); ok {
				if u, ok := ref["downloadURL"].(string); ok {
					downloadURL = u
					break
				}
			}
		}
	}

	if downloadURL == "" {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("icloud: building download request: %w", err)
	}

	httpReq.Header.Set("User-Agent", clientUserAgent)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	if httpResp.StatusCode == http.StatusNotFound || httpResp.StatusCode == http.StatusGone {
		drainClose(httpResp)
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}

	if httpResp.StatusCode != http.StatusOK {
		drainClose(httpResp)
		return nil, 0, fmt.Errorf("%w: download HTTP %d", ErrServiceUnavailable, httpResp.StatusCode)
	}

	return httpResp.Body, httpResp.ContentLength, nil
}

// photosQuery posts a CloudKit query and decodes the response.
func (c *Client) photosQuery(ctx context.Context, path string, reqBody queryRequest, out *queryResponse) error {
	resp, err := c.doJSON(ctx, http.MethodPost, c.photosURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: query HTTP %d", ErrServiceUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding query response: %v", ErrServiceUnavailable, err)
	}

	return nil
}
