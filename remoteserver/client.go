// Package remoteserver implements server.Server as an HTTP client against
// the endpoint contract spec section 6 defines, the counterpart to
// server/httpserver's handler.
package remoteserver

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/taskchampion/tcgo/server"
)

const (
	headerClientID      = "X-Client-Id"
	headerParentVersion = "X-Parent-Version-Id"
	headerVersionID     = "X-Version-Id"

	contentTypeSegment  = "application/vnd.taskchampion.history-segment"
	contentTypeSnapshot = "application/vnd.taskchampion.snapshot"
)

// Client is a server.Server backed by an HTTP origin.
type Client struct {
	Origin     string
	HTTPClient *http.Client
}

// New returns a Client targeting origin (e.g. "https://sync.example.com"),
// using http.DefaultClient if httpClient is nil.
func New(origin string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Origin: origin, HTTPClient: httpClient}
}

// GetChildVersion implements server.Server.
func (c *Client) GetChildVersion(clientID string, parentVersionID server.VersionID) (server.Version, error) {
	req, err := http.NewRequest(http.MethodGet, c.Origin+"/v1/client/get-child-version", nil)
	if err != nil {
		return server.Version{}, err
	}
	req.Header.Set(headerClientID, clientID)
	req.Header.Set(headerParentVersion, parentVersionID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return server.Version{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return server.Version{}, err
		}
		return server.Version{
			VersionID:       resp.Header.Get(headerVersionID),
			ParentVersionID: resp.Header.Get(headerParentVersion),
			HistorySegment:  body,
		}, nil
	case http.StatusNotFound:
		return server.Version{}, server.ErrNoSuchVersion
	case http.StatusGone:
		return server.Version{}, server.ErrGone
	default:
		return server.Version{}, unexpectedStatus(resp)
	}
}

// AddVersion implements server.Server.
func (c *Client) AddVersion(clientID string, parentVersionID server.VersionID, historySegment []byte) (server.VersionID, server.SnapshotUrgency, error) {
	req, err := http.NewRequest(http.MethodPost, c.Origin+"/v1/client/add-version", bytes.NewReader(historySegment))
	if err != nil {
		return "", server.SnapshotNone, err
	}
	req.Header.Set(headerClientID, clientID)
	req.Header.Set(headerParentVersion, parentVersionID)
	req.Header.Set("Content-Type", contentTypeSegment)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", server.SnapshotNone, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Header.Get(headerVersionID), parseUrgency(resp.Header.Get("X-Snapshot-Request")), nil
	case http.StatusConflict:
		return "", server.SnapshotNone, &server.ErrExpectedParentVersion{Head: resp.Header.Get(headerParentVersion)}
	default:
		return "", server.SnapshotNone, unexpectedStatus(resp)
	}
}

// AddSnapshot implements server.Server.
func (c *Client) AddSnapshot(clientID string, versionID server.VersionID, blob []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.Origin+"/v1/client/add-snapshot", bytes.NewReader(blob))
	if err != nil {
		return err
	}
	req.Header.Set(headerClientID, clientID)
	req.Header.Set(headerVersionID, versionID)
	req.Header.Set("Content-Type", contentTypeSnapshot)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}
	return nil
}

// GetSnapshot implements server.Server.
func (c *Client) GetSnapshot(clientID string) (server.Snapshot, error) {
	req, err := http.NewRequest(http.MethodGet, c.Origin+"/v1/client/snapshot", nil)
	if err != nil {
		return server.Snapshot{}, err
	}
	req.Header.Set(headerClientID, clientID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return server.Snapshot{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return server.Snapshot{}, err
		}
		return server.Snapshot{VersionID: resp.Header.Get(headerVersionID), Blob: body}, nil
	case http.StatusNotFound:
		return server.Snapshot{}, server.ErrNoSnapshot
	default:
		return server.Snapshot{}, unexpectedStatus(resp)
	}
}

func parseUrgency(header string) server.SnapshotUrgency {
	switch header {
	case "urgency=low":
		return server.SnapshotLow
	case "urgency=high":
		return server.SnapshotHigh
	default:
		return server.SnapshotNone
	}
}

func unexpectedStatus(resp *http.Response) error {
	return fmt.Errorf("remoteserver: unexpected status %d", resp.StatusCode)
}
