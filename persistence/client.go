// Package persistence talks to the blueprints storage service. The relay
// never keeps blueprint state of its own, every mutation is an append against
// the service followed by a fresh fetch.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"blueprints-relay/core"

	"github.com/sirupsen/logrus"
)

const requestTimeout = 5 * time.Second

type (
	// Client abstracts the two operations the relay needs from the store.
	// Fetch reports a missing blueprint as core.ErrBlueprintNotFound,
	// which callers must treat differently from a transport failure.
	Client interface {
		AppendPoint(ctx context.Context, id core.BlueprintID, point core.Point) error
		Fetch(ctx context.Context, id core.BlueprintID) (core.Blueprint, error)
	}

	// Envelope is the wire frame the blueprints API wraps every response
	// in. Data is null when the blueprint does not exist.
	Envelope struct {
		Status    string          `json:"status"`
		Message   string          `json:"message"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"timestamp"`
	}
)

type httpClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTP returns a Client against an external blueprints API at baseURL.
// Requests are bounded by a 5 second timeout and never retried; a duplicate
// append would duplicate the point.
func NewHTTP(baseURL string) Client {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *httpClient) blueprintURL(id core.BlueprintID) string {
	return fmt.Sprintf("%s/blueprints/%s/%s", c.baseURL, url.PathEscape(id.Author), url.PathEscape(id.Name))
}

func (c *httpClient) AppendPoint(ctx context.Context, id core.BlueprintID, point core.Point) error {
	log := logrus.WithFields(logrus.Fields{
		"author": id.Author,
		"name":   id.Name,
	})

	body, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("encode point: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.blueprintURL(id)+"/points", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).Error("Append point request failed")
		return fmt.Errorf("append point: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithField("status_code", resp.StatusCode).Error("Append point rejected by persistence service")
		return fmt.Errorf("append point: persistence service responded %d", resp.StatusCode)
	}

	log.Debug("Point appended")
	return nil
}

func (c *httpClient) Fetch(ctx context.Context, id core.BlueprintID) (core.Blueprint, error) {
	log := logrus.WithFields(logrus.Fields{
		"author": id.Author,
		"name":   id.Name,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.blueprintURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).Error("Fetch blueprint request failed")
		return nil, fmt.Errorf("fetch blueprint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, core.ErrBlueprintNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithField("status_code", resp.StatusCode).Error("Fetch blueprint rejected by persistence service")
		return nil, fmt.Errorf("fetch blueprint: persistence service responded %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read fetch response: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}

	// The API reports "no such blueprint yet" as a success envelope with a
	// null data field.
	if len(envelope.Data) == 0 || bytes.Equal(envelope.Data, []byte("null")) {
		log.Debug("Blueprint not found")
		return nil, core.ErrBlueprintNotFound
	}

	log.Debug("Blueprint fetched")
	return core.Blueprint(envelope.Data), nil
}

type localClient struct {
	store core.BlueprintStore
}

// NewLocal returns a Client over an in-process store, used when the relay
// runs with the embedded persistence service instead of an external one.
func NewLocal(store core.BlueprintStore) Client {
	return &localClient{store: store}
}

func (c *localClient) AppendPoint(ctx context.Context, id core.BlueprintID, point core.Point) error {
	return c.store.AppendPoint(ctx, id, point)
}

func (c *localClient) Fetch(ctx context.Context, id core.BlueprintID) (core.Blueprint, error) {
	record, err := c.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode blueprint: %w", err)
	}
	return core.Blueprint(data), nil
}
