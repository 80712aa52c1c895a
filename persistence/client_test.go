package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blueprints-relay/core"
)

func envelopeBody(data string) string {
	return fmt.Sprintf(`{"status":"OK","message":"success","data":%s,"timestamp":"2026-08-29T12:00:00Z"}`, data)
}

func TestHTTPFetch_UnwrapsEnvelope(t *testing.T) {
	blueprint := `{"author":"alice","name":"plano1","points":[{"x":10,"y":20}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/blueprints/alice/plano1" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, envelopeBody(blueprint))
	}))
	defer server.Close()

	client := NewHTTP(server.URL)
	doc, err := client.Fetch(context.Background(), core.BlueprintID{Author: "alice", Name: "plano1"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		t.Fatalf("Fetched blueprint is not valid JSON: %v", err)
	}
	if decoded["author"] != "alice" {
		t.Errorf("Envelope not unwrapped, got %s", string(doc))
	}
}

func TestHTTPFetch_NullDataIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, envelopeBody("null"))
	}))
	defer server.Close()

	client := NewHTTP(server.URL)
	_, err := client.Fetch(context.Background(), core.BlueprintID{Author: "alice", Name: "plano1"})
	if !errors.Is(err, core.ErrBlueprintNotFound) {
		t.Errorf("Expected ErrBlueprintNotFound for null data, got %v", err)
	}
}

func TestHTTPFetch_404IsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such blueprint", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTP(server.URL)
	_, err := client.Fetch(context.Background(), core.BlueprintID{Author: "alice", Name: "plano1"})
	if !errors.Is(err, core.ErrBlueprintNotFound) {
		t.Errorf("Expected ErrBlueprintNotFound for 404, got %v", err)
	}
}

func TestHTTPFetch_ServerErrorIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTP(server.URL)
	_, err := client.Fetch(context.Background(), core.BlueprintID{Author: "alice", Name: "plano1"})
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if errors.Is(err, core.ErrBlueprintNotFound) {
		t.Error("Server error must not be reported as not-found")
	}
}

func TestHTTPAppendPoint_PostsPoint(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/blueprints/alice/plano1/points" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, envelopeBody("null"))
	}))
	defer server.Close()

	client := NewHTTP(server.URL)
	err := client.AppendPoint(context.Background(), core.BlueprintID{Author: "alice", Name: "plano1"}, core.Point{X: 10, Y: 20})
	if err != nil {
		t.Fatalf("AppendPoint failed: %v", err)
	}
	if !strings.Contains(gotBody, `"x":10`) || !strings.Contains(gotBody, `"y":20`) {
		t.Errorf("Point not sent in body: %s", gotBody)
	}
}

func TestHTTPAppendPoint_RejectionIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad point", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewHTTP(server.URL)
	err := client.AppendPoint(context.Background(), core.BlueprintID{Author: "alice", Name: "plano1"}, core.Point{})
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}
}

func TestHTTPAppendPoint_UnreachableServiceIsFailure(t *testing.T) {
	// Closed server, connection refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewHTTP(server.URL)
	err := client.AppendPoint(context.Background(), core.BlueprintID{Author: "alice", Name: "plano1"}, core.Point{X: 1, Y: 2})
	if err == nil {
		t.Fatal("Expected error for unreachable service")
	}
}

func TestHTTPFetch_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewHTTP(server.URL)
	_, err := client.Fetch(ctx, core.BlueprintID{Author: "alice", Name: "plano1"})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
}

type stubStore struct {
	records map[string]*core.BlueprintRecord
	findErr error
}

func (s *stubStore) AppendPoint(ctx context.Context, id core.BlueprintID, point core.Point) error {
	if s.records == nil {
		s.records = make(map[string]*core.BlueprintRecord)
	}
	record, ok := s.records[id.RoomKey()]
	if !ok {
		record = &core.BlueprintRecord{Author: id.Author, Name: id.Name}
		s.records[id.RoomKey()] = record
	}
	record.Points = append(record.Points, point)
	return nil
}

func (s *stubStore) Find(ctx context.Context, id core.BlueprintID) (*core.BlueprintRecord, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	record, ok := s.records[id.RoomKey()]
	if !ok {
		return nil, core.ErrBlueprintNotFound
	}
	return record, nil
}

func (s *stubStore) List(ctx context.Context) ([]core.BlueprintID, error) {
	return nil, nil
}

func TestLocalClient_RoundTrip(t *testing.T) {
	client := NewLocal(&stubStore{})
	id := core.BlueprintID{Author: "alice", Name: "plano1"}

	if _, err := client.Fetch(context.Background(), id); !errors.Is(err, core.ErrBlueprintNotFound) {
		t.Fatalf("Expected not-found before first append, got %v", err)
	}

	if err := client.AppendPoint(context.Background(), id, core.Point{X: 10, Y: 20}); err != nil {
		t.Fatalf("AppendPoint failed: %v", err)
	}

	doc, err := client.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	var record core.BlueprintRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		t.Fatalf("Fetched blueprint is not valid JSON: %v", err)
	}
	if len(record.Points) != 1 || record.Points[0].X != 10 {
		t.Errorf("Unexpected record %+v", record)
	}
}
