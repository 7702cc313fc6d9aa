package trace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reqforge/reqforge/internal/model"
)

func TestHTTPSink_Emit(t *testing.T) {
	received := make(chan Payload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer trace-key" {
			t.Errorf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type: %q", r.Header.Get("Content-Type"))
		}

		var payload Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "trace-key", nil)
	if !sink.Available() {
		t.Fatal("sink with endpoint must be available")
	}

	sink.Emit(context.Background(), Payload{TraceID: "t-1", Step: "finalize", Status: "ok"})

	payload := <-received
	if payload.TraceID != "t-1" || payload.Status != "ok" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestHTTPSink_SwallowsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "", nil)

	// Must not panic or propagate anything.
	sink.Emit(context.Background(), Payload{TraceID: "t-1"})
}

func TestHTTPSink_SwallowsConnectionErrors(t *testing.T) {
	sink := NewHTTPSink("http://127.0.0.1:1", "", nil)
	sink.Emit(context.Background(), Payload{TraceID: "t-1"})
}

func TestNewSink_Resolution(t *testing.T) {
	if sink := NewSink(model.TraceConfig{}, nil); sink.Available() {
		t.Error("empty endpoint must resolve to the no-op sink")
	}
	if sink := NewSink(model.TraceConfig{Endpoint: "http://example.com"}, nil); !sink.Available() {
		t.Error("configured endpoint must resolve to an available sink")
	}
}
