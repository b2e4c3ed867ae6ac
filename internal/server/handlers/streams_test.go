package handlers

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/shelflife/internal/broadcast"
)

func TestProductStreamHandler(t *testing.T) {
	hub := broadcast.NewHub()
	r := chi.NewRouter()
	r.Get("/streams/products/{id}", ProductStreamHandler(hub))
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/streams/products/7")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); !strings.HasPrefix(line, ": connected") {
		t.Fatalf("expected connected comment, got %q", line)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount(broadcast.ProductTopic(7)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(broadcast.ProductTopic(8), broadcast.Message{Type: broadcast.MessageTypeProduct, Target: "other"})
	hub.Publish(broadcast.ProductTopic(7), broadcast.Message{Type: broadcast.MessageTypeProduct, Target: "product-data"})

	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = line
		}
	}
	if event != broadcast.MessageTypeProduct || !strings.Contains(data, "product-data") {
		t.Fatalf("unexpected event %q data %q", event, data)
	}
}

func TestStreamHandlerRejectsBadID(t *testing.T) {
	rec := serve(http.MethodGet, "/streams/libraries/{id}", LibraryStreamHandler(broadcast.NewHub()),
		httptest.NewRequest(http.MethodGet, "/streams/libraries/x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
