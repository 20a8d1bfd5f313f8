package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDispatcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.Header.Get("X-Test"); got != "abc123" {
			t.Errorf("expected X-Test header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	d := NewDispatcher()
	result, err := d.Do(context.Background(), Request{
		Method:  http.MethodGet,
		URL:     srv.URL + "/todos/1",
		Headers: map[string]string{"X-Test": "abc123", "Content-Type": "application/json"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected 2xx, got %d", result.StatusCode)
	}
	if string(result.Body) != `{"id":1}` {
		t.Fatalf("unexpected body: %s", result.Body)
	}
	if result.Headers.Get("Content-Type") != "application/json" {
		t.Fatalf("expected response headers captured, got %v", result.Headers)
	}
	if result.Duration <= 0 {
		t.Fatalf("expected positive duration, got %s", result.Duration)
	}
}

func TestDispatcher_Non2xxIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher()
	result, err := d.Do(context.Background(), Request{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("expected no transport error, got %v", err)
	}
	if result.OK() {
		t.Fatalf("expected OK()=false for status %d", result.StatusCode)
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", result.StatusCode)
	}
}

func TestDispatcher_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewDispatcher()
	result, err := d.Do(context.Background(), Request{URL: url, Timeout: 2 * time.Second})
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if result.StatusCode != 0 {
		t.Fatalf("expected zero status, got %d", result.StatusCode)
	}
}

func TestDispatcher_TimeoutIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewDispatcher()
	start := time.Now()
	_, err := d.Do(context.Background(), Request{URL: srv.URL, Timeout: time.Millisecond})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if waited := time.Since(start); waited > 400*time.Millisecond {
		t.Fatalf("expected attempt bounded by timeout, waited %s", waited)
	}
}

func TestDispatcher_ForwardsBodyForPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if string(data) != `{"title":"hello"}` {
			t.Errorf("unexpected upstream body: %s", data)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := NewDispatcher()
	result, err := d.Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Body:    []byte(`{"title":"hello"}`),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if result.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", result.StatusCode)
	}
}

func TestDispatcher_DropsBodyForGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if len(data) != 0 {
			t.Errorf("expected empty body for GET, got %s", data)
		}
	}))
	defer srv.Close()

	d := NewDispatcher()
	if _, err := d.Do(context.Background(), Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Body:    []byte(`ignored`),
		Timeout: 5 * time.Second,
	}); err != nil {
		t.Fatalf("do: %v", err)
	}
}

func TestDispatcher_DefaultsMethodToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET default, got %s", r.Method)
		}
	}))
	defer srv.Close()

	d := NewDispatcher()
	if _, err := d.Do(context.Background(), Request{URL: srv.URL, Timeout: 5 * time.Second}); err != nil {
		t.Fatalf("do: %v", err)
	}
}
