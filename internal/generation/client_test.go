package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGenerate_Success(t *testing.T) {
	var got ChatRequest
	var gotAuth, gotPath, gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"  Exercise helps.\n"}}]}`)
	}))
	defer srv.Close()

	c := NewClient("svc-key", srv.URL+"/", "google/gemini-2.5-flash", time.Second)
	out, err := c.Generate(context.Background(), "be concise", "Why exercise?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Output is returned verbatim.
	if out != "  Exercise helps.\n" {
		t.Errorf("out = %q", out)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer svc-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if got.Model != "google/gemini-2.5-flash" {
		t.Errorf("model = %q", got.Model)
	}
	want := []Message{{Role: "system", Content: "be concise"}, {Role: "user", Content: "Why exercise?"}}
	if len(got.Messages) != 2 || got.Messages[0] != want[0] || got.Messages[1] != want[1] {
		t.Errorf("messages = %+v, want %+v", got.Messages, want)
	}
}

func TestGenerate_Non2xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "m", time.Second)
	_, err := c.Generate(context.Background(), "s", "u")

	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if genErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d", genErr.Status)
	}
	if !strings.Contains(genErr.Detail, "rate limited") {
		t.Errorf("Detail = %q", genErr.Detail)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1 (no retries)", n)
	}
}

func TestGenerate_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [`)
	}))
	defer srv.Close()

	_, err := NewClient("k", srv.URL, "m", time.Second).Generate(context.Background(), "s", "u")
	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if genErr.Detail != "malformed response body" {
		t.Errorf("Detail = %q", genErr.Detail)
	}
}

func TestGenerate_MissingContent(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"id":"x","choices":[]}`},
		{"null message", `{"choices":[{"message":null}]}`},
		{"empty object", `{}`},
		{"content absent", `{"choices":[{"message":{"role":"assistant"}}]}`},
		{"content null", `{"choices":[{"message":{"role":"assistant","content":null}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			out, err := NewClient("k", srv.URL, "m", time.Second).Generate(context.Background(), "s", "u")
			var genErr *Error
			if !errors.As(err, &genErr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if out != "" {
				t.Errorf("out = %q, want empty", out)
			}
			if genErr.Status != http.StatusOK {
				t.Errorf("Status = %d, want 200", genErr.Status)
			}
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient("k", srv.URL, "m", 50*time.Millisecond)
	start := time.Now()
	_, err := c.Generate(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Generate took %v, timeout not applied", elapsed)
	}
}

func TestGenerate_CallerCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient("k", srv.URL, "m", time.Second).Generate(ctx, "s", "u")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient("k", "http://localhost", "m", 0)
	if c.timeout != defaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, defaultTimeout)
	}
	if c.Model() != "m" {
		t.Errorf("Model() = %q", c.Model())
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Status: 500, Detail: "boom"}, "generation failed (HTTP 500): boom"},
		{&Error{Status: 502}, "generation failed (HTTP 502)"},
		{&Error{Err: errors.New("dial tcp")}, "generation failed: dial tcp"},
		{&Error{Detail: "x"}, "generation failed: x"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
