package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"toolgate/internal/tools"
)

func fetchFrom(t *testing.T, srv *httptest.Server, args map[string]any) (string, error) {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	if _, ok := args["url"]; !ok {
		args["url"] = srv.URL
	}
	result, err := executeFetch(context.Background(), args, tools.ExecutionContext{})
	if err != nil {
		return "", err
	}
	s, ok := result.(string)
	if !ok {
		t.Fatalf("expected string result, got %T", result)
	}
	return s, nil
}

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>t</title><script>var x=1;</script></head>` +
			`<body><h1>Welcome</h1><p>Hello there.</p></body></html>`))
	}))
	defer srv.Close()

	text, err := fetchFrom(t, srv, nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !strings.Contains(text, "# Welcome") {
		t.Errorf("expected heading in output, got %q", text)
	}
	if !strings.Contains(text, "Hello there.") {
		t.Errorf("expected paragraph text in output, got %q", text)
	}
	if strings.Contains(text, "var x=1") {
		t.Errorf("script content leaked into output: %q", text)
	}
}

func TestFetchPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just plain text"))
	}))
	defer srv.Close()

	text, err := fetchFrom(t, srv, nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if text != "just plain text" {
		t.Errorf("expected passthrough, got %q", text)
	}
}

func TestFetchTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 200)))
	}))
	defer srv.Close()

	text, err := fetchFrom(t, srv, map[string]any{"max_length": float64(50)})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !strings.HasSuffix(text, "[...truncated...]") {
		t.Errorf("expected truncation marker, got %q", text)
	}
}

func TestFetchRejectsBadScheme(t *testing.T) {
	_, err := executeFetch(context.Background(),
		map[string]any{"url": "file:///etc/passwd"}, tools.ExecutionContext{})
	if err == nil {
		t.Fatal("expected error for file:// scheme")
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := fetchFrom(t, srv, nil); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestRegisterAll(t *testing.T) {
	reg := tools.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}
	if !reg.Has("web_fetch") {
		t.Error("web_fetch not registered")
	}
}
