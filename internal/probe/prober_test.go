package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vscan/internal/utils"
)

func TestIsMediaType(t *testing.T) {
	cases := map[string]bool{
		"video/mp4":                     true,
		"audio/mpeg":                    true,
		"video/webm; codecs=vp9":        true,
		"application/vnd.apple.mpegurl": true,
		"application/dash+xml":          true,
		"text/html; charset=utf-8":      false,
		"":                              false,
	}
	for in, want := range cases {
		if got := IsMediaType(in); got != want {
			t.Errorf("IsMediaType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHTTPProber(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	})
	mux.HandleFunc("/missing.mp4", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/nohead.mp4", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Range") != "bytes=0-0" {
			t.Errorf("expected ranged GET, got Range=%q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusPartialContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTPProber(2*time.Second, true)
	ctx := context.Background()

	if err := p.Probe(ctx, srv.URL+"/ok.mp4"); err != nil {
		t.Fatalf("expected playable media, got %v", err)
	}
	if err := p.Probe(ctx, srv.URL+"/nohead.mp4"); err != nil {
		t.Fatalf("expected GET fallback to succeed, got %v", err)
	}
	for _, path := range []string{"/page", "/missing.mp4"} {
		if err := p.Probe(ctx, srv.URL+path); !errors.Is(err, utils.ErrMediaLoad) {
			t.Fatalf("%s: expected ErrMediaLoad, got %v", path, err)
		}
	}
	if err := p.Probe(ctx, "http://127.0.0.1:1/unreachable.mp4"); !errors.Is(err, utils.ErrMediaLoad) {
		t.Fatalf("expected ErrMediaLoad for unreachable host, got %v", err)
	}
	if err := p.Probe(ctx, "clip.mp4"); !errors.Is(err, utils.ErrMediaLoad) {
		t.Fatalf("expected ErrMediaLoad for relative url, got %v", err)
	}
}

func TestHTTPProber_RejectsPrivateAddresses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "video/mp4")
	}))
	defer srv.Close()

	p := NewHTTPProber(2*time.Second, false)
	ctx := context.Background()

	for _, target := range []string{srv.URL + "/ok.mp4", "http://localhost:1/a.mp4", "http://169.254.169.254/latest/meta-data"} {
		err := p.Probe(ctx, target)
		if !errors.Is(err, utils.ErrMediaLoad) {
			t.Fatalf("%s: expected ErrMediaLoad, got %v", target, err)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("loopback server received %d requests", n)
	}

	if err := p.Probe(ctx, "file:///etc/passwd"); !errors.Is(err, utils.ErrMediaLoad) {
		t.Fatalf("expected ErrMediaLoad for file scheme, got %v", err)
	}
}

func TestHTTPProber_RedirectLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/loop.mp4", http.StatusFound)
	}))
	defer srv.Close()

	p := NewHTTPProber(2*time.Second, true)
	if err := p.Probe(context.Background(), srv.URL+"/loop.mp4"); !errors.Is(err, utils.ErrMediaLoad) {
		t.Fatalf("expected ErrMediaLoad, got %v", err)
	}
	if n := hits.Load(); n != maxRedirects {
		t.Fatalf("expected %d requests, got %d", maxRedirects, n)
	}
}

func TestIsBlockedIP(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":       true,
		"::1":             true,
		"10.1.2.3":        true,
		"172.16.0.1":      true,
		"192.168.1.1":     true,
		"169.254.169.254": true,
		"100.64.0.1":      true,
		"0.0.0.0":         true,
		"fd00::1":         true,
		"93.184.216.34":   false,
		"2606:4700::1111": false,
	}
	for in, want := range cases {
		if got := IsBlockedIP(net.ParseIP(in)); got != want {
			t.Errorf("IsBlockedIP(%s) = %v, want %v", in, got, want)
		}
	}
}
