package dashboard

import (
	"testing"

	"depthwatch/config"
	"depthwatch/logger"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	cfg := config.DashboardConfig{Enabled: true, Address: ":9000"}

	srv, err := NewServer(cfg, newFakeSource(), logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected dashboard server, got nil")
	}
	if got := srv.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9000")
	}
	srv.cleanup()
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false}, newFakeSource(), logger.Logger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server when disabled, got %v %v", srv, err)
	}
	if srv.Address() != "" {
		t.Fatalf("nil server must report empty address")
	}
}

func TestNewServerRequiresSource(t *testing.T) {
	if _, err := NewServer(config.DashboardConfig{Enabled: true}, nil, logger.Logger()); err == nil {
		t.Fatalf("expected error without a source")
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 100, false},
		{"20", 20, false},
		{"5000", 1000, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := parseLimit(tc.raw, 100)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("parseLimit(%q) = %d, %v", tc.raw, got, err)
		}
	}
}
