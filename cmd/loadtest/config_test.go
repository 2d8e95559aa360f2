package main

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	for _, mode := range loadModes {
		got, err := parseMode(" " + string(mode) + " ")
		if err != nil {
			t.Fatalf("parse %s: %v", mode, err)
		}
		if got != mode {
			t.Fatalf("expected %s, got %s", mode, got)
		}
	}

	if _, err := parseMode("create"); err == nil || !strings.Contains(err.Error(), "unsupported mode") {
		t.Fatalf("expected unsupported mode error, got %v", err)
	}

	if !modeSearch.readsOnly() || !modeProjection.readsOnly() {
		t.Error("search and projection modes must be read-only")
	}
	if modePlaceCancel.readsOnly() {
		t.Error("place-cancel mode writes orders")
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		cfg, err := parseConfig([]string{
			"-addr=127.0.0.1:50051",
			"-mode=place",
			"-total=12",
			"-concurrency=3",
			"-connections=2",
			"-timeout=2s",
			"-cancel-rate=10",
			"-price=99",
			"-count=2",
			"-stock=500",
			"-page-limit=20",
			"-member-tag= stage ",
			"-output=out.json",
		}, io.Discard)
		if err != nil {
			t.Fatalf("parse config: %v", err)
		}

		want := config{
			addr:        "127.0.0.1:50051",
			total:       12,
			totalSet:    true,
			concurrency: 3,
			connections: 2,
			timeout:     2 * time.Second,
			mode:        modePlace,
			cancelRate:  10,
			price:       99,
			count:       2,
			stock:       500,
			pageLimit:   20,
			memberTag:   "stage",
			outputPath:  "out.json",
		}
		if cfg != want {
			t.Fatalf("expected %+v, got %+v", want, cfg)
		}
		if cfg.target() != "count:12" {
			t.Fatalf("expected target count:12, got %s", cfg.target())
		}
	})

	t.Run("duration mode keeps defaults", func(t *testing.T) {
		cfg, err := parseConfig([]string{"-duration=3s", "-mode=search"}, io.Discard)
		if err != nil {
			t.Fatalf("parse config: %v", err)
		}
		if cfg.duration != 3*time.Second || cfg.totalSet {
			t.Fatalf("expected 3s duration without total, got %+v", cfg)
		}
		if cfg.price != 10_000 || cfg.stock != 1_000_000 {
			t.Fatalf("expected default price and stock, got %d/%d", cfg.price, cfg.stock)
		}
		if cfg.target() != "duration:3s" {
			t.Fatalf("expected target duration:3s, got %s", cfg.target())
		}
	})

	t.Run("duration with cap", func(t *testing.T) {
		cfg, err := parseConfig([]string{"-duration=2s", "-total=10"}, io.Discard)
		if err != nil {
			t.Fatalf("parse config: %v", err)
		}
		if got := cfg.target(); got != "duration:2s,max-total:10" {
			t.Fatalf("unexpected target %s", got)
		}
	})

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"invalid duration", []string{"-duration=bad"}, "invalid value"},
		{"negative duration", []string{"-duration=-1s"}, "duration must be >= 0"},
		{"cancel rate over 100", []string{"-cancel-rate=101"}, "cancel-rate must be between 0 and 100"},
		{"empty total", []string{"-total=0"}, "total must be > 0 when duration is not set"},
		{"zero total with duration", []string{"-duration=1s", "-total=0"}, "explicitly set with duration"},
		{"zero concurrency", []string{"-concurrency=0"}, "concurrency must be > 0"},
		{"zero connections", []string{"-connections=0"}, "connections must be > 0"},
		{"zero timeout", []string{"-timeout=0s"}, "timeout must be > 0"},
		{"zero price", []string{"-price=0"}, "price must be > 0"},
		{"zero count", []string{"-count=0"}, "count must be > 0"},
		{"zero stock", []string{"-stock=0"}, "stock must be > 0"},
		{"zero page limit", []string{"-page-limit=0"}, "page-limit must be > 0"},
		{"blank member tag", []string{"-member-tag= "}, "member-tag is required"},
		{"bad mode", []string{"-mode=create"}, "unsupported mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, io.Discard)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
