package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

type loadMode string

const (
	modePlace       loadMode = "place"
	modePlaceCancel loadMode = "place-cancel"
	modeProjection  loadMode = "projection"
	modeSearch      loadMode = "search"
)

var loadModes = []loadMode{modePlace, modePlaceCancel, modeProjection, modeSearch}

func parseMode(value string) (loadMode, error) {
	value = strings.TrimSpace(value)
	for _, mode := range loadModes {
		if string(mode) == value {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unsupported mode: %s", value)
}

// readsOnly сообщает, что сценарий не меняет остатки и заказы.
func (m loadMode) readsOnly() bool {
	return m == modeProjection || m == modeSearch
}

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	price       int64
	count       int
	stock       int
	pageLimit   int
	memberTag   string
	outputPath  string
}

// target описывает, когда прогон заканчивается: по числу сценариев, по времени или по тому, что наступит раньше.
func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return fmt.Sprintf("duration:%s", c.duration)
	}
}

func parseConfig(args []string, stderr io.Writer) (config, error) {
	cfg := config{}
	var mode string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "OrderService gRPC address")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration acts as an upper bound")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of a fixed count, e.g. 10m")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "scenarios in flight")
	fs.IntVar(&cfg.connections, "connections", 20, "gRPC client connections shared by workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&mode, "mode", string(modePlace), "scenario: place | place-cancel | projection | search")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of place scenarios followed by a cancel (0..100)")
	fs.Int64Var(&cfg.price, "price", 10_000, "price of the fixture item")
	fs.IntVar(&cfg.count, "count", 1, "units ordered per scenario")
	fs.IntVar(&cfg.stock, "stock", 1_000_000, "initial stock of the fixture item")
	fs.IntVar(&cfg.pageLimit, "page-limit", 100, "page size for projection mode")
	fs.StringVar(&cfg.memberTag, "member-tag", "load", "username prefix of the fixture member")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		cfg.totalSet = cfg.totalSet || f.Name == "total"
	})

	var err error
	if cfg.mode, err = parseMode(mode); err != nil {
		return config{}, err
	}
	cfg.memberTag = strings.TrimSpace(cfg.memberTag)
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.duration >= 0, "duration must be >= 0"},
		{c.duration > 0 || c.total > 0, "total must be > 0 when duration is not set"},
		{!(c.duration > 0 && c.totalSet) || c.total > 0, "total must be > 0 when explicitly set with duration"},
		{c.concurrency > 0, "concurrency must be > 0"},
		{c.connections > 0, "connections must be > 0"},
		{c.timeout > 0, "timeout must be > 0"},
		{c.price > 0, "price must be > 0"},
		{c.count > 0, "count must be > 0"},
		{c.stock > 0, "stock must be > 0"},
		{c.pageLimit > 0, "page-limit must be > 0"},
		{c.cancelRate >= 0 && c.cancelRate <= 100, "cancel-rate must be between 0 and 100"},
		{c.memberTag != "", "member-tag is required"},
	}
	for _, check := range checks {
		if !check.ok {
			return errors.New(check.msg)
		}
	}
	return nil
}
