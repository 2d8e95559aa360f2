// Команда loadtest гоняет сценарии заказов против запущенного OrderService
// и печатает латентность по каждому RPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

// Коды выхода.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

var errNoClients = errors.New("no grpc clients")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logger := log.New()
	logger.SetOutput(stderr)
	entry := logger.WithField("component", "loadtest")

	cfg, err := parseConfig(args, stderr)
	if err != nil {
		entry.WithError(err).Error("invalid config")
		return exitUsage
	}

	clients, closeAll, err := dial(cfg)
	if err != nil {
		entry.WithError(err).Error("failed to create grpc clients")
		return exitFailed
	}
	defer closeAll()

	startedAt := time.Now()
	r := &runner{cfg: cfg, clients: clients, stats: newRecorder()}
	if err := r.prepare(ctx, fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())); err != nil {
		entry.WithError(err).Error("failed to prepare fixtures")
		return exitFailed
	}

	r.run(ctx)
	result := r.stats.report(startedAt, time.Since(startedAt))

	printReport(stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			entry.WithError(err).Error("failed to write report")
			return exitFailed
		}
	}
	if result.FailedScenarios > 0 {
		return exitFailed
	}
	return exitOK
}

func dial(cfg config) ([]orderCaller, func(), error) {
	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	closeAll := func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}
	clients := make([]orderCaller, 0, cfg.connections)
	for range cfg.connections {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewOrderServiceClient(conn))
	}
	if len(clients) == 0 {
		return nil, nil, errNoClients
	}
	return clients, closeAll, nil
}
