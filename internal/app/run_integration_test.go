package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.StorageDriver = StorageDriverMemory

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRun_ListenError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "256.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected listen error for invalid grpc address")
	}
}

func TestRun_ServesOrderFlow(t *testing.T) {
	addr := fmt.Sprintf("127.0.0.1:%d", findFreePort(t))

	cfg := DefaultConfig()
	cfg.GRPCAddr = addr
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()
	defer func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled on shutdown, got %v", err)
		}
	}()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc client: %v", err)
	}
	defer func() { _ = conn.Close() }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	waitServing(t, callCtx, healthpb.NewHealthClient(conn))

	client := grpcsvc.NewOrderServiceClient(conn)
	member := mustCall(t, callCtx, client, grpcsvc.MethodJoinMember, map[string]any{
		"username": "kim",
		"city":     "Seoul",
		"street":   "Main",
		"zipcode":  "01000",
	})
	item := mustCall(t, callCtx, client, grpcsvc.MethodAddItem, map[string]any{
		"name":           "JPA book",
		"price":          10000,
		"stock_quantity": 10,
	})
	order := mustCall(t, callCtx, client, grpcsvc.MethodPlaceOrder, map[string]any{
		"member_id": member.Fields["member_id"].GetStringValue(),
		"item_id":   item.Fields["item_id"].GetStringValue(),
		"count":     2,
	})
	if order.Fields["order_id"].GetStringValue() == "" {
		t.Fatalf("expected order_id in response, got %v", order)
	}

	summaries := mustCall(t, callCtx, client, grpcsvc.MethodListOrderSummaries, map[string]any{})
	if n := len(summaries.Fields["orders"].GetListValue().GetValues()); n != 1 {
		t.Fatalf("expected 1 order summary, got %d", n)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	if deps.closeFn != nil {
		defer func() { _ = deps.closeFn() }()
	}

	if deps.uow == nil || deps.queries == nil || deps.repos.Orders == nil || deps.repos.Outbox == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if deps.storageChecker == nil {
		t.Fatal("expected non-nil storage checker for postgres")
	}
	check := deps.storageChecker.Check()
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestCloseKafka_NonNil(t *testing.T) {
	producer, err := kafka.NewProducer([]string{"localhost:9092"})
	if err != nil {
		t.Skipf("kafka is not available for integration test: %v", err)
	}
	closeKafka(producer, log.WithField("test", "kafka-close"))
}

func mustCall(t *testing.T, ctx context.Context, client *grpcsvc.OrderServiceClient, method string, fields map[string]any) *structpb.Struct {
	t.Helper()

	req, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build %s request: %v", method, err)
	}
	resp, err := client.Call(ctx, method, req)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return resp
}

func waitServing(t *testing.T, ctx context.Context, client healthpb.HealthClient) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server is not serving: status=%v err=%v", resp.GetStatus(), err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("SHOP_POSTGRES_TEST_DSN"))
}
