package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

// orderCaller — то, что нужно нагрузочному тесту от клиента OrderService.
type orderCaller interface {
	Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// fixtures — покупатель и товар, на которых гоняются сценарии.
type fixtures struct {
	memberID   string
	memberName string
	itemID     string
}

type runner struct {
	cfg     config
	clients []orderCaller
	stats   *recorder
	fx      fixtures
}

// call выполняет один RPC с таймаутом и записывает его под именем метода.
func (r *runner) call(ctx context.Context, client orderCaller, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Call(ctx, method, req)
	r.stats.observe(method, time.Since(start), status.Code(err))
	return resp, err
}

// idField достаёт обязательный строковый идентификатор из ответа.
func idField(resp *structpb.Struct, key, method string) (string, error) {
	id := resp.GetFields()[key].GetStringValue()
	if id == "" {
		return "", fmt.Errorf("%s returned empty %s", method, key)
	}
	return id, nil
}

// prepare заводит одного покупателя и один товар с большим остатком.
// Для сценариев только на чтение оформляется ещё заказ, чтобы ответы не были пустыми.
func (r *runner) prepare(ctx context.Context, runID string) error {
	client := r.clients[0]
	name := r.cfg.memberTag + "-" + runID

	resp, err := r.call(ctx, client, grpcsvc.MethodJoinMember, map[string]any{
		"username": name,
		"city":     "Seoul",
		"street":   "Load st. 1",
		"zipcode":  "00000",
	})
	if err != nil {
		return fmt.Errorf("join member: %w", err)
	}
	memberID, err := idField(resp, "member_id", grpcsvc.MethodJoinMember)
	if err != nil {
		return err
	}

	resp, err = r.call(ctx, client, grpcsvc.MethodAddItem, map[string]any{
		"name":           "load-item-" + runID,
		"price":          r.cfg.price,
		"stock_quantity": r.cfg.stock,
	})
	if err != nil {
		return fmt.Errorf("add item: %w", err)
	}
	itemID, err := idField(resp, "item_id", grpcsvc.MethodAddItem)
	if err != nil {
		return err
	}

	r.fx = fixtures{memberID: memberID, memberName: name, itemID: itemID}
	if r.cfg.mode.readsOnly() {
		if _, err := r.placeOrder(ctx, client); err != nil {
			return fmt.Errorf("seed order: %w", err)
		}
	}
	return nil
}

func (r *runner) placeOrder(ctx context.Context, client orderCaller) (string, error) {
	resp, err := r.call(ctx, client, grpcsvc.MethodPlaceOrder, map[string]any{
		"member_id": r.fx.memberID,
		"item_id":   r.fx.itemID,
		"count":     r.cfg.count,
	})
	if err != nil {
		return "", err
	}
	return idField(resp, "order_id", grpcsvc.MethodPlaceOrder)
}

// scenario прогоняет один сценарий и записывает его под scenarioKey с кодом первой ошибки.
// status.Code(nil) равен codes.OK.
func (r *runner) scenario(ctx context.Context, client orderCaller, index int) error {
	start := time.Now()
	err := r.steps(ctx, client, index)

	r.stats.observe(scenarioKey, time.Since(start), status.Code(err))
	return err
}

func (r *runner) steps(ctx context.Context, client orderCaller, index int) error {
	switch r.cfg.mode {
	case modeProjection:
		_, err := r.call(ctx, client, grpcsvc.MethodListOrderSummaries, map[string]any{
			"offset": 0,
			"limit":  r.cfg.pageLimit,
		})
		return err
	case modeSearch:
		_, err := r.call(ctx, client, grpcsvc.MethodSearchOrders, map[string]any{
			"member_name": r.fx.memberName,
		})
		return err
	}

	orderID, err := r.placeOrder(ctx, client)
	if err != nil {
		return err
	}
	if r.cfg.mode == modePlaceCancel || cancels(index, r.cfg.cancelRate) {
		_, err = r.call(ctx, client, grpcsvc.MethodCancelOrder, map[string]any{"order_id": orderID})
	}
	return err
}

// cancels отбирает cancelRate сценариев из каждой сотни подряд идущих индексов.
func cancels(index, cancelRate int) bool {
	return index%100 < cancelRate
}

// run раздаёт сценарии concurrency воркерам по кругу на clients.
// Ошибки сценариев не прерывают прогон: они попадают в отчёт.
func (r *runner) run(ctx context.Context) {
	if r.cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.concurrency)
	for index := 0; r.more(ctx, index); index++ {
		client := r.clients[index%len(r.clients)]
		g.Go(func() error {
			_ = r.scenario(context.WithoutCancel(ctx), client, index)
			return nil
		})
	}
	_ = g.Wait()
}

// more решает, запускать ли сценарий index: в режиме по счёту до total,
// в режиме по времени до истечения duration и не больше total, если он задан явно.
func (r *runner) more(ctx context.Context, index int) bool {
	if r.cfg.duration <= 0 {
		return index < r.cfg.total && ctx.Err() == nil
	}
	if r.cfg.totalSet && index >= r.cfg.total {
		return false
	}
	return ctx.Err() == nil
}
