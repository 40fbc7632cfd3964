package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/SmartGarageLink/SmartGarageLink/internal/customer"
	"github.com/SmartGarageLink/SmartGarageLink/internal/order"
	"github.com/SmartGarageLink/SmartGarageLink/internal/vehicle"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&customer.Customer{}, &vehicle.Vehicle{}, &order.Order{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func janeDoe() customer.Identity {
	return customer.Identity{BranchID: "1", FullName: "Jane Doe", Phone: "555-0100"}
}

func TestCreateCompleteFlowEndToEnd(t *testing.T) {
	db := newTestDB(t, "flow_e2e")
	svc := NewService(db)
	ctx := context.Background()

	// 同一个客户先后从发票采集和工单录入两个入口进来
	first, err := svc.CreateCompleteFlow(ctx, Input{
		Customer: janeDoe(),
		Vehicle:  &VehicleInput{Plate: "京A12345", Attrs: vehicle.Attrs{Make: "BYD"}},
		Order:    OrderInput{Type: order.TypeService, Channel: order.ChannelInvoice},
	})
	if err != nil {
		t.Fatalf("first flow: %v", err)
	}
	if !first.CreatedCustomer {
		t.Fatalf("expected first flow to create the customer")
	}
	if first.Customer.TotalVisits != 1 {
		t.Fatalf("expected total_visits=1 after first flow, got %d", first.Customer.TotalVisits)
	}
	if first.Vehicle == nil || first.Order.VehicleID != first.Vehicle.ID {
		t.Fatalf("order must reference the resolved vehicle")
	}

	second, err := svc.CreateCompleteFlow(ctx, Input{
		Customer: janeDoe(),
		Order:    OrderInput{Type: order.TypeSales, Channel: order.ChannelIntake},
	})
	if err != nil {
		t.Fatalf("second flow: %v", err)
	}
	if second.CreatedCustomer {
		t.Fatalf("expected second flow to reuse the customer")
	}
	if second.Customer.ID != first.Customer.ID {
		t.Fatalf("expected one canonical customer")
	}
	if second.Customer.TotalVisits != 2 {
		t.Fatalf("expected total_visits=2 after both interactions, got %d", second.Customer.TotalVisits)
	}

	var orderCount int64
	if err := db.Model(&order.Order{}).Where("customer_id = ?", first.Customer.ID).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 2 {
		t.Fatalf("expected 2 orders for the customer, got %d", orderCount)
	}
	var customerCount int64
	if err := db.Model(&customer.Customer{}).Count(&customerCount).Error; err != nil {
		t.Fatalf("count customers: %v", err)
	}
	if customerCount != 1 {
		t.Fatalf("expected 1 customer row, got %d", customerCount)
	}
}

func TestCreateCompleteFlowPlateLess(t *testing.T) {
	db := newTestDB(t, "flow_noveh")
	svc := NewService(db)

	res, err := svc.CreateCompleteFlow(context.Background(), Input{
		Customer: janeDoe(),
		Vehicle:  &VehicleInput{Plate: ""},
		Order:    OrderInput{Type: order.TypeInquiry, Channel: order.ChannelQuickCreate},
	})
	if err != nil {
		t.Fatalf("flow: %v", err)
	}
	if res.Vehicle != nil {
		t.Fatalf("plate-less flow must not create a vehicle")
	}
	if res.Order.VehicleID != "" {
		t.Fatalf("order must not reference a vehicle")
	}

	var total int64
	if err := db.Model(&vehicle.Vehicle{}).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no vehicle rows, got %d", total)
	}
}

func TestCreateCompleteFlowValidatesBeforeStore(t *testing.T) {
	db := newTestDB(t, "flow_valid")
	svc := NewService(db)
	ctx := context.Background()

	if _, err := svc.CreateCompleteFlow(ctx, Input{
		Customer: customer.Identity{BranchID: "1"},
		Order:    OrderInput{Type: order.TypeService},
	}); err == nil {
		t.Fatalf("expected empty identity to be rejected")
	}

	if _, err := svc.CreateCompleteFlow(ctx, Input{
		Customer: janeDoe(),
		Order:    OrderInput{Type: "banquet"},
	}); err == nil {
		t.Fatalf("expected unknown order type to be rejected")
	}

	var total int64
	if err := db.Model(&customer.Customer{}).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("validation failures must not touch the store, got %d rows", total)
	}
}

func TestCreateCompleteFlowAtomicRollback(t *testing.T) {
	db := newTestDB(t, "flow_rollback")
	svc := NewService(db)
	ctx := context.Background()

	// 占住幂等键，让后续流程在建工单一步失败
	if _, err := svc.CreateCompleteFlow(ctx, Input{
		Customer: janeDoe(),
		Order:    OrderInput{ID: "job-001", Type: order.TypeService, Channel: order.ChannelDocument},
	}); err != nil {
		t.Fatalf("seed flow: %v", err)
	}

	other := customer.Identity{BranchID: "1", FullName: "李雷", Phone: "13800138000"}
	_, err := svc.CreateCompleteFlow(ctx, Input{
		Customer: other,
		Vehicle:  &VehicleInput{Plate: "沪B67890"},
		Order:    OrderInput{ID: "job-001", Type: order.TypeService, Channel: order.ChannelWizard},
	})
	if err == nil {
		t.Fatalf("expected duplicate order id to fail the flow")
	}

	// 回滚后重新解析同一身份必须重新建档
	res, err := svc.CreateCompleteFlow(ctx, Input{
		Customer: other,
		Order:    OrderInput{Type: order.TypeService},
	})
	if err != nil {
		t.Fatalf("retry flow: %v", err)
	}
	if !res.CreatedCustomer {
		t.Fatalf("rollback must leave no customer behind (created=false means a row survived)")
	}

	var vehCount int64
	if err := db.Model(&vehicle.Vehicle{}).Count(&vehCount).Error; err != nil {
		t.Fatalf("count vehicles: %v", err)
	}
	if vehCount != 0 {
		t.Fatalf("rollback must leave no vehicle behind, got %d", vehCount)
	}
}

func TestCreateCompleteFlowConcurrent(t *testing.T) {
	db := newTestDB(t, "flow_race")
	svc := NewService(db)
	ctx := context.Background()

	// 同一身份同时从多个入口进来：事务内输掉建档竞争的流程
	// 必须靠补读拿到对方已提交的行并继续，而不是把冲突漏给调用方
	const k = 8
	results := make(chan *Result, k)
	errs := make(chan error, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.CreateCompleteFlow(ctx, Input{
				Customer: janeDoe(),
				Order:    OrderInput{Type: order.TypeService, Channel: order.ChannelIntake},
			})
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("racing flow must not fail: %v", err)
	}
	createdCount := 0
	for res := range results {
		if res.CreatedCustomer {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Fatalf("expected exactly 1 flow to create the customer, got %d", createdCount)
	}

	var customerCount int64
	if err := db.Model(&customer.Customer{}).Count(&customerCount).Error; err != nil {
		t.Fatalf("count customers: %v", err)
	}
	if customerCount != 1 {
		t.Fatalf("expected 1 customer row, got %d", customerCount)
	}

	var c customer.Customer
	if err := db.First(&c).Error; err != nil {
		t.Fatalf("load customer: %v", err)
	}
	if c.TotalVisits != k {
		t.Fatalf("expected total_visits=%d after %d flows, got %d", k, k, c.TotalVisits)
	}
}

func TestCreateCompleteFlowCanceledContext(t *testing.T) {
	db := newTestDB(t, "flow_cancel")
	svc := NewService(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.CreateCompleteFlow(ctx, Input{
		Customer: janeDoe(),
		Order:    OrderInput{Type: order.TypeService},
	}); err == nil {
		t.Fatalf("expected canceled context to fail the flow")
	}

	var total int64
	if err := db.Model(&customer.Customer{}).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("cancellation before commit must leave nothing behind, got %d rows", total)
	}
}
