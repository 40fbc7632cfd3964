package vehicle

import (
	"context"
	"fmt"
	"testing"

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
	if err := db.AutoMigrate(&Vehicle{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestResolveOrCreatePlateLess(t *testing.T) {
	db := newTestDB(t, "veh_noplate")
	svc := NewService(NewRepo(db))

	v, err := svc.ResolveOrCreate(context.Background(), "cust-1", "   ", Attrs{Make: "BYD"})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if v != nil {
		t.Fatalf("plate-less flow must not synthesize a vehicle, got %+v", v)
	}

	var total int64
	if err := db.Model(&Vehicle{}).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no rows, got %d", total)
	}
}

func TestResolveOrCreateFillNotOverwrite(t *testing.T) {
	svc := NewService(NewRepo(newTestDB(t, "veh_merge")))
	ctx := context.Background()

	first, err := svc.ResolveOrCreate(ctx, "cust-1", "京A12345", Attrs{Make: "BYD"})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if first.Make != "BYD" || first.Model != "" {
		t.Fatalf("unexpected initial record: %+v", first)
	}

	// 先写先得：已有 Make 不被覆盖，空 Model 被补上
	second, err := svc.ResolveOrCreate(ctx, "cust-1", "京A12345", Attrs{Make: "Tesla", Model: "汉", Year: 2024})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected reuse of existing vehicle")
	}
	if second.Make != "BYD" {
		t.Fatalf("populated make must not be overwritten, got %q", second.Make)
	}
	if second.Model != "汉" || second.Year != 2024 {
		t.Fatalf("empty fields must be filled, got model=%q year=%d", second.Model, second.Year)
	}
}

func TestResolveOrCreateScopedByCustomer(t *testing.T) {
	db := newTestDB(t, "veh_scope")
	svc := NewService(NewRepo(db))
	ctx := context.Background()

	a, err := svc.ResolveOrCreate(ctx, "cust-1", "京A12345", Attrs{})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	// 同一块牌照、不同客户 → 独立记录
	b, err := svc.ResolveOrCreate(ctx, "cust-2", "京A12345", Attrs{})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct vehicles per customer")
	}

	var total int64
	if err := db.Model(&Vehicle{}).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 rows, got %d", total)
	}
}
