package customer

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) withCtx(ctx context.Context) *gorm.DB {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.WithContext(ctx)
}

func (r *Repo) Create(ctx context.Context, c *Customer) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(c).Error
}

// FindByIdentity 按身份五元组做精确等值查询。
// 唯一索引保证最多一条命中，这里不做二次校验。
func (r *Repo) FindByIdentity(ctx context.Context, id Identity) (*Customer, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var c Customer
	err := db.Where(
		"branch_id = ? AND full_name = ? AND phone = ? AND org_name = ? AND tax_number = ?",
		id.BranchID, id.FullName, id.Phone, id.OrgName, id.TaxNumber,
	).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) FindByID(ctx context.Context, id string) (*Customer, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var c Customer
	if err := db.Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) Update(ctx context.Context, c *Customer) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Save(c).Error
}

// IncrementVisit 用 SQL 表达式原地自增，避免读-改-写在并发提交下丢更新。
func (r *Repo) IncrementVisit(ctx context.Context, id string, now time.Time) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	res := db.Model(&Customer{}).Where("id = ?", id).Updates(map[string]interface{}{
		"total_visits":  gorm.Expr("total_visits + ?", 1),
		"last_visit_at": now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// List 按门店过滤 + 分页。
func (r *Repo) List(ctx context.Context, branchID string, offset, limit int) ([]Customer, int64, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, 0, fmt.Errorf("repo db is nil")
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	q := db.Model(&Customer{})
	if branchID != "" {
		q = q.Where("branch_id = ?", branchID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var customers []Customer
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&customers).Error; err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}
