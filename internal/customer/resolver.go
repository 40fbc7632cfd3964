package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrIdentityEmpty 身份五元组信息不足（除门店外全为空），入库前直接拒绝。
	ErrIdentityEmpty = errors.New("customer identity is empty")

	// ErrResolveConflict 唯一索引拒绝了插入、但重读又没查到记录。
	// 属于罕见的瞬态异常（例如胜者事务尚未提交），调用方可重试。
	ErrResolveConflict = errors.New("customer identity conflict could not be resolved")
)

// Identity 客户身份五元组。五个字段整体构成去重键。
type Identity struct {
	BranchID  string
	FullName  string
	Phone     string
	OrgName   string
	TaxNumber string
}

// Normalized 返回归一化后的副本：trim 全部字段，电话走 NormalizePhone。
// 所有入库/查询都必须先过这一步，保证比较键稳定。
func (id Identity) Normalized() Identity {
	return Identity{
		BranchID:  strings.TrimSpace(id.BranchID),
		FullName:  strings.TrimSpace(id.FullName),
		Phone:     NormalizePhone(id.Phone),
		OrgName:   strings.TrimSpace(id.OrgName),
		TaxNumber: strings.TrimSpace(id.TaxNumber),
	}
}

// Empty 判断除门店外是否没有任何可识别信息。
func (id Identity) Empty() bool {
	return id.FullName == "" && id.Phone == "" && id.OrgName == "" && id.TaxNumber == ""
}

// WalkInIdentity 为身份未知的到店客户生成确定性的占位身份。
// 占位姓名由调用方的稳定单据号派生：同一张单子重复提交不会裂成多个临时客户。
func WalkInIdentity(branchID, sourceRef string) Identity {
	return Identity{
		BranchID: strings.TrimSpace(branchID),
		FullName: "walk-in-" + strings.TrimSpace(sourceRef),
	}
}

// Service 封装客户档案的核心用例（不依赖 HTTP / gRPC），便于复用和测试。
type Service struct {
	repo *Repo
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

// ResolveOrCreate 解析或建档：
//  1. 归一化 + 校验，按五元组精确查找，命中即复用（不动回访字段）
//  2. 未命中则乐观插入（status=arrived、total_visits=1）
//  3. 插入撞到唯一索引说明并发建档输了，属正常竞争：重读胜者记录返回
//
// 不加任何应用层锁，唯一索引是并发下“只建一条”的唯一仲裁者。
// 返回的 bool 表示本次调用是否插入了新记录。
func (s *Service) ResolveOrCreate(ctx context.Context, in Identity) (*Customer, bool, error) {
	if s == nil || s.repo == nil {
		return nil, false, fmt.Errorf("service not initialized")
	}

	id := in.Normalized()
	if id.BranchID == "" {
		return nil, false, fmt.Errorf("branch_id required")
	}
	if id.Empty() {
		return nil, false, ErrIdentityEmpty
	}

	existing, err := s.repo.FindByIdentity(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	now := time.Now()
	c := &Customer{
		ID:          uuid.NewString(),
		BranchID:    id.BranchID,
		FullName:    id.FullName,
		Phone:       id.Phone,
		OrgName:     id.OrgName,
		TaxNumber:   id.TaxNumber,
		Status:      StatusArrived,
		ArrivalTime: now,
		LastVisitAt: now,
		TotalVisits: 1,
	}
	err = s.repo.Create(ctx, c)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}

	// 并发建档撞索引：重读胜者记录
	winner, rerr := s.repo.FindByIdentity(ctx, id)
	if rerr == nil {
		return winner, false, nil
	}
	if errors.Is(rerr, gorm.ErrRecordNotFound) {
		return nil, false, ErrResolveConflict
	}
	return nil, false, rerr
}

// RecordVisit 登记一次到店：total_visits + 1，last_visit_at = now。
// 每个完整业务流程（一张工单）只允许调用一次，幂等性由调用方的事务边界保证。
func (s *Service) RecordVisit(ctx context.Context, c *Customer, now time.Time) (*Customer, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if c == nil || c.ID == "" {
		return nil, fmt.Errorf("customer required")
	}
	if err := s.repo.IncrementVisit(ctx, c.ID, now); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, c.ID)
}

// UpdateStatus 按状态机规则流转客户到店状态。
func (s *Service) UpdateStatus(ctx context.Context, customerID string, to Status) (*Customer, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("customer_id required")
	}

	c, err := s.repo.FindByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := ApplyStatus(c, to); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
