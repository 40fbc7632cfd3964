package vehicle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrResolveConflict 唯一索引拒绝了插入、但重读又没查到记录（瞬态异常）。
var ErrResolveConflict = errors.New("vehicle conflict could not be resolved")

// Attrs 车辆的可补录描述字段。
type Attrs struct {
	VIN   string
	Make  string
	Model string
	Year  int
}

func (a Attrs) normalized() Attrs {
	return Attrs{
		VIN:   strings.TrimSpace(a.VIN),
		Make:  strings.TrimSpace(a.Make),
		Model: strings.TrimSpace(a.Model),
		Year:  a.Year,
	}
}

type Service struct {
	repo *Repo
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

// ResolveOrCreate 查找或建档一辆车：
//   - 牌照为空是合法的无车流程，直接返回 nil，不造占位记录
//   - 命中 (customer, plate) 时按“只填空”策略合并描述字段（先写先得，
//     已有非空值永不被覆盖）
//   - 未命中则建档；并发建档撞唯一索引时重读胜者并照常合并
func (s *Service) ResolveOrCreate(ctx context.Context, customerID, plate string, attrs Attrs) (*Vehicle, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}

	plate = strings.TrimSpace(strings.ToUpper(plate))
	if plate == "" {
		return nil, nil
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("customer_id required")
	}
	attrs = attrs.normalized()

	existing, err := s.repo.FindByCustomerPlate(ctx, customerID, plate)
	if err == nil {
		return s.mergeMissing(ctx, existing, attrs)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	v := &Vehicle{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		PlateNumber: plate,
		VIN:         attrs.VIN,
		Make:        attrs.Make,
		Model:       attrs.Model,
		Year:        attrs.Year,
	}
	err = s.repo.Create(ctx, v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}

	// 并发建档撞索引：重读胜者记录再走合并
	winner, rerr := s.repo.FindByCustomerPlate(ctx, customerID, plate)
	if rerr == nil {
		return s.mergeMissing(ctx, winner, attrs)
	}
	if errors.Is(rerr, gorm.ErrRecordNotFound) {
		return nil, ErrResolveConflict
	}
	return nil, rerr
}

// mergeMissing 只补空字段，有值字段保持不变；没有任何变化时不发 UPDATE。
func (s *Service) mergeMissing(ctx context.Context, v *Vehicle, attrs Attrs) (*Vehicle, error) {
	changed := false
	if v.VIN == "" && attrs.VIN != "" {
		v.VIN = attrs.VIN
		changed = true
	}
	if v.Make == "" && attrs.Make != "" {
		v.Make = attrs.Make
		changed = true
	}
	if v.Model == "" && attrs.Model != "" {
		v.Model = attrs.Model
		changed = true
	}
	if v.Year == 0 && attrs.Year != 0 {
		v.Year = attrs.Year
		changed = true
	}
	if !changed {
		return v, nil
	}
	if err := s.repo.Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}
