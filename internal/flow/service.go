package flow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/SmartGarageLink/SmartGarageLink/internal/customer"
	"github.com/SmartGarageLink/SmartGarageLink/internal/order"
	"github.com/SmartGarageLink/SmartGarageLink/internal/vehicle"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VehicleInput 车辆解析入参。Plate 为空表示无车流程。
type VehicleInput struct {
	Plate string
	Attrs vehicle.Attrs
}

// OrderInput 工单创建入参。
type OrderInput struct {
	ID        string // 可选：调用方幂等键，留空则生成 uuid
	Type      order.Type
	Channel   string
	SourceRef string
	Remark    string
}

// Input 一次完整录入流程的入参。
type Input struct {
	Customer customer.Identity
	Vehicle  *VehicleInput
	Order    OrderInput
}

// Result 流程结果。Vehicle 在无车流程下为 nil。
type Result struct {
	Customer        *customer.Customer
	Vehicle         *vehicle.Vehicle
	Order           *order.Order
	CreatedCustomer bool
}

// Service 把“解析客户 → 解析车辆 → 建工单 → 登记到店”绑成一个事务单元。
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CreateCompleteFlow 在单个数据库事务里执行完整录入流程。
// 任一步失败整体回滚：调用方看到错误时可以认定什么都没落库。
//
// 纯校验放在事务外，校验失败不触碰存储。
// 到店登记每个流程只做一次：建档本身就是第一次到店（total_visits=1），
// 只有复用已有客户时才需要追加一次到店。
func (s *Service) CreateCompleteFlow(ctx context.Context, in Input) (*Result, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("service not initialized")
	}

	ident := in.Customer.Normalized()
	if ident.BranchID == "" {
		return nil, fmt.Errorf("branch_id required")
	}
	if ident.Empty() {
		return nil, customer.ErrIdentityEmpty
	}
	if !in.Order.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", order.ErrUnknownType, in.Order.Type)
	}

	// 事务必须跑在 READ COMMITTED：
	// 输掉建档竞争后的补读要能看到对方已提交的行。
	// MySQL 默认的 REPEATABLE READ 会把读视图钉在第一条 SELECT，
	// 补读命中不了新行，瞬态冲突就会漏给调用方。
	// sqlite 事务本身就是串行化的且不认这个隔离级别，跳过。
	var txOpts []*sql.TxOptions
	if s.db.Dialector.Name() != "sqlite" {
		txOpts = append(txOpts, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	}

	var res Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customers := customer.NewService(customer.NewRepo(tx))
		vehicles := vehicle.NewService(vehicle.NewRepo(tx))
		orders := order.NewRepo(tx)

		c, created, err := customers.ResolveOrCreate(ctx, ident)
		if err != nil {
			return fmt.Errorf("resolve customer: %w", err)
		}
		res.Customer = c
		res.CreatedCustomer = created

		if in.Vehicle != nil {
			v, err := vehicles.ResolveOrCreate(ctx, c.ID, in.Vehicle.Plate, in.Vehicle.Attrs)
			if err != nil {
				return fmt.Errorf("resolve vehicle: %w", err)
			}
			res.Vehicle = v
		}

		oid := strings.TrimSpace(in.Order.ID)
		if oid == "" {
			oid = uuid.NewString()
		}
		o := &order.Order{
			ID:         oid,
			Type:       in.Order.Type,
			Channel:    strings.TrimSpace(in.Order.Channel),
			SourceRef:  strings.TrimSpace(in.Order.SourceRef),
			Remark:     strings.TrimSpace(in.Order.Remark),
			CustomerID: c.ID,
		}
		if res.Vehicle != nil {
			o.VehicleID = res.Vehicle.ID
		}
		if err := orders.Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		res.Order = o

		if !created {
			fresh, err := customers.RecordVisit(ctx, c, time.Now())
			if err != nil {
				return fmt.Errorf("record visit: %w", err)
			}
			res.Customer = fresh
		}
		return nil
	}, txOpts...)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
