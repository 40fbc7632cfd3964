package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SmartGarageLink/SmartGarageLink/internal/common/auth"
	"github.com/SmartGarageLink/SmartGarageLink/internal/common/config"
	"github.com/SmartGarageLink/SmartGarageLink/internal/common/logger"
	"github.com/SmartGarageLink/SmartGarageLink/internal/common/middleware"
	"github.com/SmartGarageLink/SmartGarageLink/internal/customer"
	"github.com/SmartGarageLink/SmartGarageLink/internal/flow"
	"github.com/SmartGarageLink/SmartGarageLink/internal/operator"
	"github.com/SmartGarageLink/SmartGarageLink/internal/order"
	"github.com/SmartGarageLink/SmartGarageLink/internal/vehicle"
	"gorm.io/gorm"
)

// Server 登记入口 HTTP API。
// 五类录入入口（发票采集、单据识别、工单录入、建档向导、快速建单）
// 都通过这里走同一套身份解析流程。
type Server struct {
	flows     *flow.Service
	operators *operator.Service
	customers *customer.Repo
	vehicles  *vehicle.Repo
	orders    *order.Repo
	authCfg   config.AuthConfig
	limiter   middleware.RateLimiter
	breaker   *middleware.CircuitBreaker
	log       logger.Logger
	httpSrv   *http.Server
}

func NewServer(db *gorm.DB, cfg *config.Config, log logger.Logger) *Server {
	ic := cfg.Intake
	s := &Server{
		flows:     flow.NewService(db),
		operators: operator.NewService(operator.NewRepo(db), cfg.Auth),
		customers: customer.NewRepo(db),
		vehicles:  vehicle.NewRepo(db),
		orders:    order.NewRepo(db),
		authCfg:   cfg.Auth,
		limiter:   middleware.NewTokenBucket(ic.RateBurst, ic.RatePerSecond),
		breaker: middleware.NewCircuitBreaker(
			"intake-flow",
			ic.BreakerMaxFailures,
			time.Duration(ic.BreakerResetSeconds)*time.Second,
		),
		log: log,
	}
	s.httpSrv = &http.Server{Handler: s.Handler()}
	return s
}

// Handler 返回挂好路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/auth/login", s.handleLogin)
	mux.HandleFunc("/v1/intake/flows", s.handleCreateFlow)
	mux.HandleFunc("/v1/customers", s.handleListCustomers)
	mux.HandleFunc("/v1/vehicles", s.handleListVehicles)
	mux.HandleFunc("/v1/orders", s.handleListOrders)
	mux.HandleFunc("/v1/orders/", s.handleGetOrder)
	return mux
}

// Serve 在给定 listener 上提供 HTTP 服务，Shutdown 之后正常返回 nil。
func (s *Server) Serve(l net.Listener) error {
	err := s.httpSrv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅停机：停止接新连接并等在途请求处理完。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
	OperatorID  string `json:"operator_id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	token, exp, op, err := s.operators.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, operator.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logError(r, err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		ExpiresAt:   exp.Unix(),
		OperatorID:  op.ID,
		DisplayName: op.DisplayName,
	})
}

type customerPayload struct {
	BranchID  string `json:"branch_id"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone"`
	OrgName   string `json:"org_name"`
	TaxNumber string `json:"tax_number"`
}

type vehiclePayload struct {
	Plate string `json:"plate"`
	VIN   string `json:"vin"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
}

type orderPayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	SourceRef string `json:"source_ref"`
	Remark    string `json:"remark"`
}

type createFlowRequest struct {
	Customer customerPayload `json:"customer"`
	Vehicle  *vehiclePayload `json:"vehicle,omitempty"`
	Order    orderPayload    `json:"order"`
	// WalkInRef 身份不明的到店客户：用稳定单据号派生占位身份，
	// 避免同一单据重复提交裂出多个临时客户
	WalkInRef string `json:"walk_in_ref,omitempty"`
}

type customerView struct {
	ID          string `json:"id"`
	BranchID    string `json:"branch_id"`
	FullName    string `json:"full_name"`
	Phone       string `json:"phone"`
	OrgName     string `json:"org_name"`
	TaxNumber   string `json:"tax_number"`
	Status      string `json:"status"`
	LastVisitAt int64  `json:"last_visit_at"`
	TotalVisits int    `json:"total_visits"`
}

type vehicleView struct {
	ID    string `json:"id"`
	Plate string `json:"plate"`
	VIN   string `json:"vin"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
}

type orderView struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Channel    string `json:"channel"`
	SourceRef  string `json:"source_ref"`
	CustomerID string `json:"customer_id"`
	VehicleID  string `json:"vehicle_id,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

type createFlowResponse struct {
	Customer        customerView `json:"customer"`
	Vehicle         *vehicleView `json:"vehicle,omitempty"`
	Order           orderView    `json:"order"`
	CreatedCustomer bool         `json:"created_customer"`
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limiter.Allow(r.Context()) {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if !s.authorize(w, r) {
		return
	}

	var req createFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	in := flow.Input{
		Customer: customer.Identity{
			BranchID:  req.Customer.BranchID,
			FullName:  req.Customer.FullName,
			Phone:     req.Customer.Phone,
			OrgName:   req.Customer.OrgName,
			TaxNumber: req.Customer.TaxNumber,
		},
		Order: flow.OrderInput{
			ID:        req.Order.ID,
			Type:      order.Type(req.Order.Type),
			Channel:   req.Order.Channel,
			SourceRef: req.Order.SourceRef,
			Remark:    req.Order.Remark,
		},
	}
	if in.Customer.Normalized().Empty() && req.WalkInRef != "" {
		in.Customer = customer.WalkInIdentity(req.Customer.BranchID, req.WalkInRef)
	}
	if req.Vehicle != nil {
		in.Vehicle = &flow.VehicleInput{
			Plate: req.Vehicle.Plate,
			Attrs: vehicle.Attrs{
				VIN:   req.Vehicle.VIN,
				Make:  req.Vehicle.Make,
				Model: req.Vehicle.Model,
				Year:  req.Vehicle.Year,
			},
		}
	}

	var res *flow.Result
	err := s.breaker.Call(r.Context(), func() error {
		var ferr error
		res, ferr = s.flows.CreateCompleteFlow(r.Context(), in)
		return ferr
	})
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}

	resp := createFlowResponse{
		Customer:        toCustomerView(res.Customer),
		Order:           toOrderView(res.Order),
		CreatedCustomer: res.CreatedCustomer,
	}
	if res.Vehicle != nil {
		v := toVehicleView(res.Vehicle)
		resp.Vehicle = &v
	}
	writeJSON(w, http.StatusCreated, resp)
}

type customerListResponse struct {
	Total int64          `json:"total"`
	Items []customerView `json:"items"`
}

type vehicleListResponse struct {
	Total int64         `json:"total"`
	Items []vehicleView `json:"items"`
}

type orderListResponse struct {
	Total int64       `json:"total"`
	Items []orderView `json:"items"`
}

type orderDetailResponse struct {
	Order   orderView    `json:"order"`
	Vehicle *vehicleView `json:"vehicle,omitempty"`
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(w, r) {
		return
	}
	offset, limit := pageParams(r)
	items, total, err := s.customers.List(r.Context(), r.URL.Query().Get("branch_id"), offset, limit)
	if err != nil {
		s.logError(r, err)
		writeError(w, http.StatusInternalServerError, "list customers failed")
		return
	}
	views := make([]customerView, 0, len(items))
	for i := range items {
		views = append(views, toCustomerView(&items[i]))
	}
	writeJSON(w, http.StatusOK, customerListResponse{Total: total, Items: views})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(w, r) {
		return
	}
	offset, limit := pageParams(r)
	items, total, err := s.vehicles.List(r.Context(), r.URL.Query().Get("customer_id"), offset, limit)
	if err != nil {
		s.logError(r, err)
		writeError(w, http.StatusInternalServerError, "list vehicles failed")
		return
	}
	views := make([]vehicleView, 0, len(items))
	for i := range items {
		views = append(views, toVehicleView(&items[i]))
	}
	writeJSON(w, http.StatusOK, vehicleListResponse{Total: total, Items: views})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(w, r) {
		return
	}
	q := r.URL.Query()
	offset, limit := pageParams(r)
	items, total, err := s.orders.List(r.Context(), q.Get("customer_id"), order.Type(q.Get("type")), offset, limit)
	if err != nil {
		s.logError(r, err)
		writeError(w, http.StatusInternalServerError, "list orders failed")
		return
	}
	views := make([]orderView, 0, len(items))
	for i := range items {
		views = append(views, toOrderView(&items[i]))
	}
	writeJSON(w, http.StatusOK, orderListResponse{Total: total, Items: views})
}

// handleGetOrder 工单详情，带上关联车辆（如有）。
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	o, err := s.orders.GetByID(r.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.logError(r, err)
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	resp := orderDetailResponse{Order: toOrderView(o)}
	if o.VehicleID != "" {
		v, err := s.vehicles.FindByID(r.Context(), o.VehicleID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(r, err)
			writeError(w, http.StatusInternalServerError, "get order failed")
			return
		}
		if v != nil {
			vv := toVehicleView(v)
			resp.Vehicle = &vv
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func pageParams(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("page_size"))
	if size <= 0 || size > 200 {
		size = 20
	}
	return (page - 1) * size, size
}

// writeFlowError 按错误类别映射状态码。
// 事务整体回滚保证：这里返回的任何错误都意味着什么都没落库。
func (s *Server) writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, customer.ErrIdentityEmpty),
		errors.Is(err, order.ErrUnknownType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, customer.ErrResolveConflict),
		errors.Is(err, vehicle.ErrResolveConflict):
		// 瞬态冲突，调用方可重试
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, middleware.ErrBreakerOpen):
		writeError(w, http.StatusServiceUnavailable, "service degraded, retry later")
	default:
		s.logError(r, err)
		writeError(w, http.StatusInternalServerError, "intake flow failed")
	}
}

// authorize 校验 Bearer token（Auth.Enabled 时），登录和健康检查不经过这里。
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if !s.authCfg.Enabled {
		return true
	}
	raw := r.Header.Get("Authorization")
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing authorization")
		return false
	}
	if _, err := auth.ParseAccessToken(s.authCfg, auth.BearerToken(raw)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	return true
}

func (s *Server) logError(r *http.Request, err error) {
	if s.log == nil {
		return
	}
	s.log.WithFields(map[string]interface{}{
		"path":  r.URL.Path,
		"error": err.Error(),
	}).Warn("intake request failed")
}

func toCustomerView(c *customer.Customer) customerView {
	return customerView{
		ID:          c.ID,
		BranchID:    c.BranchID,
		FullName:    c.FullName,
		Phone:       c.Phone,
		OrgName:     c.OrgName,
		TaxNumber:   c.TaxNumber,
		Status:      string(c.Status),
		LastVisitAt: c.LastVisitAt.Unix(),
		TotalVisits: c.TotalVisits,
	}
}

func toVehicleView(v *vehicle.Vehicle) vehicleView {
	return vehicleView{
		ID:    v.ID,
		Plate: v.PlateNumber,
		VIN:   v.VIN,
		Make:  v.Make,
		Model: v.Model,
		Year:  v.Year,
	}
}

func toOrderView(o *order.Order) orderView {
	return orderView{
		ID:         o.ID,
		Type:       string(o.Type),
		Channel:    o.Channel,
		SourceRef:  o.SourceRef,
		CustomerID: o.CustomerID,
		VehicleID:  o.VehicleID,
		CreatedAt:  o.CreatedAt.Unix(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
