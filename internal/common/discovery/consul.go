package discovery

import (
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"google.golang.org/grpc/resolver"
)

const consulScheme = "consul"

// NewConsulClient 创建Consul客户端
func NewConsulClient(host string, port int) (*api.Client, error) {
	cfg := api.DefaultConfig()
	cfg.Address = fmt.Sprintf("%s:%d", host, port)
	return api.NewClient(cfg)
}

// ServiceRegistry Consul服务注册
type ServiceRegistry struct {
	client    *api.Client
	serviceID string
	service   string
	address   string
	port      int
	tags      []string
	check     *api.AgentServiceCheck
}

// NewServiceRegistry 创建服务注册器（gRPC 健康检查）
func NewServiceRegistry(client *api.Client, serviceID, service, address string, port int, tags []string) *ServiceRegistry {
	return &ServiceRegistry{
		client:    client,
		serviceID: serviceID,
		service:   service,
		address:   address,
		port:      port,
		tags:      tags,
		check: &api.AgentServiceCheck{
			GRPC:                           fmt.Sprintf("%s:%d", address, port),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
	}
}

// Register 注册服务
func (r *ServiceRegistry) Register() error {
	return r.client.Agent().ServiceRegister(&api.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    r.service,
		Tags:    r.tags,
		Address: r.address,
		Port:    r.port,
		Check:   r.check,
	})
}

// Deregister 注销服务
func (r *ServiceRegistry) Deregister() error {
	return r.client.Agent().ServiceDeregister(r.serviceID)
}

// ConsulResolver Consul服务解析器（gRPC resolver）
type ConsulResolver struct {
	client  *api.Client
	service string
	done    chan struct{}
}

// NewConsulResolver 创建并注册 Consul 解析器
func NewConsulResolver(client *api.Client, service string) *ConsulResolver {
	r := &ConsulResolver{
		client:  client,
		service: service,
		done:    make(chan struct{}),
	}
	resolver.Register(r)
	return r
}

// Build 构建解析器
func (r *ConsulResolver) Build(target resolver.Target, cc resolver.ClientConn, opts resolver.BuildOptions) (resolver.Resolver, error) {
	w := &consulWatcher{
		client:  r.client,
		service: r.service,
		done:    r.done,
	}
	go w.watch(cc)
	return r, nil
}

// Scheme 返回scheme
func (r *ConsulResolver) Scheme() string { return consulScheme }

// ResolveNow 立即解析（由后台 watch 驱动，这里不需要做事）
func (r *ConsulResolver) ResolveNow(resolver.ResolveNowOptions) {}

// Close 停止后台 watch
func (r *ConsulResolver) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

type consulWatcher struct {
	client    *api.Client
	service   string
	lastIndex uint64
	done      chan struct{}
}

func (w *consulWatcher) watch(cc resolver.ClientConn) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.update(cc)
		}
	}
}

func (w *consulWatcher) update(cc resolver.ClientConn) {
	services, meta, err := w.client.Health().Service(w.service, "", true, &api.QueryOptions{
		WaitIndex: w.lastIndex,
	})
	if err != nil {
		return
	}
	w.lastIndex = meta.LastIndex

	addrs := make([]resolver.Address, 0, len(services))
	for _, svc := range services {
		addrs = append(addrs, resolver.Address{
			Addr: fmt.Sprintf("%s:%d", svc.Service.Address, svc.Service.Port),
		})
	}
	if len(addrs) > 0 {
		_ = cc.UpdateState(resolver.State{Addresses: addrs})
	}
}
