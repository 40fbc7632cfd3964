package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/SmartGarageLink/SmartGarageLink/internal/common/config"
	"github.com/SmartGarageLink/SmartGarageLink/internal/common/db"
	"github.com/SmartGarageLink/SmartGarageLink/internal/common/logger"
	"github.com/SmartGarageLink/SmartGarageLink/internal/common/server"
	"github.com/SmartGarageLink/SmartGarageLink/internal/common/tracing"
	"github.com/SmartGarageLink/SmartGarageLink/internal/customer"
	"github.com/SmartGarageLink/SmartGarageLink/internal/intake"
	"github.com/SmartGarageLink/SmartGarageLink/internal/operator"
	"github.com/SmartGarageLink/SmartGarageLink/internal/order"
	"github.com/SmartGarageLink/SmartGarageLink/internal/vehicle"
	"github.com/opentracing/opentracing-go"
	"google.golang.org/grpc"
)

func main() {
	var (
		configPath = flag.String("config", "configs/intake-service.json", "配置文件路径")
		consulKey  = flag.String("consul-config-key", "", "从 Consul KV 加载配置（留空则读本地文件）")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *consulKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Driver, cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	tracer, closer, err := tracing.InitTracer(cfg.Server.Name, cfg.Jaeger.Endpoint, cfg.Jaeger.Sampler)
	if err != nil {
		log.Warnf("init tracer: %v, tracing disabled", err)
	} else {
		opentracing.SetGlobalTracer(tracer)
		defer closer.Close()
	}

	gormDB, err := db.NewMySQL(
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.User, cfg.Database.Password, cfg.Database.Database,
		cfg.Database.MaxIdle, cfg.Database.MaxOpen,
	)
	if err != nil {
		log.Errorf("connect database: %v", err)
		os.Exit(1)
	}
	if err := gormDB.AutoMigrate(
		&customer.Customer{},
		&vehicle.Vehicle{},
		&order.Order{},
		&operator.Operator{},
	); err != nil {
		log.Errorf("auto migrate: %v", err)
		os.Exit(1)
	}

	api := intake.NewServer(gormDB, cfg, log)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Errorf("listen http %s: %v", httpAddr, err)
		os.Exit(1)
	}
	go func() {
		log.Infof("intake http server listening on %s", httpAddr)
		if err := api.Serve(httpLn); err != nil {
			log.Errorf("http server: %v", err)
			os.Exit(1)
		}
	}()

	// gRPC 端承载健康检查与 Consul 注册，业务 RPC 后续在这里挂；
	// 收到退出信号后先优雅停 gRPC，再优雅停 HTTP
	if err := server.RunGRPCServer(cfg, log, func(s *grpc.Server) error {
		return nil
	}); err != nil {
		log.Errorf("grpc server: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
}

func loadConfig(path, consulKey string) (*config.Config, error) {
	if consulKey != "" {
		boot, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return config.LoadConfigFromConsulKV(boot.Consul.Host, boot.Consul.Port, consulKey)
	}
	return config.LoadConfig(path)
}
