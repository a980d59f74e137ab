package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paysettle/internal/config"
	"paysettle/internal/fee"
	"paysettle/internal/gateway"
	"paysettle/internal/handler"
	"paysettle/internal/infrastructure/cache"
	"paysettle/internal/infrastructure/database"
	"paysettle/internal/infrastructure/lock"
	"paysettle/internal/infrastructure/mq"
	"paysettle/internal/job"
	"paysettle/internal/service"
	"paysettle/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "雪花算法机器ID")
	flag.Parse()

	// 加载配置
	cfg := config.LoadConfig(*configPath)

	idgen.Init(*workerID)

	db := database.InitDatabase(&cfg.Database)

	// Redis 可选：未启用时对账只依赖账本乐观锁
	var locker service.OrderLocker
	if redisClient := cache.InitRedis(&cfg.Redis); redisClient != nil {
		defer redisClient.Close()
		locker = lock.NewOrderLocker(redisClient, time.Duration(cfg.Business.LockTTLSeconds)*time.Second)
	}

	// 未启用 Kafka 时不写本地消息表
	eventTopic := ""
	publisher := mq.InitKafka(&cfg.Kafka)
	if publisher != nil {
		defer publisher.Close()
		eventTopic = cfg.Kafka.Topic.SettlementResult
	}

	ledger := service.NewLedger(db, eventTopic)

	var (
		gatewaySettlement *service.GatewaySettlement
		checker           service.PaymentStatusChecker
	)
	if cfg.Settlement.UsesGateway() {
		client := gateway.NewClient(cfg.Gateway)
		gatewaySettlement = service.NewGatewaySettlement(client, client.Timeout())
		checker = client
		log.Printf("网关结算已启用: handle=%s, webhook=%s", cfg.Gateway.Handle, client.WebhookURL())
	}

	settlementService := service.NewSettlementService(ledger, cfg.Settlement,
		service.NewLocalSettlement(fee.NewCalculator()), gatewaySettlement)
	reconcileService := service.NewReconcileService(ledger, checker, locker)
	transactionService := service.NewTransactionService(ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	if publisher != nil {
		outboxSender := job.NewOutboxSender(db, publisher, cfg.Business.MaxRetryCount)
		go outboxSender.Start(ctx)
	}

	if checker != nil {
		reconcileJob := job.NewPendingReconcileJob(ledger, reconcileService,
			time.Duration(cfg.Business.ReconcileIntervalSeconds)*time.Second,
			time.Duration(cfg.Business.PendingReconcileAfterSeconds)*time.Second,
			cfg.Business.ReconcileBatchSize)
		go reconcileJob.Start(ctx)
	}

	router := handler.SetupRouter(handler.NewHandler(settlementService, reconcileService, transactionService))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
