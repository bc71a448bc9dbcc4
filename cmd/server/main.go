package main

import (
	"flag"
	"log"
	"os"

	"k8s.io/klog/v2"

	"github.com/docauditor/backend/config"
	"github.com/docauditor/backend/internal/eventbus"
	"github.com/docauditor/backend/internal/handler"
	"github.com/docauditor/backend/internal/pkg/database"
	"github.com/docauditor/backend/internal/repository"
	"github.com/docauditor/backend/internal/router"
	"github.com/docauditor/backend/internal/service"
	"github.com/docauditor/backend/internal/service/auditflow"
	"github.com/docauditor/backend/internal/service/hitl"
	"github.com/docauditor/backend/internal/service/orchestrator"
	"github.com/docauditor/backend/internal/subscriber"
	"github.com/joho/godotenv"
)

func main() {
	// 初始化 klog
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	// .env 不存在时静默忽略
	_ = godotenv.Load()

	klog.V(6).Info("服务启动中...")

	cfg := config.GetConfig()

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Data.ReportDir, 0755); err != nil {
		log.Fatalf("Failed to create report directory: %v", err)
	}

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 初始化 Repository
	projectRepo := repository.NewProjectRepository(db)
	reportRepo := repository.NewReportRepository(db)

	// 初始化 LLM
	chatModel, err := auditflow.NewLLMChatModel(cfg.LLM.APIKey, cfg.LLM.APIURL, cfg.LLM.Model, cfg.LLM.MaxTokens)
	if err != nil {
		log.Fatalf("Failed to initialize chat model: %v", err)
	}

	// 初始化 HITL 协调器
	coordinator := hitl.NewCoordinator(cfg.HITL.Timeout)
	coordinator.Install()

	// 初始化 Service
	bus := eventbus.NewBus()
	subscriber.NewReportEventSubscriber(cfg.Data.Dir).Register(bus)
	auditService := service.NewAuditService(cfg, projectRepo, reportRepo, coordinator, bus, chatModel)

	// 初始化全局任务编排器
	// 审计会阻塞在人工反馈与LLM调用上，worker数不宜过大
	if err := orchestrator.InitGlobalOrchestrator(cfg.HITL.MaxWorkers, auditService); err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	auditService.SetOrchestrator(orchestrator.GetGlobalOrchestrator())
	// 收尾顺序：先卸载协调器唤醒 HITL 等待者，再排空工作池
	defer orchestrator.ShutdownGlobalOrchestrator()
	defer coordinator.Uninstall()

	// 启动清理：上次运行中断的审计标记为失败
	auditService.CleanupStuckReports()

	// 初始化 Handler
	auditHandler := handler.NewAuditHandler(auditService)
	reportHandler := handler.NewReportHandler(auditService)
	projectHandler := handler.NewProjectHandler(auditService)

	// 设置路由
	r := router.Setup(cfg, auditHandler, reportHandler, projectHandler)

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	// Fatalf 会跳过收尾 defer，这里只记录错误后正常退出
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		klog.Errorf("server exited: %v", err)
	}
}
