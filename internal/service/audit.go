package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/docauditor/backend/config"
	"github.com/docauditor/backend/internal/eventbus"
	"github.com/docauditor/backend/internal/model"
	"github.com/docauditor/backend/internal/repository"
	"github.com/docauditor/backend/internal/service/auditflow"
	"github.com/docauditor/backend/internal/service/hitl"
	"github.com/docauditor/backend/internal/service/orchestrator"
	"github.com/docauditor/backend/internal/service/statemachine"
	"github.com/docauditor/backend/internal/utils"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// ErrProjectPathInvalid 项目路径不存在或不是目录
var ErrProjectPathInvalid = errors.New("project path does not exist or is not a directory")

// ErrFeedbackConflict 反馈投递时流水线已不在等待（已恢复/已超时）
var ErrFeedbackConflict = errors.New("report is no longer awaiting feedback")

// ErrReportNotAwaitingFeedback 报告当前状态不接受人工反馈
type ErrReportNotAwaitingFeedback struct {
	ReportID string
	Status   string
}

func (e *ErrReportNotAwaitingFeedback) Error() string {
	return fmt.Sprintf("report %s is not awaiting feedback (status: %s)", e.ReportID, e.Status)
}

// AuditService 文档新鲜度审计服务
// 负责项目/报告的生命周期：创建、入队、流水线执行、HITL 衔接与落盘
type AuditService struct {
	cfg                *config.Config
	projectRepo        repository.ProjectRepository
	reportRepo         repository.ReportRepository
	coordinator        *hitl.Coordinator
	bus                *eventbus.Bus
	reportStateMachine *statemachine.ReportStateMachine
	chatModel          einomodel.BaseChatModel
	orchestrator       *orchestrator.Orchestrator
}

func NewAuditService(cfg *config.Config, projectRepo repository.ProjectRepository, reportRepo repository.ReportRepository,
	coordinator *hitl.Coordinator, bus *eventbus.Bus, chatModel einomodel.BaseChatModel) *AuditService {
	return &AuditService{
		cfg:                cfg,
		projectRepo:        projectRepo,
		reportRepo:         reportRepo,
		coordinator:        coordinator,
		bus:                bus,
		reportStateMachine: statemachine.NewReportStateMachine(),
		chatModel:          chatModel,
	}
}

// SetOrchestrator 设置任务编排器
// 用于解决循环依赖问题
func (s *AuditService) SetOrchestrator(o *orchestrator.Orchestrator) {
	s.orchestrator = o
}

// StartAudit 校验项目路径，登记项目与报告并把审计任务入队
// 路径非法返回 ErrProjectPathInvalid，由接口层映射为 400
func (s *AuditService) StartAudit(ctx context.Context, projectName, projectPath string) (*model.Report, error) {
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectPathInvalid, projectPath)
	}
	info, err := os.Stat(absPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrProjectPathInvalid, projectPath)
	}

	if projectName == "" {
		projectName = filepath.Base(absPath)
	}
	project, err := s.findOrCreateProject(projectName, absPath)
	if err != nil {
		return nil, err
	}

	report := &model.Report{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		Status:    string(statemachine.ReportStatusProcessing),
	}
	if err := s.reportRepo.Create(report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	s.publish(ctx, eventbus.ReportEvent{
		Type:      eventbus.ReportEventStarted,
		ReportID:  report.ID,
		ProjectID: project.ID,
		Status:    report.Status,
		Message:   fmt.Sprintf("audit started for %s", absPath),
	})

	if s.orchestrator == nil {
		s.failReport(ctx, report.ID, project.ID, "orchestrator not available")
		return nil, errors.New("orchestrator not available")
	}
	if err := s.orchestrator.EnqueueJob(orchestrator.NewAuditJob(report.ID)); err != nil {
		s.failReport(ctx, report.ID, project.ID, fmt.Sprintf("enqueue failed: %v", err))
		return nil, fmt.Errorf("enqueue audit job: %w", err)
	}

	klog.V(6).Infof("审计任务已创建并入队: reportID=%s, project=%s", report.ID, absPath)
	return report, nil
}

func (s *AuditService) findOrCreateProject(name, absPath string) (*model.Project, error) {
	project, err := s.projectRepo.GetByNamePath(name, absPath)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup project: %w", err)
	}

	project = &model.Project{
		ID:   uuid.New().String(),
		Name: name,
		Path: absPath,
	}
	if err := s.projectRepo.Create(project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	klog.V(6).Infof("新项目已登记: id=%s, path=%s", project.ID, absPath)
	return project, nil
}

// ExecuteAudit 在编排器工作协程上执行完整的三阶段审计流水线
// 实现 orchestrator.AuditExecutor
func (s *AuditService) ExecuteAudit(ctx context.Context, reportID string) error {
	report, err := s.reportRepo.Get(reportID)
	if err != nil {
		return fmt.Errorf("load report %s: %w", reportID, err)
	}
	project, err := s.projectRepo.Get(report.ProjectID)
	if err != nil {
		s.failReport(ctx, reportID, report.ProjectID, fmt.Sprintf("load project failed: %v", err))
		return fmt.Errorf("load project %s: %w", report.ProjectID, err)
	}

	s.coordinator.LinkReport(reportID)
	defer s.coordinator.Remove(reportID)

	chain, err := auditflow.NewAuditChain(s.chatModel, s.reviewPauser(reportID, project.ID))
	if err != nil {
		s.failReport(ctx, reportID, project.ID, fmt.Sprintf("build pipeline failed: %v", err))
		return fmt.Errorf("build audit chain: %w", err)
	}

	output, err := chain.Run(ctx, auditflow.AuditInput{ProjectPath: project.Path})
	if err != nil {
		s.failReport(ctx, reportID, project.ID, err.Error())
		return fmt.Errorf("audit pipeline: %w", err)
	}

	if err := s.finalize(reportID, output); err != nil {
		s.failReport(ctx, reportID, project.ID, fmt.Sprintf("finalize failed: %v", err))
		return err
	}

	s.publish(ctx, eventbus.ReportEvent{
		Type:      eventbus.ReportEventCompleted,
		ReportID:  reportID,
		ProjectID: project.ID,
		Status:    string(statemachine.ReportStatusCompleted),
		Message:   "audit completed",
	})
	klog.V(6).Infof("审计完成: reportID=%s, files=%d, avgScore=%.1f",
		reportID, output.Score.Analysis.TotalFiles, output.Score.Analysis.AverageScore)
	return nil
}

// reviewPauser 构造阶段三的人工审核暂停点
// 先注册暂停句柄，再持久化 pending_human_input 状态，最后阻塞等待；
// 恢复后把状态写回 processing。保证"等待中 <=> 注册表有条目"与数据库状态一致
func (s *AuditService) reviewPauser(reportID, projectID string) auditflow.PauseFunc {
	return func(ctx context.Context, draft string) (string, error) {
		req, err := s.coordinator.Pause(reportID, draft)
		if err != nil {
			return "", fmt.Errorf("register hitl pause: %w", err)
		}

		if err := s.validateTransition(reportID, statemachine.ReportStatusPendingHumanInput); err != nil {
			s.coordinator.Remove(reportID)
			return "", fmt.Errorf("pause transition: %w", err)
		}
		if err := s.reportRepo.SetDraft(reportID, draft); err != nil {
			s.coordinator.Remove(reportID)
			return "", fmt.Errorf("persist draft: %w", err)
		}
		s.publish(ctx, eventbus.ReportEvent{
			Type:      eventbus.ReportEventAwaitingFeedback,
			ReportID:  reportID,
			ProjectID: projectID,
			Status:    string(statemachine.ReportStatusPendingHumanInput),
			Message:   "awaiting human feedback",
		})

		res, err := s.coordinator.Wait(ctx, req)
		if err != nil {
			return "", fmt.Errorf("wait for feedback: %w", err)
		}

		if err := s.validateTransition(reportID, statemachine.ReportStatusProcessing); err != nil {
			return "", fmt.Errorf("resume transition: %w", err)
		}
		if err := s.reportRepo.SetStatus(reportID, string(statemachine.ReportStatusProcessing)); err != nil {
			return "", fmt.Errorf("resume status: %w", err)
		}
		s.publish(ctx, eventbus.ReportEvent{
			Type:      eventbus.ReportEventFeedbackReceived,
			ReportID:  reportID,
			ProjectID: projectID,
			Status:    string(statemachine.ReportStatusProcessing),
			Message:   fmt.Sprintf("resumed (%s)", res.Kind),
		})
		return res.Feedback, nil
	}
}

// validateTransition 以数据库中的当前状态校验目标迁移
// 所有状态写入都先经过状态机，终止态不再被覆盖
func (s *AuditService) validateTransition(reportID string, to statemachine.ReportStatus) error {
	report, err := s.reportRepo.Get(reportID)
	if err != nil {
		return err
	}
	return s.reportStateMachine.Transition(statemachine.ReportStatus(report.Status), to, reportID)
}

// finalize 落盘最终报告并写入汇总指标
func (s *AuditService) finalize(reportID string, output *auditflow.AuditOutput) error {
	if err := os.MkdirAll(s.cfg.Data.ReportDir, 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	reportPath := filepath.Join(s.cfg.Data.ReportDir, reportID+".md")
	if err := os.WriteFile(reportPath, []byte(output.ReportMD), 0644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}

	analysis := output.Score.Analysis
	summary := repository.ReportSummary{
		TotalFiles:     analysis.TotalFiles,
		CriticalIssues: analysis.CriticalIssues,
		MajorIssues:    analysis.MajorIssues,
		MinorIssues:    analysis.MinorIssues,
		AverageScore:   analysis.AverageScore,
		Severity:       deriveSeverity(analysis),
	}

	analysisJSON := ""
	if output.Score.Parsed {
		analysisJSON = utils.ToJSON(analysis)
	} else {
		analysisJSON = output.Score.RawJSON
	}

	if err := s.validateTransition(reportID, statemachine.ReportStatusCompleted); err != nil {
		return fmt.Errorf("complete transition: %w", err)
	}
	if err := s.reportRepo.Finalize(reportID, output.ReportMD, analysisJSON, output.Audit.Findings, summary); err != nil {
		return fmt.Errorf("finalize report: %w", err)
	}
	klog.V(6).Infof("报告已落盘: reportID=%s, path=%s", reportID, reportPath)
	return nil
}

// deriveSeverity 由问题计数推导整体严重程度
func deriveSeverity(analysis auditflow.FreshnessAnalysis) string {
	switch {
	case analysis.CriticalIssues > 0:
		return "critical"
	case analysis.MajorIssues > 0:
		return "major"
	case analysis.MinorIssues > 0:
		return "minor"
	default:
		return "healthy"
	}
}

func (s *AuditService) failReport(ctx context.Context, reportID, projectID, errorMsg string) {
	// 终止态的报告不再被改写
	if err := s.validateTransition(reportID, statemachine.ReportStatusFailed); err != nil {
		klog.Warningf("报告无法迁移到失败态: reportID=%s, err=%v", reportID, err)
		return
	}
	if err := s.reportRepo.SetFailed(reportID, errorMsg); err != nil {
		klog.Errorf("标记报告失败状态出错: reportID=%s, err=%v", reportID, err)
	}
	s.publish(ctx, eventbus.ReportEvent{
		Type:      eventbus.ReportEventFailed,
		ReportID:  reportID,
		ProjectID: projectID,
		Status:    string(statemachine.ReportStatusFailed),
		Message:   errorMsg,
	})
}

func (s *AuditService) publish(ctx context.Context, event eventbus.ReportEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		klog.Warningf("事件发布失败: type=%s, reportID=%s, err=%v", event.Type, event.ReportID, err)
	}
}

// SubmitFeedback 校验并投递人工反馈
// 报告不存在返回 repository.ErrNotFound；状态不是等待反馈返回
// *ErrReportNotAwaitingFeedback；流水线已恢复返回 ErrFeedbackConflict
func (s *AuditService) SubmitFeedback(reportID, feedback string) error {
	report, err := s.reportRepo.Get(reportID)
	if err != nil {
		return err
	}
	if !statemachine.AwaitsFeedback(statemachine.ReportStatus(report.Status)) {
		return &ErrReportNotAwaitingFeedback{ReportID: reportID, Status: report.Status}
	}
	if !s.coordinator.SendFeedback(reportID, feedback) {
		// 数据库显示等待中但注册表无条目：刚刚恢复或超时的竞争窗口
		return ErrFeedbackConflict
	}
	return nil
}

// GetReport 查询单个报告
func (s *AuditService) GetReport(id string) (*model.Report, error) {
	return s.reportRepo.Get(id)
}

// GetHistory 按创建时间倒序返回最近的审计记录（联表带出项目名称）
func (s *AuditService) GetHistory(limit int) ([]repository.AuditHistoryRow, error) {
	return s.reportRepo.ListHistory(limit)
}

// ListProjects 返回全部项目
func (s *AuditService) ListProjects() ([]model.Project, error) {
	return s.projectRepo.List()
}

// GetProject 查询单个项目
func (s *AuditService) GetProject(id string) (*model.Project, error) {
	return s.projectRepo.Get(id)
}

// FindProject 按名称与路径查找项目
func (s *AuditService) FindProject(name, path string) (*model.Project, error) {
	return s.projectRepo.GetByNamePath(name, path)
}

// ListProjectReports 返回项目的全部报告
func (s *AuditService) ListProjectReports(projectID string) ([]model.Report, error) {
	return s.reportRepo.ListByProject(projectID)
}

// HasPendingFeedback 查询报告是否正在等待人工反馈
func (s *AuditService) HasPendingFeedback(reportID string) bool {
	return s.coordinator.HasPending(reportID)
}

// CleanupStuckReports 启动时把中断的 processing/pending_human_input 报告标记为失败
// 协调器注册表是进程内状态，重启后这些报告不可能再被恢复
func (s *AuditService) CleanupStuckReports() {
	count, err := s.reportRepo.CleanupStuckReports(time.Duration(0))
	if err != nil {
		klog.Errorf("启动清理中断报告失败: %v", err)
		return
	}
	if count > 0 {
		klog.V(6).Infof("启动清理: %d 个中断报告已标记失败", count)
	}
}
