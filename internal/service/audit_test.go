package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/docauditor/backend/config"
	"github.com/docauditor/backend/internal/eventbus"
	"github.com/docauditor/backend/internal/model"
	"github.com/docauditor/backend/internal/pkg/database"
	"github.com/docauditor/backend/internal/repository"
	"github.com/docauditor/backend/internal/service/hitl"
	"github.com/docauditor/backend/internal/service/orchestrator"
	"github.com/docauditor/backend/internal/service/statemachine"
)

// auditScriptModel 按调用顺序返回预置响应
type auditScriptModel struct {
	mu        sync.Mutex
	responses []string
	failAt    int
	calls     int
}

func (m *auditScriptModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAt > 0 && m.calls == m.failAt {
		return nil, errors.New("llm unavailable")
	}
	if m.calls > len(m.responses) {
		return nil, errors.New("no scripted response left")
	}
	return &schema.Message{Role: schema.Assistant, Content: m.responses[m.calls-1]}, nil
}

func (m *auditScriptModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported in tests")
}

var _ einomodel.BaseChatModel = (*auditScriptModel)(nil)

const auditAnalysisJSON = `{
  "total_files": 1,
  "critical_issues": 0,
  "major_issues": 1,
  "minor_issues": 0,
  "average_freshness_score": 72.5,
  "overall_health": "needs_attention",
  "files": [
    {"file": "main.go", "doc_type": "code", "severity": "major", "freshness_score": 72.5,
     "issues": [{"number": 1, "issue": "缺少文档注释", "location": "main.go"}],
     "recommendations": ["补充注释"]}
  ]
}`

type auditFixture struct {
	svc         *AuditService
	coordinator *hitl.Coordinator
	orch        *orchestrator.Orchestrator
	reportRepo  repository.ReportRepository
	projectRepo repository.ProjectRepository
	projectDir  string
}

func newAuditFixture(t *testing.T, chatModel einomodel.BaseChatModel, hitlTimeout time.Duration) *auditFixture {
	t.Helper()

	dbName := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.InitDB("sqlite", "file:"+dbName+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("init db: %v", err)
	}

	cfg := &config.Config{}
	cfg.Data.ReportDir = filepath.Join(t.TempDir(), "reports")
	cfg.HITL.Timeout = hitlTimeout
	cfg.HITL.MaxWorkers = 2

	coordinator := hitl.NewCoordinator(hitlTimeout)
	coordinator.Install()
	t.Cleanup(coordinator.Uninstall)

	projectRepo := repository.NewProjectRepository(db)
	reportRepo := repository.NewReportRepository(db)

	svc := NewAuditService(cfg, projectRepo, reportRepo, coordinator, eventbus.NewBus(), chatModel)

	orch, err := orchestrator.NewOrchestrator(cfg.HITL.MaxWorkers, svc)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	orch.Start()
	t.Cleanup(orch.Stop)
	svc.SetOrchestrator(orch)

	projectDir := t.TempDir()
	src := "package main\n\nfunc main() {\n}\n"
	if err := os.WriteFile(filepath.Join(projectDir, "main.go"), []byte(src), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	return &auditFixture{
		svc:         svc,
		coordinator: coordinator,
		orch:        orch,
		reportRepo:  reportRepo,
		projectRepo: projectRepo,
		projectDir:  projectDir,
	}
}

func waitForStatus(t *testing.T, repo repository.ReportRepository, reportID, status string, timeout time.Duration) *model.Report {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		report, err := repo.Get(reportID)
		if err != nil {
			t.Fatalf("get report: %v", err)
		}
		if report.Status == status {
			return report
		}
		if statemachine.IsTerminal(statemachine.ReportStatus(report.Status)) && report.Status != status {
			t.Fatalf("report reached terminal status %q (error: %s), wanted %q", report.Status, report.ErrorMsg, status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("report never reached status %q", status)
	return nil
}

func TestStartAuditRejectsInvalidPath(t *testing.T) {
	f := newAuditFixture(t, &auditScriptModel{}, time.Minute)

	_, err := f.svc.StartAudit(context.Background(), "demo", filepath.Join(f.projectDir, "does-not-exist"))
	if !errors.Is(err, ErrProjectPathInvalid) {
		t.Fatalf("expected ErrProjectPathInvalid, got %v", err)
	}
}

func TestAuditEndToEndWithFeedback(t *testing.T) {
	chatModel := &auditScriptModel{responses: []string{auditAnalysisJSON, "# 修复草稿", "# 修订后的最终报告"}}
	f := newAuditFixture(t, chatModel, time.Minute)

	report, err := f.svc.StartAudit(context.Background(), "demo", f.projectDir)
	if err != nil {
		t.Fatalf("start audit: %v", err)
	}
	if report.Status != string(statemachine.ReportStatusProcessing) {
		t.Fatalf("new report must start processing, got %s", report.Status)
	}

	// 流水线应暂停等待反馈，草稿与状态同时可见
	pending := waitForStatus(t, f.reportRepo, report.ID, string(statemachine.ReportStatusPendingHumanInput), 5*time.Second)
	if pending.AgentOutput != "# 修复草稿" {
		t.Fatalf("draft must be persisted with pending status, got %q", pending.AgentOutput)
	}
	if !f.svc.HasPendingFeedback(report.ID) {
		t.Fatalf("coordinator must hold a pending request")
	}

	if err := f.svc.SubmitFeedback(report.ID, "请修订"); err != nil {
		t.Fatalf("submit feedback: %v", err)
	}

	done := waitForStatus(t, f.reportRepo, report.ID, string(statemachine.ReportStatusCompleted), 5*time.Second)
	// ReportMD 是组装后的完整文档，修订文本在修复建议小节中
	if !strings.Contains(done.ReportMD, "# 文档新鲜度审计报告") {
		t.Fatalf("final report must be the assembled document, got %q", done.ReportMD)
	}
	if !strings.Contains(done.ReportMD, "# 修订后的最终报告") {
		t.Fatalf("final report must reflect revision, got %q", done.ReportMD)
	}
	if strings.Contains(done.ReportMD, "# 修复草稿") {
		t.Fatalf("revised report must not keep the draft text, got %q", done.ReportMD)
	}
	if done.MajorIssues != 1 || done.AverageScore != 72.5 || done.Severity != "major" {
		t.Fatalf("unexpected summary: %+v", done)
	}
	if done.CompletedAt == nil {
		t.Fatalf("completed_at must be set")
	}

	// 最终报告必须落盘
	path := filepath.Join(f.svc.cfg.Data.ReportDir, report.ID+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	if string(data) != done.ReportMD {
		t.Fatalf("report file and db content diverge")
	}
}

func TestAuditEndToEndApproveAsIs(t *testing.T) {
	chatModel := &auditScriptModel{responses: []string{auditAnalysisJSON, "# 修复草稿"}}
	f := newAuditFixture(t, chatModel, time.Minute)

	report, err := f.svc.StartAudit(context.Background(), "demo", f.projectDir)
	if err != nil {
		t.Fatalf("start audit: %v", err)
	}

	waitForStatus(t, f.reportRepo, report.ID, string(statemachine.ReportStatusPendingHumanInput), 5*time.Second)
	if err := f.svc.SubmitFeedback(report.ID, ""); err != nil {
		t.Fatalf("submit empty feedback: %v", err)
	}

	done := waitForStatus(t, f.reportRepo, report.ID, string(statemachine.ReportStatusCompleted), 5*time.Second)
	// 空反馈 = 原样通过，不触发修订调用
	if !strings.Contains(done.ReportMD, "# 修复草稿") {
		t.Fatalf("empty feedback must keep draft text, got %q", done.ReportMD)
	}
}

func TestAuditTimeoutResumesAsApproved(t *testing.T) {
	chatModel := &auditScriptModel{responses: []string{auditAnalysisJSON, "# 修复草稿"}}
	f := newAuditFixture(t, chatModel, 100*time.Millisecond)

	report, err := f.svc.StartAudit(context.Background(), "demo", f.projectDir)
	if err != nil {
		t.Fatalf("start audit: %v", err)
	}

	// 不投递反馈，等待超时按默认通过完成
	done := waitForStatus(t, f.reportRepo, report.ID, string(statemachine.ReportStatusCompleted), 5*time.Second)
	if !strings.Contains(done.ReportMD, "# 修复草稿") {
		t.Fatalf("timeout must accept draft text, got %q", done.ReportMD)
	}
}

func TestAuditLLMFailureMarksReportFailed(t *testing.T) {
	chatModel := &auditScriptModel{failAt: 1}
	f := newAuditFixture(t, chatModel, time.Minute)

	report, err := f.svc.StartAudit(context.Background(), "demo", f.projectDir)
	if err != nil {
		t.Fatalf("start audit: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := f.reportRepo.Get(report.ID)
		if err != nil {
			t.Fatalf("get report: %v", err)
		}
		if got.Status == string(statemachine.ReportStatusFailed) {
			if got.ErrorMsg == "" {
				t.Fatalf("failed report must carry error message")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("report never failed, status=%s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartAuditReusesProject(t *testing.T) {
	chatModel := &auditScriptModel{responses: []string{
		auditAnalysisJSON, "# 草稿一",
		auditAnalysisJSON, "# 草稿二",
	}}
	f := newAuditFixture(t, chatModel, 50*time.Millisecond)

	first, err := f.svc.StartAudit(context.Background(), "demo", f.projectDir)
	if err != nil {
		t.Fatalf("first audit: %v", err)
	}
	waitForStatus(t, f.reportRepo, first.ID, string(statemachine.ReportStatusCompleted), 5*time.Second)

	second, err := f.svc.StartAudit(context.Background(), "demo", f.projectDir)
	if err != nil {
		t.Fatalf("second audit: %v", err)
	}
	waitForStatus(t, f.reportRepo, second.ID, string(statemachine.ReportStatusCompleted), 5*time.Second)

	if first.ProjectID != second.ProjectID {
		t.Fatalf("same path must reuse project: %s vs %s", first.ProjectID, second.ProjectID)
	}

	reports, err := f.svc.ListProjectReports(first.ProjectID)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
}

func TestSubmitFeedbackValidation(t *testing.T) {
	f := newAuditFixture(t, &auditScriptModel{}, time.Minute)

	if err := f.svc.SubmitFeedback("missing-id", "x"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// 已完成的报告不再接受反馈
	project := &model.Project{ID: "p1", Name: "demo", Path: f.projectDir}
	if err := f.projectRepo.Create(project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	report := &model.Report{ID: "r1", ProjectID: "p1", Status: string(statemachine.ReportStatusCompleted)}
	if err := f.reportRepo.Create(report); err != nil {
		t.Fatalf("create report: %v", err)
	}

	err := f.svc.SubmitFeedback("r1", "x")
	var notAwaiting *ErrReportNotAwaitingFeedback
	if !errors.As(err, &notAwaiting) {
		t.Fatalf("expected ErrReportNotAwaitingFeedback, got %v", err)
	}
	if notAwaiting.Status != string(statemachine.ReportStatusCompleted) {
		t.Fatalf("error must carry current status, got %s", notAwaiting.Status)
	}

	// 数据库等待中但注册表无条目：竞争窗口返回冲突
	stale := &model.Report{ID: "r2", ProjectID: "p1", Status: string(statemachine.ReportStatusPendingHumanInput)}
	if err := f.reportRepo.Create(stale); err != nil {
		t.Fatalf("create report: %v", err)
	}
	if err := f.svc.SubmitFeedback("r2", "x"); !errors.Is(err, ErrFeedbackConflict) {
		t.Fatalf("expected ErrFeedbackConflict, got %v", err)
	}
}

func TestFailReportDoesNotOverrideTerminalStatus(t *testing.T) {
	f := newAuditFixture(t, &auditScriptModel{}, time.Minute)

	project := &model.Project{ID: "p1", Name: "demo", Path: f.projectDir}
	if err := f.projectRepo.Create(project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	done := &model.Report{
		ID: "r-done", ProjectID: "p1",
		Status:   string(statemachine.ReportStatusCompleted),
		ReportMD: "# 报告",
	}
	if err := f.reportRepo.Create(done); err != nil {
		t.Fatalf("create report: %v", err)
	}

	// 状态机拒绝 completed -> failed，已完成的报告不被改写
	f.svc.failReport(context.Background(), "r-done", "p1", "late failure")

	got, err := f.reportRepo.Get("r-done")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if got.Status != string(statemachine.ReportStatusCompleted) {
		t.Fatalf("terminal report must stay completed, got %s", got.Status)
	}
	if got.ErrorMsg != "" {
		t.Fatalf("terminal report must not pick up an error message, got %q", got.ErrorMsg)
	}
}

func TestCleanupStuckReportsAtStartup(t *testing.T) {
	f := newAuditFixture(t, &auditScriptModel{}, time.Minute)

	project := &model.Project{ID: "p1", Name: "demo", Path: f.projectDir}
	if err := f.projectRepo.Create(project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	stuck := &model.Report{ID: "stuck", ProjectID: "p1", Status: string(statemachine.ReportStatusPendingHumanInput)}
	if err := f.reportRepo.Create(stuck); err != nil {
		t.Fatalf("create report: %v", err)
	}
	doneReport := &model.Report{ID: "done", ProjectID: "p1", Status: string(statemachine.ReportStatusCompleted)}
	if err := f.reportRepo.Create(doneReport); err != nil {
		t.Fatalf("create report: %v", err)
	}

	f.svc.CleanupStuckReports()

	got, err := f.reportRepo.Get("stuck")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if got.Status != string(statemachine.ReportStatusFailed) {
		t.Fatalf("stuck report must be failed, got %s", got.Status)
	}
	untouched, err := f.reportRepo.Get("done")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if untouched.Status != string(statemachine.ReportStatusCompleted) {
		t.Fatalf("terminal report must stay completed, got %s", untouched.Status)
	}
}
