package repository

import (
	"errors"
	"time"

	"github.com/docauditor/backend/internal/model"
)

// ErrNotFound 记录不存在错误
var ErrNotFound = errors.New("record not found")

type ProjectRepository interface {
	Create(project *model.Project) error
	List() ([]model.Project, error)
	Get(id string) (*model.Project, error)
	GetByNamePath(name, path string) (*model.Project, error)
}

// ReportSummary 汇总指标，Finalize 时一并写入
type ReportSummary struct {
	TotalFiles     int
	CriticalIssues int
	MajorIssues    int
	MinorIssues    int
	AverageScore   float64
	Severity       string
}

// AuditHistoryRow 历史列表行，联表带出项目名称
type AuditHistoryRow struct {
	ID             string    `json:"id"`
	ProjectName    string    `json:"project_name"`
	CreatedAt      time.Time `json:"audit_date"`
	Status         string    `json:"status"`
	TotalFiles     int       `json:"total_files"`
	CriticalIssues int       `json:"critical_issues"`
	MajorIssues    int       `json:"major_issues"`
	MinorIssues    int       `json:"minor_issues"`
	AverageScore   float64   `json:"average_score"`
	Severity       string    `json:"severity"`
}

type ReportRepository interface {
	Create(report *model.Report) error
	Get(id string) (*model.Report, error)
	Save(report *model.Report) error
	SetStatus(id, status string) error
	SetFailed(id, errorMsg string) error
	// SetDraft 保存待审核草稿并将状态置为 pending_human_input
	SetDraft(id, draft string) error
	// Finalize 原子写入三段产物与汇总指标，状态置为 completed
	Finalize(id, reportMD, analysisJSON, auditRaw string, summary ReportSummary) error
	ListHistory(limit int) ([]AuditHistoryRow, error)
	ListByProject(projectID string) ([]model.Report, error)
	CleanupStuckReports(timeout time.Duration) (int64, error)
}
