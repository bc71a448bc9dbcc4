package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/docauditor/backend/internal/repository"
	"github.com/docauditor/backend/internal/service"
	"github.com/docauditor/backend/internal/service/auditflow"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

type ReportHandler struct {
	service *service.AuditService
}

func NewReportHandler(service *service.AuditService) *ReportHandler {
	return &ReportHandler{
		service: service,
	}
}

// AuditHistoryOut 历史列表行
type AuditHistoryOut struct {
	ID             string  `json:"id"`
	ProjectName    string  `json:"project_name"`
	AuditDate      string  `json:"audit_date"`
	Status         string  `json:"status"`
	TotalFiles     int     `json:"total_files"`
	CriticalIssues int     `json:"critical_issues"`
	MajorIssues    int     `json:"major_issues"`
	MinorIssues    int     `json:"minor_issues"`
	AverageScore   float64 `json:"average_score"`
	Severity       string  `json:"severity"`
}

// IssueSummaryOut 报告汇总指标
type IssueSummaryOut struct {
	TotalFiles     int     `json:"total_files"`
	CriticalIssues int     `json:"critical_issues"`
	MajorIssues    int     `json:"major_issues"`
	MinorIssues    int     `json:"minor_issues"`
	AverageScore   float64 `json:"average_freshness_score"`
	OverallHealth  string  `json:"overall_health"`
}

// FullReportOut 完整报告，files 来自评分结果的结构化解析
type FullReportOut struct {
	ID        string                 `json:"id"`
	Project   string                 `json:"project"`
	ProjectID string                 `json:"project_id"`
	AuditDate string                 `json:"audit_date"`
	Status    string                 `json:"status"`
	ReportMD  string                 `json:"report_md"`
	Summary   IssueSummaryOut        `json:"summary"`
	Files     []auditflow.FileReport `json:"files"`
}

// History 返回全部审计历史，按时间倒序
// GET /history
func (h *ReportHandler) History(c *gin.Context) {
	rows, err := h.service.GetHistory(0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]AuditHistoryOut, 0, len(rows))
	for _, r := range rows {
		out = append(out, AuditHistoryOut{
			ID:             r.ID,
			ProjectName:    r.ProjectName,
			AuditDate:      r.CreatedAt.Format(time.RFC3339),
			Status:         r.Status,
			TotalFiles:     r.TotalFiles,
			CriticalIssues: r.CriticalIssues,
			MajorIssues:    r.MajorIssues,
			MinorIssues:    r.MinorIssues,
			AverageScore:   r.AverageScore,
			Severity:       r.Severity,
		})
	}
	c.JSON(http.StatusOK, out)
}

// Get 返回完整报告
// GET /reports/:report_id
func (h *ReportHandler) Get(c *gin.Context) {
	reportID := c.Param("report_id")

	report, err := h.service.GetReport(reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	projectName := ""
	if project, err := h.service.GetProject(report.ProjectID); err == nil {
		projectName = project.Name
	}

	out := FullReportOut{
		ID:        report.ID,
		Project:   projectName,
		ProjectID: report.ProjectID,
		AuditDate: report.CreatedAt.Format(time.RFC3339),
		Status:    report.Status,
		ReportMD:  report.ReportMD,
		Summary: IssueSummaryOut{
			TotalFiles:     report.TotalFiles,
			CriticalIssues: report.CriticalIssues,
			MajorIssues:    report.MajorIssues,
			MinorIssues:    report.MinorIssues,
			AverageScore:   report.AverageScore,
		},
		Files: []auditflow.FileReport{},
	}

	// 评分结果可结构化解析时补充 overall_health 与按文件明细
	if report.AnalysisJSON != "" {
		var analysis auditflow.FreshnessAnalysis
		if err := json.Unmarshal([]byte(report.AnalysisJSON), &analysis); err == nil {
			out.Summary.OverallHealth = analysis.OverallHealth
			if analysis.Files != nil {
				out.Files = analysis.Files
			}
		} else {
			klog.V(6).Infof("报告评分结果无法解析，仅返回汇总指标: reportID=%s", reportID)
		}
	}

	c.JSON(http.StatusOK, out)
}
