package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/docauditor/backend/internal/model"
	"github.com/docauditor/backend/internal/service/statemachine"
	"gorm.io/gorm"
)

type reportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(report *model.Report) error {
	if report.Status == "" {
		report.Status = string(statemachine.ReportStatusProcessing)
	}
	return r.db.Create(report).Error
}

func (r *reportRepository) Get(id string) (*model.Report, error) {
	var report model.Report
	err := r.db.First(&report, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &report, nil
}

func (r *reportRepository) Save(report *model.Report) error {
	return r.db.Save(report).Error
}

func (r *reportRepository) SetStatus(id, status string) error {
	result := r.db.Model(&model.Report{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *reportRepository) SetFailed(id, errorMsg string) error {
	result := r.db.Model(&model.Report{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":    string(statemachine.ReportStatusFailed),
			"error_msg": errorMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDraft 保存修复建议草稿，同时把状态置为 pending_human_input
// 草稿与状态必须一次写入，轮询方才能在看到状态的同时拿到草稿
func (r *reportRepository) SetDraft(id, draft string) error {
	result := r.db.Model(&model.Report{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       string(statemachine.ReportStatusPendingHumanInput),
			"agent_output": draft,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Finalize 审计完成，写入三段产物与汇总指标，状态置为 completed
func (r *reportRepository) Finalize(id, reportMD, analysisJSON, auditRaw string, summary ReportSummary) error {
	now := time.Now()
	result := r.db.Model(&model.Report{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          string(statemachine.ReportStatusCompleted),
			"report_md":       reportMD,
			"analysis_json":   analysisJSON,
			"audit_raw":       auditRaw,
			"total_files":     summary.TotalFiles,
			"critical_issues": summary.CriticalIssues,
			"major_issues":    summary.MajorIssues,
			"minor_issues":    summary.MinorIssues,
			"average_score":   summary.AverageScore,
			"severity":        summary.Severity,
			"completed_at":    &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *reportRepository) ListHistory(limit int) ([]AuditHistoryRow, error) {
	var rows []AuditHistoryRow
	query := r.db.Model(&model.Report{}).
		Select("reports.id, projects.name as project_name, reports.created_at, reports.status, "+
			"reports.total_files, reports.critical_issues, reports.major_issues, reports.minor_issues, "+
			"reports.average_score, reports.severity").
		Joins("left join projects on projects.id = reports.project_id").
		Order("reports.created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Scan(&rows).Error
	return rows, err
}

func (r *reportRepository) ListByProject(projectID string) ([]model.Report, error) {
	var reports []model.Report
	err := r.db.Where("project_id = ?", projectID).
		Order("created_at desc").
		Find(&reports).Error
	return reports, err
}

// CleanupStuckReports 清理卡住的审计（创建后超过指定时间仍未到终止态）
// 服务重启后内存中的 HITL 等待已丢失，这类报告只能标记为失败；
// timeout 为 0 表示清理当前所有未到终止态的报告（启动恢复场景）
func (r *reportRepository) CleanupStuckReports(timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	errorMsg := fmt.Sprintf("审计超时（超过 %v），已自动标记为失败", timeout)
	if timeout <= 0 {
		errorMsg = "服务重启时审计已中断，已自动标记为失败"
	}
	result := r.db.Model(&model.Report{}).
		Where("status IN ? AND created_at < ?",
			[]string{
				string(statemachine.ReportStatusProcessing),
				string(statemachine.ReportStatusPendingHumanInput),
			}, cutoff).
		Updates(map[string]interface{}{
			"status":    string(statemachine.ReportStatusFailed),
			"error_msg": errorMsg,
		})
	return result.RowsAffected, result.Error
}
