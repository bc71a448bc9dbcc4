package model

import (
	"time"
)

// Project 被审计的代码项目
// 创建后不可变；一个 Project 可对应多个 Report
type Project struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"` // UUID
	Name      string    `json:"name" gorm:"size:255;not null"`
	Path      string    `json:"path" gorm:"size:500;not null"` // 本地项目目录
	CreatedAt time.Time `json:"created_at"`
	Reports   []Report  `json:"reports,omitempty" gorm:"foreignKey:ProjectID"`
}

// Report 一次文档新鲜度审计的记录
// 状态流转: processing -> pending_human_input -> processing -> completed/failed
// completed 与 failed 为终止态
type Report struct {
	ID        string `json:"id" gorm:"primaryKey;size:64"` // UUID
	ProjectID string `json:"project_id" gorm:"size:64;index;not null"`
	Status    string `json:"status" gorm:"size:50;default:processing"` // processing, pending_human_input, completed, failed

	// 中间产物
	AgentOutput  string `json:"agent_output" gorm:"type:text"`  // 等待人工审核的修复建议草稿
	AuditRaw     string `json:"audit_raw" gorm:"type:text"`     // 阶段一：原始审计发现
	AnalysisJSON string `json:"analysis_json" gorm:"type:text"` // 阶段二：新鲜度评分 JSON
	ReportMD     string `json:"report_md" gorm:"type:text"`     // 最终报告 Markdown

	// 汇总指标（从 AnalysisJSON 解析）
	TotalFiles     int     `json:"total_files" gorm:"default:0"`
	CriticalIssues int     `json:"critical_issues" gorm:"default:0"`
	MajorIssues    int     `json:"major_issues" gorm:"default:0"`
	MinorIssues    int     `json:"minor_issues" gorm:"default:0"`
	AverageScore   float64 `json:"average_score" gorm:"default:0"`
	Severity       string  `json:"severity" gorm:"size:50"`

	ErrorMsg    string     `json:"error_msg" gorm:"size:2000"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}
