// Package auditflow 基于 Eino 框架的文档新鲜度审计流水线
// 三个阶段顺序执行：提取审计 -> 新鲜度评分 -> 修复建议（含人工审核暂停点）
package auditflow

// AuditInput 流水线输入
// 作为 Chain 的输入类型
type AuditInput struct {
	ProjectPath string `json:"project_path"` // 被审计项目的本地目录
}

// StageName 阶段标识
// 阶段产物以显式类型携带阶段身份，不做名称字符串嗅探
type StageName string

const (
	StageAudit   StageName = "audit"
	StageScore   StageName = "score"
	StageSuggest StageName = "suggest"
)

// AuditStageResult 阶段一产物：提取工具的原始审计发现
type AuditStageResult struct {
	Stage        StageName `json:"stage"`
	Findings     string    `json:"findings"`      // 按文件汇总的发现文本
	FilesScanned int       `json:"files_scanned"` // 扫描的文件数
}

// IssueDetail 单条问题明细
type IssueDetail struct {
	Number   int    `json:"number"`
	Issue    string `json:"issue"`
	Location string `json:"location"`
	Impact   string `json:"impact"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// FileReport 单个文件的新鲜度评估
type FileReport struct {
	File            string             `json:"file"`
	DocType         string             `json:"doc_type"`
	Severity        string             `json:"severity"`
	FreshnessScore  float64            `json:"freshness_score"`
	Confidence      float64            `json:"confidence"`
	ScoreBreakdown  map[string]float64 `json:"score_breakdown"`
	Issues          []IssueDetail      `json:"issues"`
	Recommendations []string           `json:"recommendations"`
}

// FreshnessAnalysis 阶段二的结构化评分结果
type FreshnessAnalysis struct {
	TotalFiles     int          `json:"total_files"`
	CriticalIssues int          `json:"critical_issues"`
	MajorIssues    int          `json:"major_issues"`
	MinorIssues    int          `json:"minor_issues"`
	AverageScore   float64      `json:"average_freshness_score"`
	OverallHealth  string       `json:"overall_health"`
	Files          []FileReport `json:"files"`
}

// ScoreStageResult 阶段二产物：新鲜度评分
// RawJSON 保留 LLM 的原始响应；Parsed 标记结构化解析是否成功
type ScoreStageResult struct {
	Stage    StageName         `json:"stage"`
	RawJSON  string            `json:"raw_json"`
	Analysis FreshnessAnalysis `json:"analysis"`
	Parsed   bool              `json:"parsed"`
}

// SuggestStageResult 阶段三产物：修复建议
type SuggestStageResult struct {
	Stage    StageName `json:"stage"`
	Draft    string    `json:"draft"`    // 人工审核前的草稿
	Feedback string    `json:"feedback"` // 收到的人工反馈，空串表示原样通过
	Final    string    `json:"final"`    // 审核后的最终建议文本
}

// AuditOutput 流水线输出
// 各阶段产物显式分字段携带，供持久化层按阶段取用
type AuditOutput struct {
	Input    AuditInput         `json:"input"`
	Audit    AuditStageResult   `json:"audit"`
	Score    ScoreStageResult   `json:"score"`
	Suggest  SuggestStageResult `json:"suggest"`
	ReportMD string             `json:"report_md"` // 组装后的最终报告
}
