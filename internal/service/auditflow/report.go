package auditflow

import (
	"fmt"
	"strings"
)

// BuildReportMarkdown 组装最终审计报告
// 标题 + 汇总指标 + 按文件的问题明细 + 修复建议
func BuildReportMarkdown(projectPath string, score ScoreStageResult, suggestions string) string {
	var doc strings.Builder

	doc.WriteString("# 文档新鲜度审计报告\n\n")
	doc.WriteString(fmt.Sprintf("**项目:** %s\n\n", projectPath))

	doc.WriteString("## 汇总\n\n")
	if score.Parsed {
		a := score.Analysis
		doc.WriteString(fmt.Sprintf("- 文件数: %d\n", a.TotalFiles))
		doc.WriteString(fmt.Sprintf("- 严重问题: %d\n", a.CriticalIssues))
		doc.WriteString(fmt.Sprintf("- 主要问题: %d\n", a.MajorIssues))
		doc.WriteString(fmt.Sprintf("- 次要问题: %d\n", a.MinorIssues))
		doc.WriteString(fmt.Sprintf("- 平均新鲜度: %.1f\n", a.AverageScore))
		if a.OverallHealth != "" {
			doc.WriteString(fmt.Sprintf("- 总体状况: %s\n", a.OverallHealth))
		}
	} else {
		doc.WriteString("（评分结果未能结构化解析，原始输出见附录）\n")
	}
	doc.WriteString("\n")

	if score.Parsed && len(score.Analysis.Files) > 0 {
		doc.WriteString("## 按文件明细\n\n")
		for _, f := range score.Analysis.Files {
			doc.WriteString(fmt.Sprintf("### %s\n\n", f.File))
			doc.WriteString(fmt.Sprintf("- 严重程度: %s\n", f.Severity))
			doc.WriteString(fmt.Sprintf("- 新鲜度评分: %.1f\n", f.FreshnessScore))
			for _, issue := range f.Issues {
				doc.WriteString(fmt.Sprintf("- 问题 %d: %s", issue.Number, issue.Issue))
				if issue.Location != "" {
					doc.WriteString(fmt.Sprintf("（%s）", issue.Location))
				}
				doc.WriteString("\n")
			}
			for _, rec := range f.Recommendations {
				doc.WriteString(fmt.Sprintf("- 建议: %s\n", rec))
			}
			doc.WriteString("\n")
		}
	}

	doc.WriteString("## 修复建议\n\n")
	doc.WriteString(suggestions)
	doc.WriteString("\n")

	if !score.Parsed && score.RawJSON != "" {
		doc.WriteString("\n## 附录：评分原始输出\n\n")
		doc.WriteString(score.RawJSON)
		doc.WriteString("\n")
	}

	return doc.String()
}
