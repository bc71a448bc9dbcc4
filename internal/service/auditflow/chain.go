package auditflow

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"

	"github.com/docauditor/backend/internal/service/audittools"
	"github.com/docauditor/backend/internal/utils"
)

// maxAuditFiles 阶段一最多扫描的源文件数，防止超大仓库撑爆提示词
const maxAuditFiles = 40

// ReviewPauser 阶段三的人工审核暂停点
// 在流水线工作协程上阻塞，直到反馈返回；空反馈表示草稿原样通过
type ReviewPauser interface {
	PauseForReview(ctx context.Context, draft string) (feedback string, err error)
}

// PauseFunc 函数适配器
type PauseFunc func(ctx context.Context, draft string) (string, error)

func (f PauseFunc) PauseForReview(ctx context.Context, draft string) (string, error) {
	return f(ctx, draft)
}

// AuditChain 基于 Chain 的审计流水线
// 使用 compose.Chain 编排三个阶段
type AuditChain struct {
	chain *compose.Chain[AuditInput, AuditOutput]
}

// NewAuditChain 创建审计 Chain
// chatModel: Eino ChatModel 实例，用于阶段二/三的 LLM 调用；
// 流水线只调用 Generate，因此以 BaseChatModel 声明依赖
// pauser: 阶段三的人工审核暂停点，按单次运行注入
func NewAuditChain(chatModel model.BaseChatModel, pauser ReviewPauser) (*AuditChain, error) {
	if pauser == nil {
		return nil, fmt.Errorf("review pauser is required")
	}

	chain := compose.NewChain[AuditInput, AuditOutput]()

	// ========== Stage 1: 提取审计 ==========
	// 运行提取工具收集原始发现；单个工具的失败以发现文本记录，不中断阶段
	chain.AppendLambda(compose.InvokableLambda(func(ctx context.Context, input AuditInput) (AuditOutput, error) {
		klog.V(6).Infof("[AuditChain Stage 1] 开始执行: projectPath=%s", input.ProjectPath)

		findings, scanned := runExtraction(ctx, input.ProjectPath)
		klog.V(6).Infof("[AuditChain Stage 1] 执行完成: filesScanned=%d, findingsLength=%d", scanned, len(findings))

		return AuditOutput{
			Input: input,
			Audit: AuditStageResult{
				Stage:        StageAudit,
				Findings:     findings,
				FilesScanned: scanned,
			},
		}, nil
	}))

	// ========== Stage 2: 新鲜度评分 ==========
	// LLM 依据阶段一发现给出结构化评分；传输层错误使整个流水线失败
	chain.AppendLambda(compose.InvokableLambda(func(ctx context.Context, output AuditOutput) (AuditOutput, error) {
		klog.V(6).Infof("[AuditChain Stage 2] 开始执行: 新鲜度评分")

		messages := []*schema.Message{
			{
				Role: schema.System,
				Content: `您是文档新鲜度分析师。请根据审计发现评估每个文件的文档与代码的一致程度，
按 0-100 打分（100 表示完全一致），并按 critical/major/minor 归类问题。
请严格按下面的 JSON 格式回复：
{
  "total_files": 3,
  "critical_issues": 1,
  "major_issues": 2,
  "minor_issues": 0,
  "average_freshness_score": 62.5,
  "overall_health": "needs_attention",
  "files": [
    {
      "file": "README.md",
      "doc_type": "readme",
      "severity": "critical",
      "freshness_score": 40,
      "confidence": 0.8,
      "score_breakdown": {"structural_match": 0.5, "semantic_accuracy": 0.4, "recency_factor": 0.3, "completeness": 0.4},
      "issues": [{"number": 1, "issue": "引用了不存在的文件", "location": "README.md", "impact": "误导读者", "expected": "", "actual": ""}],
      "recommendations": ["删除失效引用"]
    }
  ]
}`,
			},
			{
				Role: schema.User,
				Content: fmt.Sprintf("项目路径: %s\n扫描文件数: %d\n\n审计发现:\n%s",
					output.Input.ProjectPath, output.Audit.FilesScanned, output.Audit.Findings),
			},
		}

		resp, err := chatModel.Generate(ctx, messages)
		if err != nil {
			klog.Errorf("[AuditChain Stage 2] LLM 评分失败: %v", err)
			return AuditOutput{}, fmt.Errorf("freshness scoring failed: %w", err)
		}

		score := ScoreStageResult{
			Stage:   StageScore,
			RawJSON: resp.Content,
		}

		content := utils.ExtractJSON(resp.Content)
		var analysis FreshnessAnalysis
		if err := json.Unmarshal([]byte(content), &analysis); err != nil {
			// 响应不是合法 JSON 时保留原文，汇总指标归零
			klog.Warningf("[AuditChain Stage 2] JSON 解析失败，保留原始响应: %v", err)
		} else {
			score.Analysis = analysis
			score.Parsed = true
		}

		output.Score = score
		klog.V(6).Infof("[AuditChain Stage 2] 执行完成: parsed=%v, avgScore=%.1f",
			score.Parsed, score.Analysis.AverageScore)
		return output, nil
	}))

	// ========== Stage 3: 修复建议 + 人工审核 ==========
	// LLM 起草修复报告，经 pauser 暂停等待人工反馈后定稿
	chain.AppendLambda(compose.InvokableLambda(func(ctx context.Context, output AuditOutput) (AuditOutput, error) {
		klog.V(6).Infof("[AuditChain Stage 3] 开始执行: 修复建议")

		messages := []*schema.Message{
			{
				Role: schema.System,
				Content: `您是技术文档修复顾问。请根据审计发现与新鲜度评分，为每个有问题的文件
给出具体可执行的修复建议，按严重程度排序，以 Markdown 格式输出。`,
			},
			{
				Role: schema.User,
				Content: fmt.Sprintf("审计发现:\n%s\n\n新鲜度评分:\n%s",
					output.Audit.Findings, output.Score.RawJSON),
			},
		}

		resp, err := chatModel.Generate(ctx, messages)
		if err != nil {
			klog.Errorf("[AuditChain Stage 3] LLM 起草失败: %v", err)
			return AuditOutput{}, fmt.Errorf("fix suggestion failed: %w", err)
		}

		draft := utils.ExtractMarkdown(resp.Content)
		klog.V(6).Infof("[AuditChain Stage 3] 草稿完成，等待人工审核: draftLength=%d", len(draft))

		feedback, err := pauser.PauseForReview(ctx, draft)
		if err != nil {
			klog.Errorf("[AuditChain Stage 3] 人工审核暂停失败: %v", err)
			return AuditOutput{}, fmt.Errorf("hitl pause failed: %w", err)
		}

		final := draft
		if strings.TrimSpace(feedback) != "" {
			// 有反馈时按反馈修订一轮
			klog.V(6).Infof("[AuditChain Stage 3] 按人工反馈修订草稿: feedbackLength=%d", len(feedback))
			revised, err := chatModel.Generate(ctx, []*schema.Message{
				{
					Role:    schema.System,
					Content: "您是技术文档修复顾问。请按照审核人的反馈修订修复报告，保持 Markdown 格式。",
				},
				{
					Role:    schema.User,
					Content: fmt.Sprintf("草稿:\n%s\n\n审核反馈:\n%s", draft, feedback),
				},
			})
			if err != nil {
				klog.Errorf("[AuditChain Stage 3] 修订失败: %v", err)
				return AuditOutput{}, fmt.Errorf("fix revision failed: %w", err)
			}
			final = utils.ExtractMarkdown(revised.Content)
		}

		output.Suggest = SuggestStageResult{
			Stage:    StageSuggest,
			Draft:    draft,
			Feedback: feedback,
			Final:    final,
		}
		output.ReportMD = BuildReportMarkdown(output.Input.ProjectPath, output.Score, final)

		klog.V(6).Infof("[AuditChain Stage 3] 执行完成: finalLength=%d", len(final))
		return output, nil
	}))

	return &AuditChain{chain: chain}, nil
}

// Run 编译并执行 Chain
func (c *AuditChain) Run(ctx context.Context, input AuditInput) (*AuditOutput, error) {
	runnable, err := c.chain.Compile(ctx)
	if err != nil {
		klog.Errorf("[AuditChain.Run] Chain 编译失败: %v", err)
		return nil, fmt.Errorf("failed to compile chain: %w", err)
	}

	output, err := runnable.Invoke(ctx, input)
	if err != nil {
		klog.Errorf("[AuditChain.Run] Chain 执行失败: %v", err)
		return nil, fmt.Errorf("chain execution failed: %w", err)
	}

	klog.V(6).Infof("[AuditChain.Run] Chain 执行成功: reportLength=%d", len(output.ReportMD))
	return &output, nil
}

// runExtraction 运行提取工具，按文件汇总发现文本
// 工具级错误（文件缺失等）表现为 "Error: ..." 发现，不会中断提取
func runExtraction(ctx context.Context, projectPath string) (string, int) {
	var sb strings.Builder

	// 目录结构与 README 引用检查走 Eino Tool 入口
	listTool := audittools.NewListFilesTool(projectPath)
	listArgs, _ := json.Marshal(map[string]string{"directory": "."})
	listing, err := listTool.InvokableRun(ctx, string(listArgs))
	if err != nil {
		listing = fmt.Sprintf("Error: list files failed: %v", err)
	}

	readmeTool := audittools.NewReadmeStructureTool(projectPath)
	readmeArgs, _ := json.Marshal(map[string]string{"root_dir": "."})
	readmeFindings, err := readmeTool.InvokableRun(ctx, string(readmeArgs))
	if err != nil {
		readmeFindings = fmt.Sprintf("Error: readme audit failed: %v", err)
	}

	sb.WriteString("## Project files\n")
	sb.WriteString(listing)
	sb.WriteString("\n\n## README structure\n")
	sb.WriteString(readmeFindings)
	sb.WriteString("\n")

	scanned := 0
	if strings.HasPrefix(listing, "Error:") {
		return sb.String(), scanned
	}

	for _, rel := range strings.Split(listing, "\n") {
		rel = strings.TrimSpace(rel)
		if rel == "" {
			continue
		}
		ext := filepath.Ext(rel)
		if ext != ".go" && ext != ".py" {
			continue
		}
		if scanned >= maxAuditFiles {
			sb.WriteString(fmt.Sprintf("\n(源文件超过 %d 个，其余未扫描)\n", maxAuditFiles))
			break
		}
		scanned++

		full := filepath.Join(projectPath, rel)
		sb.WriteString(fmt.Sprintf("\n## %s\n", rel))
		if ext == ".go" {
			sb.WriteString("### Doc comments\n")
			sb.WriteString(audittools.AuditDocComments(full))
			sb.WriteString("\n")
		}
		sb.WriteString("### Routes\n")
		sb.WriteString(audittools.DiscoverRoutes(full))
		sb.WriteString("\n### Inline comments\n")
		sb.WriteString(audittools.ExtractComments(full))
		sb.WriteString("\n")
	}

	return sb.String(), scanned
}
