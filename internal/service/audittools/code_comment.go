package audittools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// ExtractComments 提取行内注释及其上下文代码
// 供评分阶段由 LLM 判断注释与代码是否仍然一致
func ExtractComments(filePath string) string {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Sprintf("Error: File %s not found.", filePath)
	}

	lines := strings.Split(string(content), "\n")
	var results []string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.Contains(trimmed, "//") && !strings.HasPrefix(trimmed, "#") {
			continue
		}

		start := i - 2
		if start < 0 {
			start = 0
		}
		end := i + 3
		if end > len(lines) {
			end = len(lines)
		}
		results = append(results, fmt.Sprintf("Line %d: %s\nContext:\n%s",
			i+1, trimmed, strings.Join(lines[start:end], "\n")))
	}

	if len(results) == 0 {
		return "No inline comments found."
	}
	return strings.Join(results, "\n---\n")
}

// CodeCommentTool 代码注释提取工具
// 实现 Eino 的 tool.BaseTool 接口
type CodeCommentTool struct {
	basePath string
}

// NewCodeCommentTool 创建代码注释提取工具
func NewCodeCommentTool(basePath string) *CodeCommentTool {
	return &CodeCommentTool{basePath: basePath}
}

// Info 返回工具信息
func (t *CodeCommentTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "code_comment_auditor",
		Desc: "Extracts inline comments and surrounding code for LLM-based verification of correctness.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"file_path": {
				Type: schema.String,
				Desc: "Source file path relative to the project root",
			},
		}),
	}, nil
}

// InvokableRun 执行工具调用
func (t *CodeCommentTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	var args struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		klog.Errorf("[CodeCommentTool] 参数解析失败: %v", err)
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	klog.V(6).Infof("[CodeCommentTool] 提取注释: path=%s", args.FilePath)
	return ExtractComments(filepath.Join(t.basePath, args.FilePath)), nil
}
