package audittools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// 反引号包裹、带扩展名的文件引用，如 `main.go`、`cmd/server/main.go`
var readmeMentionPattern = regexp.MustCompile("`([^`]+\\.[a-z0-9]+)`")

// AuditReadmeStructure 比对 README 中提到的文件与项目实际结构
func AuditReadmeStructure(rootDir string) string {
	readmePath := filepath.Join(rootDir, "README.md")
	content, err := os.ReadFile(readmePath)
	if err != nil {
		return "README.md not found in root directory."
	}

	matches := readmeMentionPattern.FindAllStringSubmatch(string(content), -1)
	var results []string
	for _, m := range matches {
		mention := m[1]
		if _, err := os.Stat(filepath.Join(rootDir, mention)); err != nil {
			results = append(results, fmt.Sprintf("README mentions `%s`, but it does not exist.", mention))
		}
	}

	if len(results) == 0 {
		return "All files mentioned in README exist."
	}
	return strings.Join(results, "\n")
}

// ReadmeStructureTool README 结构审计工具
// 实现 Eino 的 tool.BaseTool 接口
type ReadmeStructureTool struct {
	basePath string
}

// NewReadmeStructureTool 创建 README 结构审计工具
func NewReadmeStructureTool(basePath string) *ReadmeStructureTool {
	return &ReadmeStructureTool{basePath: basePath}
}

// Info 返回工具信息
func (t *ReadmeStructureTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "readme_structure_auditor",
		Desc: "Compares file mentions in README with the actual project structure.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"root_dir": {
				Type: schema.String,
				Desc: "Project root directory relative to the base path",
			},
		}),
	}, nil
}

// InvokableRun 执行工具调用
func (t *ReadmeStructureTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	var args struct {
		RootDir string `json:"root_dir"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		klog.Errorf("[ReadmeStructureTool] 参数解析失败: %v", err)
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	klog.V(6).Infof("[ReadmeStructureTool] 审计 README: rootDir=%s", args.RootDir)
	return AuditReadmeStructure(filepath.Join(t.basePath, args.RootDir)), nil
}
