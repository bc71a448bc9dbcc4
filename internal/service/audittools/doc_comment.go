package audittools

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// AuditDocComments 比对 Go 源文件中函数签名与其文档注释
// 检查参数是否在注释中被提及、注释是否缺失
// 文件缺失或解析失败以 "Error: ..." 文本返回，不作为 Go error 上抛
func AuditDocComments(filePath string) string {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Sprintf("Error: File %s not found.", filePath)
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, nil, parser.ParseComments)
	if err != nil {
		return fmt.Sprintf("Error: Failed to parse %s: %v", filePath, err)
	}

	var results []string
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}

		var params []string
		if fn.Type.Params != nil {
			for _, field := range fn.Type.Params.List {
				for _, name := range field.Names {
					if name.Name == "_" {
						continue
					}
					params = append(params, name.Name)
				}
			}
		}

		if fn.Doc == nil || strings.TrimSpace(fn.Doc.Text()) == "" {
			// 未导出的简单函数也报告，由评分阶段决定严重程度
			results = append(results, fmt.Sprintf("Function '%s': Missing doc comment entirely.", fn.Name.Name))
			continue
		}

		docText := fn.Doc.Text()
		var missing []string
		for _, p := range params {
			if !strings.Contains(docText, p) {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			results = append(results, fmt.Sprintf("Function '%s': Doc comment is missing parameters: %s",
				fn.Name.Name, strings.Join(missing, ", ")))
		}
	}

	if len(results) == 0 {
		return "All function signatures match their doc comments in this file."
	}
	return strings.Join(results, "\n")
}

// DocCommentTool 文档注释审计工具
// 实现 Eino 的 tool.BaseTool 接口
type DocCommentTool struct {
	basePath string
}

// NewDocCommentTool 创建文档注释审计工具
// basePath: 操作的基础路径
func NewDocCommentTool(basePath string) *DocCommentTool {
	return &DocCommentTool{basePath: basePath}
}

// Info 返回工具信息
// 实现 tool.BaseTool 接口
func (t *DocCommentTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "doc_comment_auditor",
		Desc: "Compares function signatures with their doc comments to identify missing parameters or missing docs.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"file_path": {
				Type: schema.String,
				Desc: "Source file path relative to the project root",
			},
		}),
	}, nil
}

// InvokableRun 执行工具调用
func (t *DocCommentTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	var args struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		klog.Errorf("[DocCommentTool] 参数解析失败: %v", err)
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	klog.V(6).Infof("[DocCommentTool] 审计文件: path=%s", args.FilePath)
	return AuditDocComments(filepath.Join(t.basePath, args.FilePath)), nil
}
