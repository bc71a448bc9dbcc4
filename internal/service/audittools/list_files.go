package audittools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// ListFiles 递归列出目录下所有文件，跳过隐藏目录与隐藏文件
// 返回相对于 directory 的路径清单
func ListFiles(directory string) string {
	if info, err := os.Stat(directory); err != nil || !info.IsDir() {
		return fmt.Sprintf("Error: Directory %s not found.", directory)
	}

	var files []string
	filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != directory && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(directory, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})

	if len(files) == 0 {
		return "No files found in the directory."
	}
	return strings.Join(files, "\n")
}

// ListFilesTool 文件列表工具
// 实现 Eino 的 tool.BaseTool 接口
type ListFilesTool struct {
	basePath string
}

// NewListFilesTool 创建文件列表工具
func NewListFilesTool(basePath string) *ListFilesTool {
	return &ListFilesTool{basePath: basePath}
}

// Info 返回工具信息
func (t *ListFilesTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "list_files",
		Desc: "Recursively lists all files in a directory to help identify which files need auditing.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"directory": {
				Type: schema.String,
				Desc: "Directory relative to the base path",
			},
		}),
	}, nil
}

// InvokableRun 执行工具调用
func (t *ListFilesTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	var args struct {
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		klog.Errorf("[ListFilesTool] 参数解析失败: %v", err)
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	klog.V(6).Infof("[ListFilesTool] 列出文件: directory=%s", args.Directory)
	return ListFiles(filepath.Join(t.basePath, args.Directory)), nil
}
