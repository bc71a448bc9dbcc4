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

var (
	// gin 风格: r.GET("/path", ...) / group.POST("/path", ...)
	ginRoutePattern = regexp.MustCompile(`\.\s*(?:GET|POST|PUT|DELETE|PATCH)\s*\(\s*"([^"]+)"`)
	// FastAPI/Flask 风格: @app.get("/path") / @router.post("/path")
	decoratorRoutePattern = regexp.MustCompile(`@(?:app|router)\.(?:get|post|put|delete|patch)\("([^"]+)"\)`)
)

// DiscoverRoutes 从实现文件中提取 HTTP 路由注册
// 用于与文档中描述的 API 清单比对
func DiscoverRoutes(filePath string) string {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Sprintf("Error: File %s not found.", filePath)
	}

	seen := make(map[string]bool)
	var routes []string
	for _, pattern := range []*regexp.Regexp{ginRoutePattern, decoratorRoutePattern} {
		for _, m := range pattern.FindAllStringSubmatch(string(content), -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				routes = append(routes, m[1])
			}
		}
	}

	if len(routes) == 0 {
		return "No API routes found in this file."
	}
	return fmt.Sprintf("Found routes in implementation: %s", strings.Join(routes, ", "))
}

// RouteDiscoveryTool API 路由发现工具
// 实现 Eino 的 tool.BaseTool 接口
type RouteDiscoveryTool struct {
	basePath string
}

// NewRouteDiscoveryTool 创建 API 路由发现工具
func NewRouteDiscoveryTool(basePath string) *RouteDiscoveryTool {
	return &RouteDiscoveryTool{basePath: basePath}
}

// Info 返回工具信息
func (t *RouteDiscoveryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "route_discovery",
		Desc: "Discovers HTTP route registrations in an implementation file for comparison with documented APIs.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"file_path": {
				Type: schema.String,
				Desc: "Implementation file path relative to the project root",
			},
		}),
	}, nil
}

// InvokableRun 执行工具调用
func (t *RouteDiscoveryTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	var args struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		klog.Errorf("[RouteDiscoveryTool] 参数解析失败: %v", err)
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	klog.V(6).Infof("[RouteDiscoveryTool] 发现路由: path=%s", args.FilePath)
	return DiscoverRoutes(filepath.Join(t.basePath, args.FilePath)), nil
}
