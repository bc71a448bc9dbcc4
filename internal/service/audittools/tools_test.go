package audittools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func TestAuditDocCommentsMissingParam(t *testing.T) {
	dir := t.TempDir()
	src := `package demo

// Add 只提到了 a
// a: 加数
func Add(a, b int) int {
	return a + b
}
`
	path := filepath.Join(dir, "demo.go")
	writeFile(t, path, src)

	result := AuditDocComments(path)
	if !strings.Contains(result, "missing parameters: b") {
		t.Fatalf("expected missing parameter finding, got: %s", result)
	}
}

func TestAuditDocCommentsMissingDoc(t *testing.T) {
	dir := t.TempDir()
	src := `package demo

func Undocumented(x int) int {
	return x
}
`
	path := filepath.Join(dir, "demo.go")
	writeFile(t, path, src)

	result := AuditDocComments(path)
	if !strings.Contains(result, "Function 'Undocumented': Missing doc comment entirely.") {
		t.Fatalf("expected missing doc finding, got: %s", result)
	}
}

func TestAuditDocCommentsClean(t *testing.T) {
	dir := t.TempDir()
	src := `package demo

// Double 返回 x 的两倍
func Double(x int) int {
	return x * 2
}
`
	path := filepath.Join(dir, "demo.go")
	writeFile(t, path, src)

	result := AuditDocComments(path)
	if !strings.Contains(result, "All function signatures match") {
		t.Fatalf("expected clean result, got: %s", result)
	}
}

func TestAuditDocCommentsMissingFile(t *testing.T) {
	result := AuditDocComments(filepath.Join(t.TempDir(), "nope.go"))
	if !strings.HasPrefix(result, "Error:") {
		t.Fatalf("expected Error finding for missing file, got: %s", result)
	}
}

func TestAuditReadmeStructure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "README.md"), "Check out `missing_file.go` and `existing_file.go`.")
	writeFile(t, filepath.Join(dir, "existing_file.go"), "package demo")

	result := AuditReadmeStructure(dir)
	if !strings.Contains(result, "README mentions `missing_file.go`, but it does not exist.") {
		t.Fatalf("expected missing file finding, got: %s", result)
	}
	if strings.Contains(result, "existing_file.go`, but") {
		t.Fatalf("existing file must not be reported: %s", result)
	}
}

func TestAuditReadmeStructureNoReadme(t *testing.T) {
	result := AuditReadmeStructure(t.TempDir())
	if result != "README.md not found in root directory." {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestDiscoverRoutesGinStyle(t *testing.T) {
	dir := t.TempDir()
	src := `package router

func Setup(r *gin.Engine) {
	r.GET("/health", health)
	api := r.Group("/api")
	api.POST("/analyze/start", start)
}
`
	path := filepath.Join(dir, "router.go")
	writeFile(t, path, src)

	result := DiscoverRoutes(path)
	if !strings.Contains(result, "/health") || !strings.Contains(result, "/analyze/start") {
		t.Fatalf("expected discovered routes, got: %s", result)
	}
}

func TestDiscoverRoutesDecoratorStyle(t *testing.T) {
	dir := t.TempDir()
	src := `@app.get("/items")
def list_items():
    pass
`
	path := filepath.Join(dir, "api.py")
	writeFile(t, path, src)

	result := DiscoverRoutes(path)
	if !strings.Contains(result, "/items") {
		t.Fatalf("expected decorator route, got: %s", result)
	}
}

func TestDiscoverRoutesNone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.go")
	writeFile(t, path, "package demo")

	if result := DiscoverRoutes(path); result != "No API routes found in this file." {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestExtractComments(t *testing.T) {
	dir := t.TempDir()
	src := `package demo

func f() {
	// 缓存五分钟
	cache()
}
`
	path := filepath.Join(dir, "demo.go")
	writeFile(t, path, src)

	result := ExtractComments(path)
	if !strings.Contains(result, "缓存五分钟") || !strings.Contains(result, "Context:") {
		t.Fatalf("expected comment with context, got: %s", result)
	}
}

func TestListFilesSkipsHidden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.go"), "package main")
	writeFile(t, filepath.Join(dir, "docs", "guide.md"), "# guide")
	writeFile(t, filepath.Join(dir, ".git", "config"), "[core]")
	writeFile(t, filepath.Join(dir, ".env"), "SECRET=1")

	result := ListFiles(dir)
	if !strings.Contains(result, "main.go") || !strings.Contains(result, "docs/guide.md") {
		t.Fatalf("expected listed files, got: %s", result)
	}
	if strings.Contains(result, ".git") || strings.Contains(result, ".env") {
		t.Fatalf("hidden entries must be skipped: %s", result)
	}
}

func TestListFilesMissingDir(t *testing.T) {
	result := ListFiles(filepath.Join(t.TempDir(), "nope"))
	if !strings.HasPrefix(result, "Error:") {
		t.Fatalf("expected Error finding, got: %s", result)
	}
}

func TestToolInvokableRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "proj", "README.md"), "See `gone.go`.")

	tool := NewReadmeStructureTool(dir)
	info, err := tool.Info(context.Background())
	if err != nil {
		t.Fatalf("info error: %v", err)
	}
	if info.Name != "readme_structure_auditor" {
		t.Fatalf("unexpected tool name: %s", info.Name)
	}

	result, err := tool.InvokableRun(context.Background(), `{"root_dir":"proj"}`)
	if err != nil {
		t.Fatalf("invoke error: %v", err)
	}
	if !strings.Contains(result, "gone.go") {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestCreateTools(t *testing.T) {
	tools := CreateTools(t.TempDir())
	if len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(tools))
	}
	seen := make(map[string]bool)
	for _, tl := range tools {
		info, err := tl.Info(context.Background())
		if err != nil {
			t.Fatalf("info error: %v", err)
		}
		if seen[info.Name] {
			t.Fatalf("duplicate tool name: %s", info.Name)
		}
		seen[info.Name] = true
	}
}
