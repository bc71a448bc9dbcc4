package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/docauditor/backend/internal/model"
	"github.com/docauditor/backend/internal/repository"
	"github.com/docauditor/backend/internal/service"
	"github.com/gin-gonic/gin"
)

type ProjectHandler struct {
	service *service.AuditService
}

func NewProjectHandler(service *service.AuditService) *ProjectHandler {
	return &ProjectHandler{
		service: service,
	}
}

// ProjectOut 项目信息
type ProjectOut struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
}

func toProjectOut(p *model.Project) ProjectOut {
	return ProjectOut{
		ID:        p.ID,
		Name:      p.Name,
		Path:      p.Path,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

// List 返回全部项目
// GET /projects
func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.service.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]ProjectOut, 0, len(projects))
	for i := range projects {
		out = append(out, toProjectOut(&projects[i]))
	}
	c.JSON(http.StatusOK, out)
}

// Get 返回单个项目
// GET /projects/:project_id
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.service.GetProject(c.Param("project_id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toProjectOut(project))
}

// Find 按名称与路径查找项目
// GET /projects/find?name=xx&path=yy
func (h *ProjectHandler) Find(c *gin.Context) {
	name := c.Query("name")
	path := c.Query("path")
	if name == "" || path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and path are required"})
		return
	}

	project, err := h.service.FindProject(name, path)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": project.ID})
}

// Reports 返回项目的历史审计
// GET /projects/:project_id/reports
func (h *ProjectHandler) Reports(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := h.service.GetProject(projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	reports, err := h.service.ListProjectReports(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]AuditHistoryOut, 0, len(reports))
	for _, r := range reports {
		out = append(out, AuditHistoryOut{
			ID:             r.ID,
			ProjectName:    project.Name,
			AuditDate:      r.CreatedAt.Format(time.RFC3339),
			Status:         r.Status,
			TotalFiles:     r.TotalFiles,
			CriticalIssues: r.CriticalIssues,
			MajorIssues:    r.MajorIssues,
			MinorIssues:    r.MinorIssues,
			AverageScore:   r.AverageScore,
			Severity:       r.Severity,
		})
	}
	c.JSON(http.StatusOK, out)
}
