package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/docauditor/backend/internal/repository"
	"github.com/docauditor/backend/internal/service"
	"github.com/docauditor/backend/internal/service/statemachine"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{
		service: service,
	}
}

type AnalyzeRequest struct {
	ProjectName string `json:"project_name" binding:"required"`
	ProjectPath string `json:"project_path" binding:"required"`
}

type HITLFeedbackRequest struct {
	ReportID string `json:"report_id" binding:"required"`
	// Feedback 人工反馈文本，空串表示原样通过草稿
	Feedback string `json:"feedback"`
}

// StartAnalyze 启动一次审计
// POST /analyze/start
func (h *AuditHandler) StartAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.service.StartAudit(c.Request.Context(), req.ProjectName, req.ProjectPath)
	if err != nil {
		if errors.Is(err, service.ErrProjectPathInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Directory not found: " + req.ProjectPath})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"report_id":  report.ID,
		"project_id": report.ProjectID,
		"status":     report.Status,
		"message":    "Audit started. Poll GET /hitl/status/{report_id} for progress.",
	})
}

// HITLStatus 轮询审计进度
// GET /hitl/status/:report_id
func (h *AuditHandler) HITLStatus(c *gin.Context) {
	reportID := c.Param("report_id")

	report, err := h.service.GetReport(reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"report_id": reportID,
		"status":    report.Status,
	}

	switch statemachine.ReportStatus(report.Status) {
	case statemachine.ReportStatusPendingHumanInput:
		resp["agent_output"] = report.AgentOutput
		resp["message"] = "A fix suggestion draft is ready. " +
			"Review agent_output and POST /hitl/feedback with your feedback " +
			"(or empty string to approve as-is)."
	case statemachine.ReportStatusProcessing:
		resp["message"] = "Audit is still running. Please poll again."
	case statemachine.ReportStatusCompleted:
		resp["message"] = "Audit complete. Fetch full report at GET /reports/{report_id}."
	case statemachine.ReportStatusFailed:
		resp["message"] = "Audit run failed. Check server logs."
	}

	c.JSON(http.StatusOK, resp)
}

// HITLFeedback 投递人工反馈，恢复暂停中的审计
// POST /hitl/feedback
func (h *AuditHandler) HITLFeedback(c *gin.Context) {
	var req HITLFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.SubmitFeedback(req.ReportID, req.Feedback); err != nil {
		var notAwaiting *service.ErrReportNotAwaitingFeedback
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		case errors.As(err, &notAwaiting):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Report is not awaiting feedback (current status: " + notAwaiting.Status + ")",
			})
		case errors.Is(err, service.ErrFeedbackConflict):
			c.JSON(http.StatusConflict, gin.H{
				"error": "No pending HITL request found for this report (may have timed out).",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	action := "feedback submitted"
	if strings.TrimSpace(req.Feedback) == "" {
		action = "approved as-is"
	}
	c.JSON(http.StatusOK, gin.H{
		"report_id": req.ReportID,
		"status":    string(statemachine.ReportStatusProcessing),
		"message":   "Human feedback " + action + ". Audit is resuming.",
	})
}
