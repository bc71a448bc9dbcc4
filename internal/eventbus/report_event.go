package eventbus

import "context"

type ReportEventType string

const (
	ReportEventStarted          ReportEventType = "AuditStarted"
	ReportEventAwaitingFeedback ReportEventType = "AwaitingFeedback"
	ReportEventFeedbackReceived ReportEventType = "FeedbackReceived"
	ReportEventCompleted        ReportEventType = "AuditCompleted"
	ReportEventFailed           ReportEventType = "AuditFailed"
)

// ReportEvent 报告生命周期事件
// 状态迁移发生时由 AuditService 同步发布
type ReportEvent struct {
	Type      ReportEventType
	ReportID  string
	ProjectID string
	Status    string
	Message   string
}

type ReportEventHandler = func(ctx context.Context, event ReportEvent) error
