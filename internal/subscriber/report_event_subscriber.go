package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docauditor/backend/internal/eventbus"
	"k8s.io/klog/v2"
)

// ReportEventSubscriber 订阅报告生命周期事件，写入审计活动日志
// 活动日志为 JSONL 文件，一行一个事件，供排查 HITL 流转时序
type ReportEventSubscriber struct {
	mu      sync.Mutex
	logPath string
}

type activityRecord struct {
	Time      string `json:"time"`
	Type      string `json:"type"`
	ReportID  string `json:"report_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func NewReportEventSubscriber(dataDir string) *ReportEventSubscriber {
	return &ReportEventSubscriber{
		logPath: filepath.Join(dataDir, "activity.log"),
	}
}

func (s *ReportEventSubscriber) Register(bus *eventbus.Bus) {
	if bus == nil {
		return
	}
	bus.Subscribe(eventbus.ReportEventStarted, s.handle)
	bus.Subscribe(eventbus.ReportEventAwaitingFeedback, s.handle)
	bus.Subscribe(eventbus.ReportEventFeedbackReceived, s.handle)
	bus.Subscribe(eventbus.ReportEventCompleted, s.handle)
	bus.Subscribe(eventbus.ReportEventFailed, s.handle)
}

func (s *ReportEventSubscriber) handle(ctx context.Context, event eventbus.ReportEvent) error {
	if event.ReportID == "" {
		return fmt.Errorf("报告ID为空")
	}

	record := activityRecord{
		Time:      time.Now().Format(time.RFC3339),
		Type:      string(event.Type),
		ReportID:  event.ReportID,
		ProjectID: event.ProjectID,
		Status:    event.Status,
		Message:   event.Message,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		klog.Errorf("活动日志打开失败: %v", err)
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		klog.Errorf("活动日志写入失败: %v", err)
		return err
	}

	klog.V(6).Infof("活动日志已记录: type=%s, reportID=%s, status=%s", event.Type, event.ReportID, event.Status)
	return nil
}
