package subscriber

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/docauditor/backend/internal/eventbus"
)

func TestReportEventSubscriberWritesActivityLog(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.NewBus()
	NewReportEventSubscriber(dir).Register(bus)

	events := []eventbus.ReportEvent{
		{Type: eventbus.ReportEventStarted, ReportID: "r1", ProjectID: "p1", Status: "processing"},
		{Type: eventbus.ReportEventAwaitingFeedback, ReportID: "r1", ProjectID: "p1", Status: "pending_human_input"},
		{Type: eventbus.ReportEventCompleted, ReportID: "r1", ProjectID: "p1", Status: "completed", Message: "audit completed"},
	}
	for _, e := range events {
		if err := bus.Publish(context.Background(), e); err != nil {
			t.Fatalf("publish %s: %v", e.Type, err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "activity.log"))
	if err != nil {
		t.Fatalf("open activity log: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("invalid jsonl line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, record)
	}

	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %d", len(lines))
	}
	if lines[0]["type"] != string(eventbus.ReportEventStarted) || lines[0]["report_id"] != "r1" {
		t.Fatalf("unexpected first record: %v", lines[0])
	}
	if lines[2]["message"] != "audit completed" {
		t.Fatalf("unexpected last record: %v", lines[2])
	}
}

func TestReportEventSubscriberRejectsEmptyReportID(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.NewBus()
	NewReportEventSubscriber(dir).Register(bus)

	err := bus.Publish(context.Background(), eventbus.ReportEvent{Type: eventbus.ReportEventStarted})
	if err == nil {
		t.Fatalf("empty report id must propagate handler error")
	}
}
