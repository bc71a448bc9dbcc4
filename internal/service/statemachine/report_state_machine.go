package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// ReportStatus 定义审计报告的所有可能状态
type ReportStatus string

const (
	ReportStatusProcessing        ReportStatus = "processing"          // 流水线执行中（初始态/反馈后恢复态）
	ReportStatusPendingHumanInput ReportStatus = "pending_human_input" // 等待人工反馈
	ReportStatusCompleted         ReportStatus = "completed"           // 审计完成（终止态）
	ReportStatusFailed            ReportStatus = "failed"              // 审计失败（终止态）
)

// ReportTransition 定义报告状态迁移
type ReportTransition struct {
	From ReportStatus
	To   ReportStatus
}

// ReportStateMachine 报告状态机
// 迁移单调：终止态后不再迁移，pending_human_input 只能由反馈推进
type ReportStateMachine struct {
	allowedTransitions map[ReportTransition]bool
}

// NewReportStateMachine 创建新的报告状态机
func NewReportStateMachine() *ReportStateMachine {
	sm := &ReportStateMachine{
		allowedTransitions: make(map[ReportTransition]bool),
	}

	// 合法的状态迁移路径
	// processing -> pending_human_input（阶段三暂停等待人工）
	// pending_human_input -> processing（收到反馈，流水线恢复）
	// processing -> completed/failed
	// pending_human_input -> failed（等待期间进程收尾等异常）
	transitions := []ReportTransition{
		{ReportStatusProcessing, ReportStatusPendingHumanInput},
		{ReportStatusPendingHumanInput, ReportStatusProcessing},
		{ReportStatusProcessing, ReportStatusCompleted},
		{ReportStatusProcessing, ReportStatusFailed},
		{ReportStatusPendingHumanInput, ReportStatusFailed},
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *ReportStateMachine) CanTransition(from, to ReportStatus) bool {
	if from == to {
		return false // 不允许状态不变
	}
	return sm.allowedTransitions[ReportTransition{From: from, To: to}]
}

// ValidateTransition 验证状态迁移并返回错误
func (sm *ReportStateMachine) ValidateTransition(from, to ReportStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidStateTransitionError{
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition 执行状态迁移（带日志）
func (sm *ReportStateMachine) Transition(from, to ReportStatus, reportID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("报告状态迁移被拒绝: reportID=%s, %s -> %s, error=%v",
			reportID, from, to, err)
		return err
	}

	klog.V(6).Infof("报告状态迁移成功: reportID=%s, %s -> %s", reportID, from, to)
	return nil
}

// InvalidStateTransitionError 无效的状态迁移错误
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid report state transition: %s -> %s", e.From, e.To)
}

// IsTerminal 判断状态是否为终止态（不能再迁移）
func IsTerminal(status ReportStatus) bool {
	return status == ReportStatusCompleted || status == ReportStatusFailed
}

// AwaitsFeedback 判断报告是否处于等待人工反馈的状态
func AwaitsFeedback(status ReportStatus) bool {
	return status == ReportStatusPendingHumanInput
}
