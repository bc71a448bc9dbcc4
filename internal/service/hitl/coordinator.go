// Package hitl 实现审计流水线的人工审核协调器
// 流水线工作协程在阶段三暂停，等待 HTTP 协程投递人工反馈后恢复
package hitl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

var (
	ErrNotInstalled  = errors.New("hitl coordinator is not installed")
	ErrAlreadyPaused = errors.New("report already has a pending hitl request")
	ErrNotLinked     = errors.New("report is not linked to a running pipeline")
)

// ResolutionKind 暂停被恢复的方式
type ResolutionKind string

const (
	ResolutionFeedback ResolutionKind = "feedback" // 收到人工反馈
	ResolutionTimeout  ResolutionKind = "timeout"  // 等待超时，按默认通过处理
	ResolutionTeardown ResolutionKind = "teardown" // 协调器收尾，按默认通过处理
)

// Resolution 暂停的恢复结果
// 超时与收尾均视为"默认通过"：Feedback 为空串，语义等同人工直接批准
type Resolution struct {
	Kind     ResolutionKind
	Feedback string
}

// Approved 反馈为空即视为原样通过草稿
func (r Resolution) Approved() bool {
	return r.Feedback == ""
}

// PendingRequest 单个报告的暂停句柄
// 每个 reportID 同一时刻至多存在一个
type PendingRequest struct {
	reportID string
	draft    string
	feedback chan string // 容量 1；SendFeedback 投递后立即返回
}

// Draft 返回等待审核的草稿文本
func (p *PendingRequest) Draft() string {
	return p.draft
}

// Coordinator 人工审核协调器
// 注册表为进程内状态：服务重启后所有暂停丢失，对应报告由启动清理标记失败
type Coordinator struct {
	mu        sync.Mutex
	installed bool
	linked    map[string]bool            // 正在执行的流水线
	pending   map[string]*PendingRequest // 暂停中的流水线
	timeout   time.Duration
}

// NewCoordinator 创建协调器
// timeout: 等待人工反馈的上限，超时按默认通过恢复
func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{timeout: timeout}
}

// Install 服务启动时初始化注册表，只允许调用一次生效
func (c *Coordinator) Install() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installed {
		return
	}
	c.installed = true
	c.linked = make(map[string]bool)
	c.pending = make(map[string]*PendingRequest)
	klog.V(6).Infof("HITL协调器已安装: timeout=%v", c.timeout)
}

// Uninstall 服务收尾时释放注册表
// 所有仍在等待的流水线按默认通过恢复，避免挂起阻塞进程退出
func (c *Coordinator) Uninstall() {
	c.mu.Lock()
	if !c.installed {
		c.mu.Unlock()
		return
	}
	c.installed = false
	waiters := c.pending
	c.pending = nil
	c.linked = nil
	c.mu.Unlock()

	for id, req := range waiters {
		close(req.feedback)
		klog.V(6).Infof("HITL协调器收尾，唤醒等待中的流水线: reportID=%s", id)
	}
	klog.V(6).Infof("HITL协调器已卸载")
}

// LinkReport 登记当前正在执行的流水线对应的报告
func (c *Coordinator) LinkReport(reportID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed {
		return
	}
	c.linked[reportID] = true
	klog.V(6).Infof("流水线已关联报告: reportID=%s", reportID)
}

// Pause 注册暂停句柄
// 返回后调用方应先持久化 pending_human_input 状态，再调用 Wait 阻塞
func (c *Coordinator) Pause(reportID, draft string) (*PendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed {
		return nil, ErrNotInstalled
	}
	if !c.linked[reportID] {
		return nil, ErrNotLinked
	}
	if _, exists := c.pending[reportID]; exists {
		return nil, fmt.Errorf("%w: reportID=%s", ErrAlreadyPaused, reportID)
	}

	req := &PendingRequest{
		reportID: reportID,
		draft:    draft,
		feedback: make(chan string, 1),
	}
	c.pending[reportID] = req
	klog.V(6).Infof("流水线已暂停等待人工反馈: reportID=%s, draftLength=%d", reportID, len(draft))
	return req, nil
}

// Wait 阻塞当前（工作）协程，直到反馈送达、超时或 ctx 取消
// 仅允许在流水线自己的协程上调用，绝不能在 HTTP 处理协程上调用
func (c *Coordinator) Wait(ctx context.Context, req *PendingRequest) (Resolution, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case fb, ok := <-req.feedback:
		if !ok {
			// 协调器收尾，按默认通过处理
			return Resolution{Kind: ResolutionTeardown}, nil
		}
		klog.V(6).Infof("收到人工反馈: reportID=%s, feedbackLength=%d", req.reportID, len(fb))
		return Resolution{Kind: ResolutionFeedback, Feedback: fb}, nil

	case <-timer.C:
		// 超时与反馈可能竞争：若反馈已赢得注册表删除，以反馈为准
		c.mu.Lock()
		if c.installed && c.pending != nil {
			if _, exists := c.pending[req.reportID]; exists {
				delete(c.pending, req.reportID)
				c.mu.Unlock()
				klog.Warningf("等待人工反馈超时，按默认通过恢复: reportID=%s, timeout=%v", req.reportID, c.timeout)
				return Resolution{Kind: ResolutionTimeout}, nil
			}
		}
		c.mu.Unlock()
		if fb, ok := <-req.feedback; ok {
			return Resolution{Kind: ResolutionFeedback, Feedback: fb}, nil
		}
		return Resolution{Kind: ResolutionTeardown}, nil

	case <-ctx.Done():
		c.removePending(req.reportID)
		return Resolution{}, ctx.Err()
	}
}

// SendFeedback 从 HTTP 协程投递反馈并唤醒对应的暂停流水线
// 没有对应暂停时返回 false（已恢复/已超时/从未暂停），属正常的过期提交信号
func (c *Coordinator) SendFeedback(reportID, feedback string) bool {
	c.mu.Lock()
	req, exists := c.pending[reportID]
	if exists {
		delete(c.pending, reportID)
	}
	c.mu.Unlock()

	if !exists {
		klog.V(6).Infof("反馈投递未命中暂停请求: reportID=%s", reportID)
		return false
	}

	req.feedback <- feedback
	klog.V(6).Infof("反馈已投递: reportID=%s, feedbackLength=%d", reportID, len(feedback))
	return true
}

// HasPending 查询报告是否处于暂停等待中
func (c *Coordinator) HasPending(reportID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.pending[reportID]
	return exists
}

// Remove 清理报告在注册表中的所有条目
// 流水线结束或失败后必须调用，防止跨报告泄漏
func (c *Coordinator) Remove(reportID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed {
		return
	}
	delete(c.linked, reportID)
	delete(c.pending, reportID)
}

func (c *Coordinator) removePending(reportID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		delete(c.pending, reportID)
	}
}
