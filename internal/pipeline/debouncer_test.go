package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventCollector struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (c *eventCollector) Notify(event ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *eventCollector) collected() []ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChangeEvent, len(c.events))
	copy(out, c.events)
	return out
}

func TestDebouncerZeroWindowDispatchesSynchronously(t *testing.T) {
	collector := &eventCollector{}
	debouncer := NewDebouncer(0, collector.Notify)

	debouncer.Notify(ChangeEvent{Op: OpInsert, SourceTable: "projects", SourceID: "1"})
	require.Len(t, collector.collected(), 1)
	assert.Equal(t, 0, debouncer.Pending())
}

func TestDebouncerMergesWithinWindow(t *testing.T) {
	collector := &eventCollector{}
	debouncer := NewDebouncer(50*time.Millisecond, collector.Notify)

	debouncer.Notify(ChangeEvent{Op: OpInsert, SourceTable: "projects", SourceID: "1", ChangedFields: []string{"name"}})
	debouncer.Notify(ChangeEvent{Op: OpUpdate, SourceTable: "projects", SourceID: "1", ChangedFields: []string{"description"}})
	assert.Equal(t, 1, debouncer.Pending())

	// 窗口结束后只派发一个合并事件
	assert.Eventually(t, func() bool {
		return len(collector.collected()) == 1
	}, time.Second, 10*time.Millisecond)

	events := collector.collected()
	assert.Equal(t, OpUpdate, events[0].Op)
	assert.ElementsMatch(t, []string{"name", "description"}, events[0].ChangedFields)
	assert.Equal(t, 0, debouncer.Pending())
}

func TestDebouncerMergeRestartsWindow(t *testing.T) {
	collector := &eventCollector{}
	debouncer := NewDebouncer(200*time.Millisecond, collector.Notify)

	debouncer.Notify(ChangeEvent{Op: OpInsert, SourceTable: "projects", SourceID: "1"})

	// 窗口过半后再来一次变更，窗口从头重新起算
	time.Sleep(120 * time.Millisecond)
	debouncer.Notify(ChangeEvent{Op: OpUpdate, SourceTable: "projects", SourceID: "1"})

	// 原窗口到期时刻（t≈200ms）不应派发
	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, collector.collected())
	assert.Equal(t, 1, debouncer.Pending())

	// 重置后的窗口到期后派发一次合并事件
	assert.Eventually(t, func() bool {
		return len(collector.collected()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, OpUpdate, collector.collected()[0].Op)
	assert.Equal(t, 0, debouncer.Pending())
}

func TestDebouncerSeparateKeys(t *testing.T) {
	collector := &eventCollector{}
	debouncer := NewDebouncer(30*time.Millisecond, collector.Notify)

	debouncer.Notify(ChangeEvent{Op: OpInsert, SourceTable: "projects", SourceID: "1"})
	debouncer.Notify(ChangeEvent{Op: OpInsert, SourceTable: "projects", SourceID: "2"})
	debouncer.Notify(ChangeEvent{Op: OpInsert, SourceTable: "skills", SourceID: "1"})
	assert.Equal(t, 3, debouncer.Pending())

	assert.Eventually(t, func() bool {
		return len(collector.collected()) == 3
	}, time.Second, 10*time.Millisecond)
}

func TestDebouncerFlush(t *testing.T) {
	collector := &eventCollector{}
	debouncer := NewDebouncer(time.Hour, collector.Notify)

	debouncer.Notify(ChangeEvent{Op: OpInsert, SourceTable: "projects", SourceID: "1"})
	debouncer.Notify(ChangeEvent{Op: OpDelete, SourceTable: "projects", SourceID: "2"})

	// 不等窗口，停机前立即派发
	debouncer.Flush()
	assert.Len(t, collector.collected(), 2)
	assert.Equal(t, 0, debouncer.Pending())

	// 再次Flush无副作用
	debouncer.Flush()
	assert.Len(t, collector.collected(), 2)
}
