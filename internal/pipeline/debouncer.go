package pipeline

import (
	"sync"
	"time"

	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"go.uber.org/zap"
)

// Debouncer 按键聚合窗口期内的重复变更。每个键只有一个定时器；
// 窗口内后续事件合并进待发事件并以完整窗口重新计时，连续编辑
// 只产生一次派发。窗口为零时同步直发。
type Debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	pending  map[string]*pendingEntry
	dispatch func(ChangeEvent)
}

type pendingEntry struct {
	event ChangeEvent
	timer *time.Timer
}

// NewDebouncer 创建去抖器，dispatch在定时器协程中被调用
func NewDebouncer(window time.Duration, dispatch func(ChangeEvent)) *Debouncer {
	return &Debouncer{
		window:   window,
		pending:  make(map[string]*pendingEntry),
		dispatch: dispatch,
	}
}

// Notify 接收一次变更
func (d *Debouncer) Notify(event ChangeEvent) {
	if d.window <= 0 {
		d.dispatch(event)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := event.Key()
	if entry, ok := d.pending[key]; ok {
		entry.event = MergeEvents(entry.event, event)
		// 合并后重置窗口，定时器从最后一次变更重新起算
		entry.timer.Stop()
		entry.timer = time.AfterFunc(d.window, func() {
			d.fire(key)
		})
		return
	}

	entry := &pendingEntry{event: event}
	entry.timer = time.AfterFunc(d.window, func() {
		d.fire(key)
	})
	d.pending[key] = entry
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	entry, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	d.dispatch(entry.event)
}

// Flush 立即派发全部待处理事件（停机前调用）
func (d *Debouncer) Flush() {
	d.mu.Lock()
	entries := make([]*pendingEntry, 0, len(d.pending))
	for key, entry := range d.pending {
		entry.timer.Stop()
		entries = append(entries, entry)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, entry := range entries {
		d.dispatch(entry.event)
	}

	if len(entries) > 0 {
		logger.Info("debouncer flushed", zap.Int("events", len(entries)))
	}
}

// Pending 当前待处理键数量
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
