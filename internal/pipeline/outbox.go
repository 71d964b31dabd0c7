package pipeline

import (
	"time"

	"gorm.io/gorm"
)

// EventSink 接收提交后变更事件的下游（通常是Debouncer）
type EventSink interface {
	Notify(event ChangeEvent)
}

// Outbox 事务内的变更暂存区。业务写入在事务中Stage变更，
// 事务提交成功后DrainAfterCommit把事件转发给下游；回滚则丢弃。
// 保证索引流水线只看到已提交的数据。
type Outbox struct {
	staged []ChangeEvent
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// Stage 暂存一次变更
func (o *Outbox) Stage(op Op, table, id string, changedFields []string) {
	o.staged = append(o.staged, ChangeEvent{
		Op:            op,
		SourceTable:   table,
		SourceID:      id,
		ChangedFields: changedFields,
		OccurredAt:    time.Now(),
	})
}

// Staged 当前暂存的事件数
func (o *Outbox) Staged() int {
	return len(o.staged)
}

// DrainAfterCommit 提交后调用：转发全部事件并清空暂存区。
// 每个事件只会被转发一次。
func (o *Outbox) DrainAfterCommit(sink EventSink) {
	staged := o.staged
	o.staged = nil
	for _, event := range staged {
		sink.Notify(event)
	}
}

// Discard 回滚后调用：丢弃全部暂存事件
func (o *Outbox) Discard() {
	o.staged = nil
}

// WithOutbox 在一个gorm事务中执行fn，提交成功后把暂存的变更
// 转发给sink。fn返回错误时事务回滚且不产生任何事件。
func WithOutbox(db *gorm.DB, sink EventSink, fn func(tx *gorm.DB, outbox *Outbox) error) error {
	outbox := NewOutbox()
	err := db.Transaction(func(tx *gorm.DB) error {
		return fn(tx, outbox)
	})
	if err != nil {
		outbox.Discard()
		return err
	}
	outbox.DrainAfterCommit(sink)
	return nil
}
