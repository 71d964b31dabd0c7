package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChangeEventKey(t *testing.T) {
	event := ChangeEvent{Op: OpUpdate, SourceTable: "projects", SourceID: "42"}
	assert.Equal(t, "projects:42", event.Key())
}

func TestChangeEventJobType(t *testing.T) {
	assert.Equal(t, JobIndex, ChangeEvent{Op: OpInsert}.JobType())
	assert.Equal(t, JobIndex, ChangeEvent{Op: OpUpdate}.JobType())
	assert.Equal(t, JobRetire, ChangeEvent{Op: OpDelete}.JobType())
}

func TestMergeEventsDeleteAbsorbs(t *testing.T) {
	older := ChangeEvent{Op: OpUpdate, SourceTable: "projects", SourceID: "1"}
	newer := ChangeEvent{Op: OpDelete, SourceTable: "projects", SourceID: "1"}

	merged := MergeEvents(older, newer)
	assert.Equal(t, OpDelete, merged.Op)

	// 删除后补来的更新也不能复活记录
	merged = MergeEvents(newer, older)
	assert.Equal(t, OpDelete, merged.Op)
}

func TestMergeEventsUpdateOverridesInsert(t *testing.T) {
	older := ChangeEvent{Op: OpInsert}
	newer := ChangeEvent{Op: OpUpdate}

	assert.Equal(t, OpUpdate, MergeEvents(older, newer).Op)
	assert.Equal(t, OpInsert, MergeEvents(older, ChangeEvent{Op: OpInsert}).Op)
}

func TestMergeEventsUnionFields(t *testing.T) {
	older := ChangeEvent{Op: OpUpdate, ChangedFields: []string{"name", "description"}}
	newer := ChangeEvent{Op: OpUpdate, ChangedFields: []string{"description", "about"}}

	merged := MergeEvents(older, newer)
	assert.Equal(t, []string{"name", "description", "about"}, merged.ChangedFields)
}

func TestMergeEventsKeepsLaterTimestamp(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Minute)

	merged := MergeEvents(
		ChangeEvent{Op: OpUpdate, OccurredAt: early},
		ChangeEvent{Op: OpUpdate, OccurredAt: late},
	)
	assert.Equal(t, late, merged.OccurredAt)

	merged = MergeEvents(
		ChangeEvent{Op: OpUpdate, OccurredAt: late},
		ChangeEvent{Op: OpUpdate, OccurredAt: early},
	)
	assert.Equal(t, late, merged.OccurredAt)
}
