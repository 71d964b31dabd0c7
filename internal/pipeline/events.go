package pipeline

import "time"

// Op 变更操作类型
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// JobType 索引任务类型
type JobType string

const (
	JobIndex  JobType = "index"
	JobRetire JobType = "retire"
)

// ChangeEvent 源记录的一次变更
type ChangeEvent struct {
	Op            Op        `json:"op"`
	SourceTable   string    `json:"source_table"`
	SourceID      string    `json:"source_id"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Key 去抖与在途去重使用的键
func (e ChangeEvent) Key() string {
	return e.SourceTable + ":" + e.SourceID
}

// JobType 变更对应的任务类型：删除退役，其余索引
func (e ChangeEvent) JobType() JobType {
	if e.Op == OpDelete {
		return JobRetire
	}
	return JobIndex
}

// MergeEvents 合并同键的两次变更。删除吸收一切；更新覆盖插入；
// 变更字段取并集；时间取较晚者。
func MergeEvents(older, newer ChangeEvent) ChangeEvent {
	merged := older

	if newer.Op == OpDelete || older.Op == OpDelete {
		merged.Op = OpDelete
	} else if newer.Op == OpUpdate || older.Op == OpUpdate {
		merged.Op = OpUpdate
	}

	merged.ChangedFields = unionFields(older.ChangedFields, newer.ChangedFields)
	if newer.OccurredAt.After(older.OccurredAt) {
		merged.OccurredAt = newer.OccurredAt
	}
	return merged
}

func unionFields(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, field := range a {
		if !seen[field] {
			seen[field] = true
			out = append(out, field)
		}
	}
	for _, field := range b {
		if !seen[field] {
			seen[field] = true
			out = append(out, field)
		}
	}
	return out
}
