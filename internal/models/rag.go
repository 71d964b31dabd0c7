package models

import "time"

// 模态常量
const (
	ModalityText = "text"
)

// 可见性常量
const (
	VisibilityPublic   = "public"
	VisibilityInternal = "internal"
	VisibilityPrivate  = "private"
)

// RagChunk 源记录文本的版本化切片，是索引与检索的基本单元。
// 逻辑槽位由 (source_table, source_id, source_field, part_index) 确定，
// 同一槽位最多存在一条活跃记录（is_deleted=false）；内容变更时旧版本被
// 软删除并写入 version+1 的新行。
type RagChunk struct {
	ChunkID     uint      `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	SourceTable string    `gorm:"column:source_table;size:100;not null;index:idx_rag_chunks_source" json:"source_table"`
	SourceID    string    `gorm:"column:source_id;size:100;not null;index:idx_rag_chunks_source" json:"source_id"`
	SourceField string    `gorm:"column:source_field;size:100" json:"source_field"`
	SourceURI   string    `gorm:"column:source_uri;size:500" json:"source_uri"`
	Modality    string    `gorm:"column:modality;size:20;not null;default:text" json:"modality"`
	MimeType    string    `gorm:"column:mime_type;size:100" json:"mime_type"`
	PartIndex   int       `gorm:"column:part_index;not null" json:"part_index"`
	Version     int       `gorm:"column:version;not null;default:1" json:"version"`
	Text        string    `gorm:"column:text;type:text;not null" json:"text"`
	Checksum    string    `gorm:"column:checksum;size:64;not null" json:"checksum"`
	Lang        string    `gorm:"column:lang;size:10" json:"lang"`
	IsDeleted   bool      `gorm:"column:is_deleted;not null;default:false;index" json:"is_deleted"`
	Visibility  string    `gorm:"column:visibility;size:20;not null;default:public" json:"visibility"`
	TenantID    string    `gorm:"column:tenant_id;size:100;index" json:"tenant_id"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (RagChunk) TableName() string {
	return "rag_chunks"
}

// RagEmbedding 分块在某个模型/模态下的向量，随分块级联删除。
// 向量以JSON数组存储（退化实现，参见检索器的候选集余弦排序）。
type RagEmbedding struct {
	ChunkID   uint      `gorm:"primaryKey;column:chunk_id;autoIncrement:false" json:"chunk_id"`
	Model     string    `gorm:"primaryKey;column:model;size:100" json:"model"`
	Modality  string    `gorm:"primaryKey;column:modality;size:20" json:"modality"`
	Dim       int       `gorm:"column:dim;not null" json:"dim"`
	Embedding string    `gorm:"column:embedding;type:json;not null" json:"embedding"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (RagEmbedding) TableName() string {
	return "rag_embeddings"
}

// RagIndexStatus 每个源记录最近一次索引的结果，只用于观测与排查，
// 不参与正确性判断。
type RagIndexStatus struct {
	ID            uint      `gorm:"primaryKey;column:id" json:"id"`
	SourceTable   string    `gorm:"column:source_table;size:100;not null;uniqueIndex:uq_rag_index_status_source" json:"source_table"`
	SourceID      string    `gorm:"column:source_id;size:100;not null;uniqueIndex:uq_rag_index_status_source" json:"source_id"`
	LastIndexedAt time.Time `gorm:"column:last_indexed_at" json:"last_indexed_at"`
	LastError     string    `gorm:"column:last_error;type:text" json:"last_error"`
}

func (RagIndexStatus) TableName() string {
	return "rag_index_status"
}

// RagDeadLetter 重试耗尽后的失败任务，仅追加，不更新。
// 重放通过重新入队实现，再次失败会产生新的死信行。
type RagDeadLetter struct {
	ID          uint      `gorm:"primaryKey;column:id" json:"id"`
	JobType     string    `gorm:"column:job_type;size:20;not null;index" json:"job_type"`
	SourceTable string    `gorm:"column:source_table;size:100;not null" json:"source_table"`
	SourceID    string    `gorm:"column:source_id;size:100;not null" json:"source_id"`
	Payload     string    `gorm:"column:payload;type:json;not null" json:"payload"`
	Error       string    `gorm:"column:error;type:text" json:"error"`
	Retries     int       `gorm:"column:retries;not null;default:0" json:"retries"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (RagDeadLetter) TableName() string {
	return "rag_dead_letters"
}
