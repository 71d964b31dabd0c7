package rag

import "errors"

var (
	// ErrUnknownTable 来源表未在加载器注册表中注册
	ErrUnknownTable = errors.New("unknown source table")

	// ErrRecordNotFound 来源记录不存在或已不可见
	ErrRecordNotFound = errors.New("source record not found")

	// ErrRetrievalUnavailable 检索后端不可用
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)
