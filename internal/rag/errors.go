package rag

import (
	"errors"
	"fmt"
)

// ErrorKind 向量存储错误类别（封闭集合，调用方按类别判断而非字符串匹配）
type ErrorKind string

const (
	// KindDimensionMismatch 查询/写入向量长度与集合配置维度不一致
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
	// KindCollectionNotFound 集合不存在
	KindCollectionNotFound ErrorKind = "collection_not_found"
	// KindUnavailable 向量库不可用或操作失败
	KindUnavailable ErrorKind = "unavailable"
)

// StoreError 向量存储结构化错误
type StoreError struct {
	Kind       ErrorKind
	Collection string
	Expected   int // 集合配置维度（维度不匹配时有效）
	Actual     int // 实际向量长度（维度不匹配时有效）
	Message    string
}

// Error 实现 error 接口
func (e *StoreError) Error() string {
	switch e.Kind {
	case KindDimensionMismatch:
		return fmt.Sprintf("集合 %q 向量维度不匹配: 期望 %d 实际 %d，需要重新摄取该课程", e.Collection, e.Expected, e.Actual)
	case KindCollectionNotFound:
		return fmt.Sprintf("集合 %q 不存在", e.Collection)
	default:
		return fmt.Sprintf("向量库操作失败 (集合 %q): %s", e.Collection, e.Message)
	}
}

// IsDimensionMismatch 判断是否为维度不匹配错误
func IsDimensionMismatch(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == KindDimensionMismatch
}

// IsCollectionNotFound 判断是否为集合不存在错误
func IsCollectionNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == KindCollectionNotFound
}
