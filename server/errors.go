package server

import "errors"

// 错误分类：REST 层与 WebSocket 层据此决定状态码 / error 事件
var (
	// ErrNotFound 引用了不存在的宠物 / 用户 / 会话
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized 凭证缺失、无效或过期
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation 入参非法（坐标越界、缺少必填字段等）
	ErrValidation = errors.New("validation failed")
	// ErrVersionConflict 乐观并发写冲突：期望版本已被其他写入抢先
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate 唯一约束冲突（如重复的用户名）
	ErrDuplicate = errors.New("already exists")
)
