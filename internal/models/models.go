// Package models holds the value types shared by the trending pipeline.
package models

import "errors"

// 定義常見錯誤
var (
	ErrInvalidRequest = errors.New("invalid fetch request")
	ErrKeyNotFound    = errors.New("key not found in cache")
)
