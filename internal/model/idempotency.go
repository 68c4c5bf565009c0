package model

import "time"

// CachedResponse 原样回放的响应
type CachedResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body"`
}

// IdempotentCall (account_id, key) 唯一
type IdempotentCall struct {
	AccountID string         `json:"account_id"`
	Key       string         `json:"key"`
	Checksum  string         `json:"checksum"`
	Response  CachedResponse `json:"response"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}
