package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	//楽観ロック失敗（versionが進んでいた）
	ErrConflict = errors.New("conflict")
	//一意制約違反
	ErrDuplicate = errors.New("duplicate")
	//同じ利用者の冪等キーで注文が既にある
	ErrIdempotencyKeyTaken = errors.New("idempotency key taken")
)
