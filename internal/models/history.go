package models

import "time"

type Action string

const (
	ActionLogin       Action = "login"
	ActionLogout      Action = "logout"
	ActionForceLogout Action = "force_logout"
)

type Method string

const (
	MethodManual Method = "manual"
	MethodScan   Method = "scan"
)

type LoginHistoryEvent struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Action    Action    `json:"action"`
	Method    Method    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}
