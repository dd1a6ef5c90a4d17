package common

import "time"

const TOKEN_DURATION = 24 * time.Hour

type Response struct {
	Timestamp int64       `json:"timestamp"`
	Code      int         `json:"code"`
	Msg       string      `json:"msg"`
	Data      interface{} `json:"data,omitempty"`
}
