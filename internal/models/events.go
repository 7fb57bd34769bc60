package models

import "encoding/json"

// DeadLetterRecord 定义了发送到死信主题 (<originalTopic>.deadletter) 的消息结构。
type DeadLetterRecord struct {
	DLQEventID        string          `json:"dlqEventId"`        // 死信事件自身的唯一ID，同时作为 Kafka 消息 Key
	OriginalTopic     string          `json:"originalTopic"`     // 原始消息所在的主题
	Partition         int32           `json:"partition"`         // 原始消息所在的分区
	Offset            string          `json:"offset"`            // 原始消息的偏移量 (十进制字符串)
	FailedMessage     json.RawMessage `json:"failedMessage"`     // 原始消息体
	ErrorMessage      string          `json:"errorMessage"`      // 处理失败的原因
	ErrorStack        string          `json:"errorStack"`        // 错误详情 (%+v)，业务错误使用 pkg/errors 时带调用栈
	Timestamp         string          `json:"timestamp"`         // ISO-8601 UTC
	ProcessingService string          `json:"processingService"` // 处理失败的服务名称
}
