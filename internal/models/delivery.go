package models

import "encoding/json"

// DeliveryContext 描述一次消息投递: 来源坐标 + 原始消息体。
// 由消费网关在收到消息时创建，之后不再修改；失败路径上通过 WithError 得到带错误的副本。
type DeliveryContext struct {
	Topic     string
	Partition int32
	Offset    string // 十进制字符串，与死信记录和告警中展示的格式保持一致
	Message   json.RawMessage
	Err       error
}

// WithError 返回携带处理错误的副本
func (d DeliveryContext) WithError(err error) DeliveryContext {
	d.Err = err
	return d
}

// ErrorMessage 返回错误描述，没有错误时为空字符串
func (d DeliveryContext) ErrorMessage() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

// TopicPartitionOffset 是一次偏移量提交的单元，Offset 为下一条待消费消息的位置。
type TopicPartitionOffset struct {
	Topic     string
	Partition int32
	Offset    string
}
