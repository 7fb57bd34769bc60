package constants

import "time"

const (
	ServiceName = "user-event-consumer" // 用作 Sarama ClientID 以及死信记录中的处理服务名

	DeadLetterTopicSuffix = ".deadletter" // 死信主题 = 原始主题 + 此后缀

	DefaultRegistrationTopic = "user.registration.event"

	KafkaConsumeRetryInterval = 5 * time.Second // Consume 出错后重新进入消费循环前的等待时间
)
