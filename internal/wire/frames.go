package wire

import "time"

func NewPing(sentAt time.Time) *PingFrame {
	return &PingFrame{
		Envelope:        Envelope{EventType: Ping, Timestamp: sentAt.UTC()},
		ClientTimestamp: sentAt.UnixMilli(),
	}
}

// NewPong 构造与 ping 关联的响应帧，主要用于测试和本地回环
func NewPong(ping *PingFrame, now time.Time) *PongFrame {
	return &PongFrame{
		Envelope:        Envelope{EventType: Pong, Timestamp: now.UTC(), CorrelationID: ping.RequestID},
		ClientTimestamp: ping.ClientTimestamp,
		ServerTimestamp: now.UnixMilli(),
	}
}

func NewUserMessage(content string) *UserMessageFrame {
	return &UserMessageFrame{
		Envelope: Envelope{EventType: UserMessage},
		Content:  content,
	}
}

func NewSubscribe(eventTypes ...EventType) *SubscribeFrame {
	return &SubscribeFrame{
		Envelope:   Envelope{EventType: Subscribe},
		EventTypes: eventTypes,
	}
}

func NewUnsubscribe(eventTypes ...EventType) *UnsubscribeFrame {
	return &UnsubscribeFrame{
		Envelope:   Envelope{EventType: Unsubscribe},
		EventTypes: eventTypes,
	}
}
