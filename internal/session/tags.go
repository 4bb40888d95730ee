package session

import (
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/wire"
)

const (
	TagStatus        = "status"
	TagConversations = "conversations"
	TagFunctionCalls = "function-calls"
	TagNotifications = "notifications"
)

// TagDeriver 根据入站帧计算需要失效的缓存标签，返回空表示无需失效
type TagDeriver func(frame wire.Frame) []string

// DefaultTags 只处理会改变服务端状态的四类推送
func DefaultTags(frame wire.Frame) []string {
	var tags []string
	switch f := frame.(type) {
	case *wire.StatusUpdateFrame:
		tags = append(tags, TagStatus)
		if f.Resource != "" {
			tags = append(tags, TagStatus+":"+f.Resource)
		}
		if f.UserID != "" {
			tags = append(tags, "user:"+f.UserID)
		}
	case *wire.AgentResponseFrame:
		tags = append(tags, TagConversations)
		if f.SessionID != "" {
			tags = append(tags, "session:"+f.SessionID)
		}
	case *wire.FunctionResultFrame:
		tags = append(tags, TagFunctionCalls)
		if f.CallID != "" {
			tags = append(tags, "call:"+f.CallID)
		}
	case *wire.NotificationFrame:
		tags = append(tags, TagNotifications)
		if f.UserID != "" {
			tags = append(tags, "user:"+f.UserID)
		}
	}
	return tags
}
