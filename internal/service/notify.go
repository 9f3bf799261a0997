package service

import "ticketboard/internal/ws"

// Broadcaster 由 ws.Hub 实现，投递失败不会回传给调用方。
type Broadcaster interface {
	Broadcast(roomCode, eventType string, payload map[string]any)
}

var _ Broadcaster = (*ws.Hub)(nil)

// canModerate 判断请求者是否为资源所有者或房间管理员。
func canModerate(requesterID, ownerID, adminID string) bool {
	if requesterID == "" {
		return false
	}
	return requesterID == ownerID || requesterID == adminID
}
