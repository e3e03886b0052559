package cache

import (
	"fmt"
	"strings"
)

// Key namespaces shared by every process that coordinates through the cache.
const (
	// QueueOrderEvents and QueueEvents are external tail points mirroring
	// in-process events; QueueNotifications feeds delivery consumers.
	QueueOrderEvents   = "order:queue"
	QueueEvents        = "events"
	QueueNotifications = "notifications"

	statsKey        = "monitor:stats"
	heartbeatPrefix = "monitor:heartbeat:"
)

func userStatusKey(userID int64) string {
	return fmt.Sprintf("user:status:%d", userID)
}

func groupStatusKey(groupID int64) string {
	return fmt.Sprintf("group:status:%d", groupID)
}

// OrderStatusKey names the per-order status hint maintained by the order
// status event handler.
func OrderStatusKey(orderID int64) string {
	return fmt.Sprintf("order:status:%d", orderID)
}

func orderProcessingKey(orderID int64) string {
	return fmt.Sprintf("order:processing:%d", orderID)
}

func userLockKey(userID int64) string {
	return fmt.Sprintf("user:lock:%d", userID)
}

func heartbeatKey(workerID string) string {
	return heartbeatPrefix + workerID
}

func workerFromHeartbeatKey(key string) string {
	return strings.TrimPrefix(key, heartbeatPrefix)
}
