package domain

import "time"

// EventType 许可证事件类型
type EventType string

const (
	EventActivated      EventType = "activated"
	EventDeactivated    EventType = "deactivated"
	EventSuspended      EventType = "suspended"
	EventUnsuspended    EventType = "unsuspended"
	EventDeleted        EventType = "deleted"
	EventExtended       EventType = "extended"
	EventKeyRegenerated EventType = "key_regenerated"
)

// Event 推送给管理端仪表盘的许可证事件
type Event struct {
	Type      EventType `json:"type"`
	LicenseID string    `json:"license_id"`
	Domain    string    `json:"domain,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	At        time.Time `json:"at"`
}
