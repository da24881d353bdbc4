package enums

import "slices"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeSystemAnnouncement NotificationType = "system_announcement"
	NotificationTypeOrderAlert         NotificationType = "order_alert"
	NotificationTypeTrialAlert         NotificationType = "trial_alert"
)

var notificationTypes = []NotificationType{
	NotificationTypeSystemAnnouncement,
	NotificationTypeOrderAlert,
	NotificationTypeTrialAlert,
}

func (n NotificationType) IsValid() bool { return slices.Contains(notificationTypes, n) }

func ParseNotificationType(value string) (NotificationType, error) {
	return parse("notification type", value, notificationTypes)
}
