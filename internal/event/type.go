package event

const (
	// NotificationQueue carries SMS and email requests to the notification service.
	NotificationQueue = "advisory_notifications"
	// PushNotiQueue is the notification service's push queue.
	PushNotiQueue = "push_noti_events"
	// DeliveryEventsExchange fans out every delivery log status change.
	DeliveryEventsExchange = "advisory.delivery"
	// ReceiptQueue receives delivered/failed/opened/feedback reports.
	ReceiptQueue = "advisory_delivery_receipts"
)

// NotificationEventPushModel matches the push payload of the notification service:
// { lstUserIds?: string[], title: string, body: string, data?: any }
type NotificationEventPushModel struct {
	LstUserIds []string          `json:"lstUserIds,omitempty"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
}
