package notification

// NoticeType names a kind of notice, each with its own template per system
type NoticeType string

// NoticeTemplate holds the subject and bodies rendered with NotificationData.Data
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

type NotificationData struct {
	To   string            // Recipient identifier (e.g., email address)
	Data map[string]string // Template values
}

type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
