package notification

import "sync"

// MockNotifier records sent notices for tests
type MockNotifier struct {
	mutex sync.Mutex
	Sent  []SentNotice
}

// SentNotice is one captured delivery
type SentNotice struct {
	Type         NoticeType
	Notification NotificationData
	Template     NoticeTemplate
}

// NewMockNotifier creates a capturing notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Sent = append(m.Sent, SentNotice{Type: noticeType, Notification: notification, Template: template})
	return nil
}

// SentTo returns the notices delivered to the given address
func (m *MockNotifier) SentTo(to string) []SentNotice {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var result []SentNotice
	for _, notice := range m.Sent {
		if notice.Notification.To == to {
			result = append(result, notice)
		}
	}
	return result
}
