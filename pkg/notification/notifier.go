package notification

// NoticeType identifies a kind of message sent to users
type NoticeType string

const (
	NoticeEmailVerification NoticeType = "email_verification"
	NoticePasswordReset     NoticeType = "password_reset"
	NoticeEmailChange       NoticeType = "email_change"
	NoticePasswordChanged   NoticeType = "password_changed"
)

// NotificationData carries the recipient and template data for one
// message
type NotificationData struct {
	To   string
	Data map[string]string
}

// NoticeTemplate holds the subject and bodies for a notice type
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// Notifier delivers a rendered notice to a recipient
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}

// DefaultTemplates maps each notice type to its default template
var DefaultTemplates = map[NoticeType]NoticeTemplate{
	NoticeEmailVerification: {
		Subject: "Verify your email address",
		Text:    "Your verification code is {{.Code}}. It expires in {{.ExpiresIn}}.",
	},
	NoticePasswordReset: {
		Subject: "Reset your password",
		Text:    "Your password reset code is {{.Code}}. It expires in {{.ExpiresIn}}. If you did not request this, you can ignore this message.",
	},
	NoticeEmailChange: {
		Subject: "Confirm your new email address",
		Text:    "Your confirmation code is {{.Code}}. It expires in {{.ExpiresIn}}.",
	},
	NoticePasswordChanged: {
		Subject: "Your password was changed",
		Text:    "Your password was just changed. If this was not you, reset your password immediately.",
	},
}
