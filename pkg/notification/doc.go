// Package notification delivers transactional email notices such as
// verification codes and password change alerts.
package notification
