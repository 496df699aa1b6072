// Package notifier is the boundary through which the daemon surfaces new
// mail to the user. Delivery is best effort; a failure never aborts a poll
// cycle.
package notifier

import (
	"fmt"

	"github.com/TheCreeper/go-notify"

	"github.com/nhle/mailsync/internal/model"
)

// Notifier delivers a new-mail notification for one message.
type Notifier interface {
	Notify(summary model.EmailSummary) error
}

// Desktop sends notifications over the freedesktop D-Bus notification
// service.
type Desktop struct {
	AppName string
}

// NewDesktop returns a Desktop notifier labelled with the given app name.
func NewDesktop(appName string) *Desktop {
	return &Desktop{AppName: appName}
}

// Notify shows a banner with the message subject and snippet.
func (d *Desktop) Notify(summary model.EmailSummary) error {
	ntf := notify.NewNotification(summary.Subject, summary.Snippet)
	ntf.AppName = d.AppName

	if _, err := ntf.Show(); err != nil {
		return fmt.Errorf("showing notification for UID %d: %w", summary.ID, err)
	}
	return nil
}
