package wc

import shared "wcedit/shared/types"

func notify(ec *EditContext, path string, action shared.NotifyAction, kind shared.Kind, contentState, propState shared.State, revision int64) {
	if ec.Notifier == nil {
		return
	}
	ec.Notifier.Notify(shared.Notification{
		Path:         path,
		Action:       action,
		Kind:         kind,
		ContentState: contentState,
		PropState:    propState,
		Revision:     revision,
	})
}

func notifyCompleted(ec *EditContext, revision int64) {
	if ec.Notifier == nil {
		return
	}
	ec.Notifier.Notify(shared.Notification{
		Action:   shared.NotifyCompleted,
		Revision: revision,
	})
}
