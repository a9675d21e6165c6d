package sessionkit

import (
	"context"

	"github.com/indura/sessionkit/session"
)

const (
	auditEventSignInSuccess         = "sign_in_success"
	auditEventSignInFailure         = "sign_in_failure"
	auditEventSignInDiscarded       = "sign_in_discarded"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventRequirementCleared    = "password_requirement_cleared"
	auditEventSignOut               = "sign_out"
	auditEventIdleSignOut           = "idle_sign_out"
	auditEventCrossTabSync          = "cross_tab_sync"
)

func (c *Controller) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	user *session.User,
	errorCode string,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: c.now().UTC(),
		EventType: eventType,
		TabID:     c.tabID,
		Success:   success,
		Error:     errorCode,
		Metadata:  metadata,
	}
	if user != nil {
		event.UserID = user.ID
		event.Role = user.Role
	}

	c.audit.Emit(ctx, event)
}
