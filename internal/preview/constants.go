// ABOUTME: Event type and content key constants for the preview pipeline
// ABOUTME: Covers join-rule redaction and activity-role membership correlation

package preview

import "maunium.net/go/mautrix/event"

// Matrix state event types the enrichment filters key on.
// https://spec.matrix.org/v1.11/client-server-api/#mroomjoin_rules
// https://spec.matrix.org/v1.11/client-server-api/#mroommember
var (
	EventTypeJoinRules = event.StateJoinRules.Type
	EventTypeMember    = event.StateMember.Type
)

// EventTypeActivityRoles is the role-bearing event type whose referenced
// users get a membership-summary overlay.
const EventTypeActivityRoles = "pangea.activity_roles"

const (
	// JoinRuleContentKey is the only content key preserved by join-rule
	// redaction.
	JoinRuleContentKey = "join_rule"

	// RoleUserIDKey is the field naming a user inside a role entry.
	RoleUserIDKey = "user_id"

	// MembershipSummaryKey is the payload key carrying the derived
	// user-to-membership overlay.
	MembershipSummaryKey = "membership_summary"
)
