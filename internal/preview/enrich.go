// ABOUTME: Post-fetch enrichment filters for aggregated room state
// ABOUTME: Join-rule content redaction and activity-role membership summaries

package preview

import (
	"sort"

	"github.com/pangea-chat/preview-gateway/internal/store"
)

// redactJoinRules replaces the content of every join-rules event in the
// room state with a copy holding only the join_rule key. Allow-lists and
// any other content are stripped so previews do not leak room topology
// to under-privileged callers. Runs once per fetch, before caching.
func redactJoinRules(state store.RoomState) {
	for _, ev := range state[EventTypeJoinRules] {
		content, ok := ev["content"].(map[string]any)
		if !ok {
			ev["content"] = map[string]any{}
			continue
		}
		redacted := map[string]any{}
		if rule, ok := content[JoinRuleContentKey]; ok {
			redacted[JoinRuleContentKey] = rule
		}
		ev["content"] = redacted
	}
}

// roleUserIDs collects, in sorted order, every user ID referenced by
// role entries across the room's activity-roles events. A role entry is
// any object carrying a user_id field, however the roles content nests
// them.
func roleUserIDs(state store.RoomState) []string {
	seen := make(map[string]bool)
	for _, ev := range state[EventTypeActivityRoles] {
		content, ok := ev["content"].(map[string]any)
		if !ok {
			continue
		}
		collectUserIDs(content, seen)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// collectUserIDs walks a decoded JSON value, recording every string
// user_id field it encounters.
func collectUserIDs(value any, seen map[string]bool) {
	switch v := value.(type) {
	case map[string]any:
		if id, ok := v[RoleUserIDKey].(string); ok && id != "" {
			seen[id] = true
		}
		for _, nested := range v {
			collectUserIDs(nested, seen)
		}
	case []any:
		for _, nested := range v {
			collectUserIDs(nested, seen)
		}
	}
}

// summarizeMembership maps each referenced user ID to its current
// membership value. Users with no membership event are omitted; users
// never referenced by a role are omitted even if joined.
func summarizeMembership(userIDs []string, membership map[string]string) map[string]string {
	summary := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if value, ok := membership[id]; ok {
			summary[id] = value
		}
	}
	return summary
}
