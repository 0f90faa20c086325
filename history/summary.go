package history

// Summary aggregates the full result set of a search, not only the page.
type Summary struct {
	Total        int64            `json:"total"`
	ByAction     map[Action]int64 `json:"by_action"`
	BySource     map[Source]int64 `json:"by_source"`
	UniqueUsers  int              `json:"unique_users"`
	UniqueRoles  int              `json:"unique_roles"`
	UniqueAdmins int              `json:"unique_admins"`
}

// NewSummary returns an empty Summary.
func NewSummary() *Summary {
	return &Summary{ByAction: make(map[Action]int64), BySource: make(map[Source]int64)}
}

// Add counts n entries with the given action and source.
func (s *Summary) Add(action Action, source Source, n int64) {
	s.Total += n
	s.ByAction[action] += n
	s.BySource[source] += n
}

// Summarize builds a Summary over entries.
func Summarize(entries []*Entry) *Summary {
	s := NewSummary()
	s.Total = int64(len(entries))
	users := make(map[string]struct{})
	roles := make(map[string]struct{})
	admins := make(map[string]struct{})
	for _, e := range entries {
		s.ByAction[e.Action]++
		s.BySource[e.Context.Source]++
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		if !e.RoleID.IsNil() {
			roles[e.RoleID.String()] = struct{}{}
		}
		if e.AdminID != "" {
			admins[e.AdminID] = struct{}{}
		}
	}
	s.UniqueUsers = len(users)
	s.UniqueRoles = len(roles)
	s.UniqueAdmins = len(admins)
	return s
}
