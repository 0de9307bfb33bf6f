package appointment

var (
	staffRoles      = []Role{RoleStaff, RoleAdmin}
	cancelRoles     = []Role{RolePatient, RoleStaff, RoleAdmin}
	completionRoles = []Role{RoleStaff, RoleAdmin, RoleDoctor}
	openStateMoves  = map[Status][]Role{
		StatusCancelled:        cancelRoles,
		StatusCompleted:        completionRoles,
		StatusNoShow:           staffRoles,
		StatusCompletedOffline: staffRoles,
	}
)

// transitions maps from -> to -> roles allowed to make the move. Terminal
// statuses have no entry.
var transitions = map[Status]map[Status][]Role{
	StatusPending:   withConfirm(openStateMoves),
	StatusConfirmed: openStateMoves,
}

func withConfirm(base map[Status][]Role) map[Status][]Role {
	out := make(map[Status][]Role, len(base)+1)
	for to, roles := range base {
		out[to] = roles
	}
	out[StatusConfirmed] = staffRoles
	return out
}

func allowedTarget(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// CheckTransition returns a *TransitionError unless role may move an
// appointment from one status to the other. Cancellation notice is checked
// separately by the validator.
func CheckTransition(from, to Status, role Role) error {
	roles, ok := transitions[from][to]
	if !ok {
		return &TransitionError{From: from, To: to}
	}
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return &TransitionError{From: from, To: to, Role: role}
}
