package services

// syncDecision is the per-record outcome of a catalog sync pass.
type syncDecision int

const (
	syncInsert syncDecision = iota
	syncUpdate
	syncSkip
)

// decideSync implements the catalog sync rule: absent rows are inserted;
// present rows are updated unless an operator edit set app_managed (which
// force overrides). Deletion never happens during sync.
func decideSync(existsInDB, appManaged, force bool) syncDecision {
	switch {
	case !existsInDB:
		return syncInsert
	case appManaged && !force:
		return syncSkip
	default:
		return syncUpdate
	}
}
