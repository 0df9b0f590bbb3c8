package detect

// Action describes what a reconciliation pass decided.
type Action int

const (
	// ActionNone: the window's newest entry is the stored one, or the window is empty.
	ActionNone Action = iota
	// ActionBootstrap: nothing stored yet; adopt the newest id without alerting.
	ActionBootstrap
	// ActionReset: the stored id is not in the window; clear it and alert nothing.
	ActionReset
	// ActionReplay: alert the entries newer than the stored id, oldest first.
	ActionReplay
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionBootstrap:
		return "bootstrap"
	case ActionReset:
		return "reset"
	case ActionReplay:
		return "replay"
	}
	return "unknown"
}

// Plan is the result of Reconcile.
type Plan[T any] struct {
	Action Action
	// Alerts are the entries to alert, oldest first.
	Alerts []T
	// Collapsed are candidates dropped because they repeat the group of the entry before them,
	// the stored one included.
	Collapsed []T
	// Cursor is the id to store once the plan is carried out. Empty for ActionNone and
	// ActionReset.
	Cursor string
}

// Feed describes how to read an ordered event window.
type Feed[T any] struct {
	// ID returns the entry identifier.
	ID func(T) string
	// Group returns the collapse key; nil or an empty key disables collapsing for the entry.
	Group func(T) string
}

// Reconcile compares a newest-first window against the stored cursor. Entries without an id
// cannot be tracked and are ignored.
func (f Feed[T]) Reconcile(window []T, cursor string) Plan[T] {
	window = f.tracked(window)
	if len(window) == 0 {
		return Plan[T]{Action: ActionNone}
	}
	newest := f.ID(window[0])
	if cursor == "" {
		return Plan[T]{Action: ActionBootstrap, Cursor: newest}
	}
	if newest == cursor {
		return Plan[T]{Action: ActionNone}
	}

	k := -1
	for i, entry := range window {
		if f.ID(entry) == cursor {
			k = i
			break
		}
	}
	if k < 0 {
		return Plan[T]{Action: ActionReset}
	}

	plan := Plan[T]{Action: ActionReplay, Cursor: newest}
	prevGroup := f.group(window[k])
	for i := k - 1; i >= 0; i-- {
		entry := window[i]
		group := f.group(entry)
		if group != "" && group == prevGroup {
			plan.Collapsed = append(plan.Collapsed, entry)
			continue
		}
		prevGroup = group
		plan.Alerts = append(plan.Alerts, entry)
	}
	return plan
}

func (f Feed[T]) group(entry T) string {
	if f.Group == nil {
		return ""
	}
	return f.Group(entry)
}

func (f Feed[T]) tracked(window []T) []T {
	for _, entry := range window {
		if f.ID(entry) != "" {
			continue
		}
		out := make([]T, 0, len(window))
		for _, e := range window {
			if f.ID(e) != "" {
				out = append(out, e)
			}
		}
		return out
	}
	return window
}
