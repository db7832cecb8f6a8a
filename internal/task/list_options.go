package task

// SortOrder defines how results should be ordered when listing tasks.
type SortOrder int

const (
	// SortBySeqAsc orders tasks by creation sequence (oldest first).
	SortBySeqAsc SortOrder = iota
	// SortBySeqDesc orders tasks by creation sequence (newest first).
	SortBySeqDesc
)

// ListOptions controls how tasks are selected when querying the store.
type ListOptions struct {
	Limit    int
	Statuses []Status
	Order    SortOrder
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of tasks returned. Zero means unlimited.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithStatuses filters tasks by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithSortOrder changes the returned order of tasks.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.Limit < 0 {
		options.Limit = 0
	}
	if options.Order != SortBySeqDesc {
		options.Order = SortBySeqAsc
	}
	options.Statuses = normalizeStatuses(options.Statuses)
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func (opts ListOptions) matches(task *Task) bool {
	if len(opts.Statuses) == 0 {
		return true
	}
	for _, status := range opts.Statuses {
		if task.Status == status {
			return true
		}
	}
	return false
}
