package task

import (
	"fmt"
	"strings"
)

// Selector 决定下一个要执行的 pending 任务。
//
// 选择顺序是显式策略，调度器不对任务列表的顺序做任何假设。
type Selector interface {
	Name() string
	Select(store Store) *Task
}

// 支持的选择策略名称。
const (
	SelectionFIFO = "fifo"
	SelectionLIFO = "lifo"
)

type seqSelector struct {
	name  string
	order SortOrder
}

func (s seqSelector) Name() string { return s.name }

func (s seqSelector) Select(store Store) *Task {
	if store == nil {
		return nil
	}
	pending := store.List(WithStatuses(StatusPending), WithSortOrder(s.order), WithLimit(1))
	if len(pending) == 0 {
		return nil
	}
	return pending[0]
}

// FIFO 优先执行最早创建的任务。
func FIFO() Selector {
	return seqSelector{name: SelectionFIFO, order: SortBySeqAsc}
}

// LIFO 优先执行最新创建的任务，后续任务会先于兄弟任务执行。
func LIFO() Selector {
	return seqSelector{name: SelectionLIFO, order: SortBySeqDesc}
}

// SelectorByName 根据配置名称返回选择策略，空值使用 FIFO。
func SelectorByName(name string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SelectionFIFO:
		return FIFO(), nil
	case SelectionLIFO:
		return LIFO(), nil
	default:
		return nil, fmt.Errorf("未知的任务选择策略: %s", name)
	}
}
