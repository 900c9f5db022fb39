package qbridge

import (
	"errors"
	"sort"
)

// ErrNotSortable is returned by Model.SortInserted when the model's data
// source does not implement SortableModel.
var ErrNotSortable = errors.New("qbridge: model does not implement SortableModel")

// SortableModel is a data source that keeps its rows ordered. Models whose
// type implements it can use Model.SortInserted after appending rows.
type SortableModel interface {
	ModelDataSource

	// RowLess reports whether row i sorts before row j
	RowLess(i, j int) bool
	// RowMove moves row src to index dst, where dst <= src. It must not
	// emit signals.
	RowMove(src, dst int)
}

// SortInserted moves the rows [start:end), which were appended to an
// ordered model, into place among the rows before them and announces them
// with modelInsert. Rows that land next to each other are announced
// together.
//
// Like other model changes, SortInserted runs on the owner; workers call
// it from work queued through a Thread. The model is locked while rows
// move.
func (m *Model) SortInserted(start, end int) error {
	if m.QObject == nil {
		return ErrNotInitialized
	}
	if err := m.Loop().checkOwner(); err != nil {
		return err
	}
	rows, ok := m.dataSource().(SortableModel)
	if !ok {
		return ErrNotSortable
	}

	m.Lock()
	defer m.Unlock()

	runStart, runLen := 0, 0
	for i := start; i < end; i++ {
		dst := sort.Search(i, func(j int) bool { return rows.RowLess(i, j) })
		if dst != i {
			rows.RowMove(i, dst)
		}

		switch {
		case runLen == 0:
			runStart, runLen = dst, 1
		case dst >= runStart && dst <= runStart+runLen:
			runLen++
		default:
			m.Inserted(runStart, runLen)
			runStart, runLen = dst, 1
		}
	}
	if runLen > 0 {
		m.Inserted(runStart, runLen)
	}
	return nil
}
