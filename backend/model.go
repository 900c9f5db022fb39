package qbridge

// Model is embedded in another type instead of QObject to create a list
// model: rows of data whose changes are announced through signals, so that
// views connected to the model can follow it.
//
// To be a model, a type must embed Model and must implement the
// ModelDataSource interface. No other special initialization is
// necessary.
//
// When data changes, you must call Model's methods to notify listeners
// of the change. Like any other object state, this happens on the owner;
// workers change a model by queueing work through a Thread.
type Model struct {
	QObject

	// Signals
	ModelReset  func([]interface{})      `qbridge:"rowData"`
	ModelInsert func(int, []interface{}) `qbridge:"start,rowData"`
	ModelRemove func(int, int)           `qbridge:"start,end"`
	ModelMove   func(int, int, int)      `qbridge:"start,end,destination"`
	ModelUpdate func(int, interface{})   `qbridge:"row,data"`
}

// Types embedding Model must implement ModelDataSource to provide data
type ModelDataSource interface {
	Row(row int) interface{}
	RowCount() int
	RoleNames() []string
}

// Types embedding Model _may_ implement ModelDataSourceRows to provide
// a list of all rows more efficiently.
//
// If the implementation of Rows() requires copying to a new slice, it may
// be more efficient to not implement this function.
type ModelDataSourceRows interface {
	ModelDataSource
	Rows() []interface{}
}

func (m *Model) dataSource() ModelDataSource {
	// The QObject interface is embedded in Model, so it can be accessed from here,
	// but Model is embedded in the app's model type as well, and that is the type
	// that is initialized for the QObject.
	//
	// This enables a neat trick: we can access the QObject here, and its object
	// field will point back to the app's type, which is usually not available
	// from embedded types.
	impl, _ := asQObject(m)
	if impl == nil {
		return nil
	}

	ds, _ := impl.object.(ModelDataSource)
	return ds
}

// rowRange returns count rows starting at start, clamped to the model. A negative
// count is for all remaining rows.
func (m *Model) rowRange(start, count int) []interface{} {
	data := m.dataSource()
	if data == nil {
		return []interface{}{}
	}

	rowCount := data.RowCount()
	if start < 0 {
		start = 0
	}
	if start > rowCount {
		start = rowCount
	}
	if count < 0 || start+count > rowCount {
		count = rowCount - start
	}

	if s, ok := data.(ModelDataSourceRows); ok {
		return s.Rows()[start : start+count]
	}
	rows := make([]interface{}, count)
	for i := range rows {
		rows[i] = data.Row(start + i)
	}
	return rows
}

func (m *Model) Reset() {
	if m.QObject == nil {
		// No-op for uninitialized objects
		return
	}
	m.Emit("modelReset", m.rowRange(0, -1))
}

func (m *Model) Inserted(start, count int) {
	if m.QObject == nil {
		return
	}
	m.Emit("modelInsert", start, m.rowRange(start, count))
}

func (m *Model) Removed(start, count int) {
	if m.QObject == nil {
		return
	}
	m.Emit("modelRemove", start, start+count-1)
}

func (m *Model) Moved(start, count, destination int) {
	if m.QObject == nil {
		return
	}
	m.Emit("modelMove", start, start+count-1, destination)
}

func (m *Model) Updated(row int) {
	data := m.dataSource()
	if data == nil {
		return
	}
	m.Emit("modelUpdate", row, data.Row(row))
}
