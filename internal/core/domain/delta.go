package domain

// RowChange is the change carried by a table delta: either Upserted or Removed.
type RowChange interface {
	isRowChange()
}

// Upserted means the row now exists with the given decoded value.
type Upserted struct {
	Row Record
}

// Removed means the row identified by the delta's primary key was erased.
type Removed struct{}

func (Upserted) isRowChange() {}
func (Removed) isRowChange()  {}

// TableDelta is a row-level change on a contract table.
type TableDelta struct {
	Contract   Name
	Table      Name
	Scope      Name
	PrimaryKey uint64
	Change     RowChange
}

// Present reports whether the row exists after the delta.
func (d *TableDelta) Present() bool {
	_, ok := d.Change.(Upserted)
	return ok
}

// Row returns the new row value. ok is false for removals.
func (d *TableDelta) Row() (Record, bool) {
	if u, ok := d.Change.(Upserted); ok {
		return u.Row, true
	}
	return nil, false
}
