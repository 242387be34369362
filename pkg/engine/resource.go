package engine

// A Resource refers to a row in the engine,
// uniquely identified by tableName and key
type Resource struct {
	tableName string
	key       int64
}

func (r *Resource) GetTableName() string {
	return r.tableName
}

func (r *Resource) GetResourceKey() int64 {
	return r.key
}
