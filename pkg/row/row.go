package row

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/cespare/xxhash"
)

// Row is one tuple of the transaction_test table.
type Row struct {
	ID    int64
	Name  string
	Value int64
}

// New constructs and returns a new Row with the specified fields.
func New(id int64, name string, value int64) Row {
	return Row{ID: id, Name: name, Value: value}
}

// Canonical returns the three rows a freshly reset dataset holds.
func Canonical() []Row {
	return []Row{
		{ID: 1, Name: "Item A", Value: 100},
		{ID: 2, Name: "Item B", Value: 200},
		{ID: 3, Name: "Item C", Value: 300},
	}
}

// Marshal serializes a row into a byte array: varint id, varint value,
// then the length-prefixed name.
func (r Row) Marshal() []byte {
	buf := make([]byte, 0, 3*binary.MaxVarintLen64+len(r.Name))
	buf = binary.AppendVarint(buf, r.ID)
	buf = binary.AppendVarint(buf, r.Value)
	buf = binary.AppendUvarint(buf, uint64(len(r.Name)))
	return append(buf, r.Name...)
}

// Print writes the row to the specified writer in the following format: (<id>, <name>, <value>)
func (r Row) Print(w io.Writer) {
	fmt.Fprintf(w, "(%d, %s, %d)\n", r.ID, r.Name, r.Value)
}

// Fingerprint returns the xxHash of a table state. Rows are hashed in id
// order, so two states with the same rows always share a fingerprint.
func Fingerprint(rows []Row) uint64 {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	h := xxhash.New()
	for _, r := range sorted {
		h.Write(r.Marshal())
	}
	return h.Sum64()
}
