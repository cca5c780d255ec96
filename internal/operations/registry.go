package operations

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
)

// Table names shared with the storage layer.
const (
	TablePrefix        = "sbds_op_"
	VirtualTablePrefix = "sbds_op_virtual_"
	AccountsTable      = "sbds_meta_accounts"
)

// ErrUnknownOperationType is returned for tags with no registered kind.
var ErrUnknownOperationType = errors.New("unknown operation type")

// UnknownOperationTypeError carries the tag that failed to resolve.
type UnknownOperationTypeError struct {
	Tag string
}

func (e *UnknownOperationTypeError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownOperationType, e.Tag)
}

func (e *UnknownOperationTypeError) Unwrap() error {
	return ErrUnknownOperationType
}

// reservedColumns are the columns every operation table carries. Fields
// with the same name are stored under an "op_" prefix.
var reservedColumns = map[string]bool{
	"id":              true,
	"block_num":       true,
	"transaction_num": true,
	"operation_num":   true,
	"trx_id":          true,
	"timestamp":       true,
	"operation_type":  true,
}

// Column is one typed column of an operation table.
type Column struct {
	Name    string
	Kind    FieldKind
	SQLType string
	// References is the referenced table for account columns.
	References string
}

// Field is one body field with the columns it populates.
type Field struct {
	Name    string
	Kind    FieldKind
	Columns []string
	Extract Extractor
}

// Descriptor describes the storage shape of one operation kind.
type Descriptor struct {
	Kind    Kind
	Virtual bool
	Table   string
	Fields  []Field
	Columns []Column
}

// Registry maps operation tags to descriptors. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	byKind  map[Kind]*Descriptor
	ordered []*Descriptor
}

// NewRegistry builds the registry from the operation catalog.
func NewRegistry() *Registry {
	r := &Registry{byKind: make(map[Kind]*Descriptor, len(catalog))}
	for _, e := range catalog {
		d := newDescriptor(e)
		if _, dup := r.byKind[d.Kind]; dup {
			panic(fmt.Sprintf("operations: duplicate catalog entry %q", d.Kind))
		}
		r.byKind[d.Kind] = d
		r.ordered = append(r.ordered, d)
	}
	return r
}

// Lookup resolves a tag in either the legacy ("transfer") or the appbase
// ("transfer_operation") spelling.
func (r *Registry) Lookup(tag string) (*Descriptor, error) {
	d, ok := r.byKind[ParseKind(tag)]
	if !ok {
		return nil, &UnknownOperationTypeError{Tag: tag}
	}
	return d, nil
}

// Descriptors returns every descriptor, real kinds first, in catalog order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// TableName returns the storage table for a kind.
func TableName(kind Kind, virtual bool) string {
	plural := inflection.Plural(string(kind))
	if virtual {
		return VirtualTablePrefix + plural
	}
	return TablePrefix + plural
}

// ColumnName returns the column for a body field.
func ColumnName(field string) string {
	if reservedColumns[field] {
		return "op_" + field
	}
	return field
}

func newDescriptor(e entry) *Descriptor {
	d := &Descriptor{
		Kind:    e.kind,
		Virtual: e.virtual,
		Table:   TableName(e.kind, e.virtual),
	}
	for _, name := range e.fields {
		kind := ResolveKind(name, e.kind)
		col := ColumnName(name)
		f := Field{
			Name:    name,
			Kind:    kind,
			Extract: ResolveExtractor(name, e.kind),
		}
		switch kind {
		case FieldAsset:
			f.Columns = []string{col, col + "_symbol"}
			d.Columns = append(d.Columns,
				Column{Name: col, Kind: kind, SQLType: "NUMERIC(20,6)"},
				Column{Name: col + "_symbol", Kind: kind, SQLType: "VARCHAR(5)"},
			)
		case FieldAccount:
			f.Columns = []string{col}
			d.Columns = append(d.Columns, Column{Name: col, Kind: kind, SQLType: "VARCHAR(16)", References: AccountsTable})
		default:
			f.Columns = []string{col}
			d.Columns = append(d.Columns, Column{Name: col, Kind: kind, SQLType: sqlTypes[kind]})
		}
		d.Fields = append(d.Fields, f)
	}
	return d
}

var sqlTypes = map[FieldKind]string{
	FieldText:   "TEXT",
	FieldString: "VARCHAR(512)",
	FieldTime:   "TIMESTAMP",
	FieldJSON:   "JSONB",
	FieldInt:    "BIGINT",
	FieldBool:   "BOOLEAN",
}

// CreateTableSQL returns idempotent DDL for the descriptor's table.
func (d *Descriptor) CreateTableSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(d.Table))
	if d.Virtual {
		b.WriteString("\t\"id\" VARCHAR(64) NOT NULL PRIMARY KEY,\n")
	}
	b.WriteString("\t\"block_num\" BIGINT NOT NULL,\n")
	b.WriteString("\t\"transaction_num\" INTEGER NOT NULL DEFAULT 0,\n")
	b.WriteString("\t\"operation_num\" INTEGER NOT NULL DEFAULT 0,\n")
	b.WriteString("\t\"trx_id\" VARCHAR(40),\n")
	b.WriteString("\t\"timestamp\" TIMESTAMP,\n")
	b.WriteString("\t\"operation_type\" VARCHAR(64) NOT NULL")
	for _, c := range d.Columns {
		fmt.Fprintf(&b, ",\n\t%s %s", quote(c.Name), c.SQLType)
		if c.References != "" {
			fmt.Fprintf(&b, " REFERENCES %s (\"name\")", quote(c.References))
		}
	}
	if !d.Virtual {
		b.WriteString(",\n\tPRIMARY KEY (\"block_num\", \"transaction_num\", \"operation_num\")")
	}
	b.WriteString("\n)")
	return b.String()
}

// CreateIndexSQL returns the block_num index statement for virtual tables,
// whose primary key does not lead with block_num.
func (d *Descriptor) CreateIndexSQL() string {
	if !d.Virtual {
		return ""
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (\"block_num\")",
		quote(d.Table+"_block_num_idx"), quote(d.Table))
}

// Schema returns the DDL for every operation table.
func (r *Registry) Schema() []string {
	stmts := make([]string, 0, len(r.ordered)*2)
	for _, d := range r.ordered {
		stmts = append(stmts, d.CreateTableSQL())
		if idx := d.CreateIndexSQL(); idx != "" {
			stmts = append(stmts, idx)
		}
	}
	return stmts
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
