package operations

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Record is one normalized operation row.
type Record struct {
	Kind           Kind
	Virtual        bool
	Table          string
	BlockNum       int64
	TransactionNum int
	OperationNum   int
	// ID is the synthetic key of virtual operations, empty for real ones.
	ID        string
	TrxID     string
	Timestamp time.Time
	Values    map[string]any
	Accounts  []string
}

// VirtualID returns the key of the ordinal-th (1-based) virtual operation
// reported for a block.
func VirtualID(blockNum int64, ordinal int) string {
	return strconv.FormatInt(blockNum, 10) + "-" + strconv.Itoa(ordinal)
}

// Row returns the full column map for an insert.
func (r *Record) Row() map[string]any {
	row := make(map[string]any, len(r.Values)+7)
	for k, v := range r.Values {
		row[k] = v
	}
	if r.Virtual {
		row["id"] = r.ID
	}
	row["block_num"] = r.BlockNum
	row["transaction_num"] = r.TransactionNum
	row["operation_num"] = r.OperationNum
	row["operation_type"] = string(r.Kind)
	if r.TrxID != "" {
		row["trx_id"] = r.TrxID
	} else {
		row["trx_id"] = nil
	}
	if r.Timestamp.IsZero() {
		row["timestamp"] = nil
	} else {
		row["timestamp"] = r.Timestamp
	}
	return row
}

// Key identifies the row for diagnostics.
func (r *Record) Key() string {
	if r.Virtual {
		return r.ID
	}
	return fmt.Sprintf("%d/%d/%d", r.BlockNum, r.TransactionNum, r.OperationNum)
}

// FieldError reports one field that could not be decoded. The field is
// stored with its fallback value.
type FieldError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Kind, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Extract decodes an operation body into column values and the account
// names it references. Field-level problems do not fail the extraction;
// they are returned alongside the record for the caller to log. Only a
// body that is not a JSON object is an error.
func (d *Descriptor) Extract(body json.RawMessage) (*Record, []error, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil, fmt.Errorf("decode %s body: %w", d.Kind, err)
	}

	rec := &Record{
		Kind:    d.Kind,
		Virtual: d.Virtual,
		Table:   d.Table,
		Values:  make(map[string]any, len(d.Columns)),
	}

	var problems []error
	seen := make(map[string]bool)
	for _, f := range d.Fields {
		vals, err := f.Extract(fields[f.Name])
		if err != nil {
			problems = append(problems, &FieldError{Kind: d.Kind, Field: f.Name, Err: err})
		}
		for i, col := range f.Columns {
			var v any
			if i < len(vals) {
				v = vals[i]
			}
			rec.Values[col] = v
		}
		if f.Kind == FieldAccount && len(vals) > 0 {
			if name, ok := vals[0].(string); ok && !seen[name] {
				seen[name] = true
				rec.Accounts = append(rec.Accounts, name)
			}
		}
	}
	sort.Strings(rec.Accounts)
	return rec, problems, nil
}
