package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RawBlock is a block as returned by condenser_api.get_block or stored in a
// checkpoint archive line.
type RawBlock struct {
	// BlockNum is only present in some archive formats; it is derived from
	// Previous otherwise.
	BlockNum              int64            `json:"block_num,omitempty"`
	Previous              string           `json:"previous"`
	Timestamp             string           `json:"timestamp"`
	Witness               string           `json:"witness"`
	TransactionMerkleRoot string           `json:"transaction_merkle_root"`
	WitnessSignature      string           `json:"witness_signature"`
	BlockID               string           `json:"block_id,omitempty"`
	Transactions          []RawTransaction `json:"transactions"`
	TransactionIDs        []string         `json:"transaction_ids,omitempty"`

	// Raw is the undecoded payload.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the block and keeps the raw payload.
func (b *RawBlock) UnmarshalJSON(data []byte) error {
	type plain RawBlock
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = RawBlock(p)
	b.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// RawTransaction is one signed transaction of a raw block.
type RawTransaction struct {
	RefBlockNum    int            `json:"ref_block_num"`
	RefBlockPrefix int64          `json:"ref_block_prefix"`
	Expiration     string         `json:"expiration"`
	Operations     []RawOperation `json:"operations"`
}

// RawOperation is an operation in either the legacy pair encoding
// ["transfer", {...}] or the appbase object encoding
// {"type": "transfer_operation", "value": {...}}.
type RawOperation struct {
	Type  string
	Value json.RawMessage
}

// UnmarshalJSON accepts both operation encodings.
func (o *RawOperation) UnmarshalJSON(data []byte) error {
	t := bytes.TrimSpace(data)
	if len(t) == 0 {
		return fmt.Errorf("empty operation")
	}
	switch t[0] {
	case '[':
		var pair []json.RawMessage
		if err := json.Unmarshal(t, &pair); err != nil {
			return fmt.Errorf("decode operation pair: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("operation pair has %d elements", len(pair))
		}
		if err := json.Unmarshal(pair[0], &o.Type); err != nil {
			return fmt.Errorf("decode operation type: %w", err)
		}
		o.Value = pair[1]
		return nil
	case '{':
		var obj struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(t, &obj); err != nil {
			return fmt.Errorf("decode operation object: %w", err)
		}
		o.Type, o.Value = obj.Type, obj.Value
		return nil
	}
	return fmt.Errorf("unsupported operation encoding: %.32s", string(t))
}

// MarshalJSON writes the legacy pair encoding.
func (o RawOperation) MarshalJSON() ([]byte, error) {
	value := o.Value
	if len(value) == 0 {
		value = json.RawMessage("{}")
	}
	return json.Marshal([]any{o.Type, value})
}

// RawAppliedOp is one entry of condenser_api.get_ops_in_block.
type RawAppliedOp struct {
	TrxID      string       `json:"trx_id"`
	Block      int64        `json:"block"`
	TrxInBlock int          `json:"trx_in_block"`
	OpInTrx    int          `json:"op_in_trx"`
	VirtualOp  int64        `json:"virtual_op"`
	Timestamp  string       `json:"timestamp"`
	Op         RawOperation `json:"op"`
}

// zeroTrxID is the transaction id the node reports for chain-generated
// operations.
const zeroTrxID = "0000000000000000000000000000000000000000"

// chainGenerated reports whether the entry carries no transaction position.
func (a *RawAppliedOp) chainGenerated() bool {
	return a.VirtualOp > 0 || a.TrxID == "" || a.TrxID == zeroTrxID
}
