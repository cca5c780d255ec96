package normalizer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/steemit/sbds/internal/models"
	"github.com/steemit/sbds/internal/operations"
)

// Result is the normalized record set of one block.
type Result struct {
	Block        *models.Block
	Transactions []*models.Transaction
	Operations   []*operations.Record
	// Skipped counts operations dropped because their kind is not
	// registered or their body could not be decoded.
	Skipped int
}

// BlockNum returns the number of the normalized block.
func (r *Result) BlockNum() int64 {
	return r.Block.BlockNum
}

// Accounts returns every account name the block references.
func (r *Result) Accounts() []string {
	return r.Block.Accounts
}

// Normalizer turns raw blocks into typed records.
type Normalizer struct {
	registry *operations.Registry
	logger   *zap.Logger
}

// New creates a normalizer over the given registry
func New(registry *operations.Registry, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{registry: registry, logger: logger}
}

// BlockNumFromPrevious derives a block number from the previous block id,
// whose first four bytes are the previous block's number.
func BlockNumFromPrevious(previous string) (int64, error) {
	if len(previous) < 8 {
		return 0, fmt.Errorf("previous block id %q too short", previous)
	}
	n, err := strconv.ParseUint(previous[:8], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("previous block id %q: %w", previous, err)
	}
	return int64(n) + 1, nil
}

// Normalize converts one raw block and its ops-in-block list. Operations
// that cannot be resolved are logged and skipped; only an unusable block
// header is an error.
func (n *Normalizer) Normalize(raw *RawBlock, applied []RawAppliedOp) (*Result, error) {
	blockNum := raw.BlockNum
	if blockNum == 0 {
		var err error
		if blockNum, err = BlockNumFromPrevious(raw.Previous); err != nil {
			return nil, err
		}
	}

	timestamp, err := operations.ParseTime(raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", blockNum, err)
	}

	payload := raw.Raw
	if len(payload) == 0 {
		if payload, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("block %d: encode raw payload: %w", blockNum, err)
		}
	}

	logger := n.logger.With(zap.Int64("block_num", blockNum))
	res := &Result{
		Block: &models.Block{
			BlockNum:              blockNum,
			Previous:              raw.Previous,
			Timestamp:             timestamp,
			Witness:               raw.Witness,
			WitnessSignature:      raw.WitnessSignature,
			TransactionMerkleRoot: raw.TransactionMerkleRoot,
			Raw:                   payload,
		},
	}

	accounts := newNameSet()
	accounts.add(raw.Witness)
	opTypes := newNameSet()

	for i, trx := range raw.Transactions {
		trxNum := i + 1
		trxID := ""
		if i < len(raw.TransactionIDs) {
			trxID = raw.TransactionIDs[i]
		}

		expiration, err := operations.ParseTime(trx.Expiration)
		if err != nil {
			logger.Warn("Invalid transaction expiration",
				zap.Int("transaction_num", trxNum), zap.Error(err))
			expiration = timestamp
		}

		trxType := ""
		if len(trx.Operations) > 0 {
			trxType = string(operations.ParseKind(trx.Operations[0].Type))
		}
		res.Transactions = append(res.Transactions, &models.Transaction{
			BlockNum:       blockNum,
			TransactionNum: trxNum,
			RefBlockNum:    trx.RefBlockNum,
			RefBlockPrefix: trx.RefBlockPrefix,
			Expiration:     expiration,
			Type:           trxType,
			TrxID:          trxID,
		})

		for j, op := range trx.Operations {
			rec := n.record(logger, op, false)
			if rec == nil {
				res.Skipped++
				continue
			}
			rec.BlockNum = blockNum
			rec.TransactionNum = trxNum
			rec.OperationNum = j + 1
			rec.TrxID = trxID
			rec.Timestamp = timestamp
			res.Operations = append(res.Operations, rec)
			accounts.add(rec.Accounts...)
			opTypes.add(string(rec.Kind))
		}
	}

	ordinal := 0
	for i := range applied {
		a := &applied[i]
		d, lookupErr := n.registry.Lookup(a.Op.Type)
		switch {
		case lookupErr == nil && !d.Virtual:
			// real operations were taken from the block's transactions
			continue
		case lookupErr != nil && !a.chainGenerated():
			continue
		}
		ordinal++

		rec := n.record(logger, a.Op, true)
		if rec == nil {
			res.Skipped++
			continue
		}
		rec.BlockNum = blockNum
		rec.ID = operations.VirtualID(blockNum, ordinal)
		if a.TrxID != zeroTrxID {
			rec.TrxID = a.TrxID
		}
		rec.Timestamp = timestamp
		if a.Timestamp != "" {
			if ts, err := operations.ParseTime(a.Timestamp); err == nil {
				rec.Timestamp = ts
			}
		}
		res.Operations = append(res.Operations, rec)
		accounts.add(rec.Accounts...)
		opTypes.add(string(rec.Kind))
	}

	res.Block.Accounts = accounts.sorted()
	res.Block.OpTypes = opTypes.sorted()
	return res, nil
}

// record resolves and extracts one operation, or returns nil when the
// operation must be skipped.
func (n *Normalizer) record(logger *zap.Logger, op RawOperation, virtual bool) *operations.Record {
	d, err := n.registry.Lookup(op.Type)
	if err != nil {
		logger.Warn("Skipping operation of unregistered type",
			zap.String("op_type", op.Type), zap.Bool("virtual", virtual), zap.Error(err))
		return nil
	}
	if d.Virtual != virtual {
		logger.Warn("Skipping operation in unexpected position",
			zap.String("op_type", op.Type), zap.Bool("virtual", virtual))
		return nil
	}

	rec, problems, err := d.Extract(op.Value)
	if err != nil {
		logger.Warn("Skipping undecodable operation",
			zap.String("op_type", op.Type), zap.String("table", d.Table), zap.Error(err))
		return nil
	}
	for _, p := range problems {
		logger.Warn("Operation field fell back to default",
			zap.String("op_type", op.Type), zap.String("table", d.Table), zap.Error(p))
	}
	return rec
}

type nameSet map[string]struct{}

func newNameSet() nameSet {
	return make(nameSet)
}

func (s nameSet) add(names ...string) {
	for _, name := range names {
		if name != "" {
			s[name] = struct{}{}
		}
	}
}

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
