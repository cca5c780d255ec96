package operations

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCounts(t *testing.T) {
	r := NewRegistry()

	var realKinds, virtualKinds int
	tables := make(map[string]Kind)
	for _, d := range r.Descriptors() {
		if d.Virtual {
			virtualKinds++
		} else {
			realKinds++
		}
		if other, dup := tables[d.Table]; dup {
			t.Fatalf("table %s shared by %s and %s", d.Table, other, d.Kind)
		}
		tables[d.Table] = d.Kind
	}
	assert.Equal(t, 47, realKinds)
	assert.Equal(t, 18, virtualKinds)
	assert.Len(t, r.Kinds(), 65)
}

func TestLookup(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name    string
		tag     string
		kind    Kind
		table   string
		virtual bool
	}{
		{name: "legacy tag", tag: "transfer", kind: Transfer, table: "sbds_op_transfers"},
		{name: "appbase tag", tag: "transfer_operation", kind: Transfer, table: "sbds_op_transfers"},
		{name: "irregular plural", tag: "account_witness_proxy", kind: AccountWitnessProxy, table: "sbds_op_account_witness_proxies"},
		{name: "already plural", tag: "comment_options", kind: CommentOptions, table: "sbds_op_comment_options"},
		{name: "virtual", tag: "author_reward", kind: AuthorReward, table: "sbds_op_virtual_author_rewards", virtual: true},
		{name: "virtual appbase", tag: "producer_reward_operation", kind: ProducerReward, table: "sbds_op_virtual_producer_rewards", virtual: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Lookup(tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.table, d.Table)
			assert.Equal(t, tt.virtual, d.Virtual)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("smt_setup_operation")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOperationType))

	var unknown *UnknownOperationTypeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "smt_setup_operation", unknown.Tag)
}

func TestColumnDerivation(t *testing.T) {
	r := NewRegistry()

	transfer, err := r.Lookup("transfer")
	require.NoError(t, err)

	var names []string
	for _, c := range transfer.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"from", "to", "amount", "amount_symbol", "memo"}, names)
	assert.Equal(t, "VARCHAR(16)", transfer.Columns[0].SQLType)
	assert.Equal(t, AccountsTable, transfer.Columns[0].References)
	assert.Equal(t, "NUMERIC(20,6)", transfer.Columns[2].SQLType)
	assert.Equal(t, "VARCHAR(5)", transfer.Columns[3].SQLType)
	assert.Equal(t, "TEXT", transfer.Columns[4].SQLType)
}

func TestFieldPrecedence(t *testing.T) {
	tests := []struct {
		field string
		op    Kind
		want  FieldKind
	}{
		{"owner", LimitOrderCreate, FieldAccount},
		{"owner", AccountCreate, FieldJSON},
		{"owner", AccountUpdate2, FieldJSON},
		{"id", Custom, FieldInt},
		{"id", CustomJSON, FieldString},
		{"interest", Interest, FieldAsset},
		{"title", Comment, FieldText},
		{"something_new", Vote, FieldText},
	}

	for _, tt := range tests {
		t.Run(string(tt.op)+"."+tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveKind(tt.field, tt.op))
		})
	}
}

func TestReservedColumnsArePrefixed(t *testing.T) {
	r := NewRegistry()

	cj, err := r.Lookup("custom_json")
	require.NoError(t, err)
	assert.Contains(t, columnNames(cj), "op_id")

	pay, err := r.Lookup("proposal_pay")
	require.NoError(t, err)
	assert.Contains(t, columnNames(pay), "op_trx_id")
	assert.Equal(t, FieldString, ResolveKind("trx_id", ProposalPay))
}

func columnNames(d *Descriptor) []string {
	out := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		out = append(out, c.Name)
	}
	return out
}

func TestCreateTableSQL(t *testing.T) {
	r := NewRegistry()

	vote, err := r.Lookup("vote")
	require.NoError(t, err)
	ddl := vote.CreateTableSQL()
	assert.True(t, strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "sbds_op_votes"`))
	assert.Contains(t, ddl, `"voter" VARCHAR(16) REFERENCES "sbds_meta_accounts" ("name")`)
	assert.Contains(t, ddl, `"weight" BIGINT`)
	assert.Contains(t, ddl, `PRIMARY KEY ("block_num", "transaction_num", "operation_num")`)
	assert.Empty(t, vote.CreateIndexSQL())

	reward, err := r.Lookup("producer_reward")
	require.NoError(t, err)
	ddl = reward.CreateTableSQL()
	assert.Contains(t, ddl, `"id" VARCHAR(64) NOT NULL PRIMARY KEY`)
	assert.NotContains(t, ddl, "PRIMARY KEY (")
	assert.Contains(t, reward.CreateIndexSQL(), `"sbds_op_virtual_producer_rewards_block_num_idx"`)

	assert.Len(t, r.Schema(), 47+18*2)
}

func TestExtractTransfer(t *testing.T) {
	r := NewRegistry()
	d, err := r.Lookup("transfer")
	require.NoError(t, err)

	rec, problems, err := d.Extract(json.RawMessage(`{"from":"alice","to":"bob","amount":"833.000 STEEM","memo":"hi"}`))
	require.NoError(t, err)
	assert.Empty(t, problems)

	assert.Equal(t, "alice", rec.Values["from"])
	assert.Equal(t, "bob", rec.Values["to"])
	assert.Equal(t, "833.000", rec.Values["amount"])
	assert.Equal(t, "STEEM", rec.Values["amount_symbol"])
	assert.Equal(t, "hi", rec.Values["memo"])
	assert.Equal(t, []string{"alice", "bob"}, rec.Accounts)

	a := Asset{Amount: rec.Values["amount"].(string), Symbol: rec.Values["amount_symbol"].(string)}
	assert.Equal(t, 833.0, a.Float())
}

func TestExtractFallbacks(t *testing.T) {
	r := NewRegistry()

	comment, err := r.Lookup("comment")
	require.NoError(t, err)
	rec, problems, err := comment.Extract(json.RawMessage(`{"parent_author":"","parent_permlink":"steem","author":"alice","permlink":"hello","title":"Hello","body":"world","json_metadata":""}`))
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Nil(t, rec.Values["parent_author"])
	assert.Nil(t, rec.Values["json_metadata"])
	assert.Equal(t, []string{"alice"}, rec.Accounts)

	transfer, err := r.Lookup("transfer")
	require.NoError(t, err)
	rec, problems, err = transfer.Extract(json.RawMessage(`{"from":"alice","to":"bob","amount":"lots"}`))
	require.NoError(t, err)
	require.Len(t, problems, 1)
	var fe *FieldError
	require.True(t, errors.As(problems[0], &fe))
	assert.Equal(t, "amount", fe.Field)
	assert.Equal(t, "0", rec.Values["amount"])
	assert.Equal(t, "", rec.Values["amount_symbol"])
	assert.Nil(t, rec.Values["memo"])

	_, _, err = transfer.Extract(json.RawMessage(`["not","an","object"]`))
	assert.Error(t, err)
}

func TestExtractCustomID(t *testing.T) {
	r := NewRegistry()
	d, err := r.Lookup("custom")
	require.NoError(t, err)

	rec, problems, err := d.Extract(json.RawMessage(`{"required_auths":["alice"],"id":"777","data":"0a0b"}`))
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Equal(t, int64(777), rec.Values["op_id"])
	assert.Equal(t, `["alice"]`, rec.Values["required_auths"])
}

func TestExtractTimes(t *testing.T) {
	r := NewRegistry()
	d, err := r.Lookup("limit_order_create")
	require.NoError(t, err)

	rec, _, err := d.Extract(json.RawMessage(`{"owner":"alice","orderid":7,"amount_to_sell":"1.000 SBD","min_to_receive":"2.000 STEEM","fill_or_kill":false,"expiration":"2016-07-01T12:00:00"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2016, 7, 1, 12, 0, 0, 0, time.UTC), rec.Values["expiration"])
	assert.Equal(t, int64(7), rec.Values["orderid"])
	assert.Equal(t, false, rec.Values["fill_or_kill"])
	assert.Equal(t, []string{"alice"}, rec.Accounts)
}

func TestRecordRow(t *testing.T) {
	ts := time.Date(2016, 3, 24, 16, 5, 0, 0, time.UTC)

	realRec := &Record{Kind: Vote, Table: "sbds_op_votes", BlockNum: 10, TransactionNum: 1, OperationNum: 2, TrxID: "abc", Timestamp: ts,
		Values: map[string]any{"voter": "alice"}}
	row := realRec.Row()
	assert.Equal(t, "vote", row["operation_type"])
	assert.Equal(t, int64(10), row["block_num"])
	assert.Equal(t, "alice", row["voter"])
	assert.NotContains(t, row, "id")
	assert.Equal(t, "10/1/2", realRec.Key())

	virt := &Record{Kind: ProducerReward, Virtual: true, BlockNum: 10, ID: VirtualID(10, 3), Timestamp: ts}
	row = virt.Row()
	assert.Equal(t, "10-3", row["id"])
	assert.Equal(t, 0, row["transaction_num"])
	assert.Nil(t, row["trx_id"])
}
