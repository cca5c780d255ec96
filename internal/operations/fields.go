package operations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldKind is the storage shape of one operation field.
type FieldKind int

const (
	// FieldText is the forward-compatible fallback for unrecognized fields.
	FieldText FieldKind = iota
	FieldString
	FieldAccount
	FieldAsset
	FieldTime
	FieldJSON
	FieldInt
	FieldBool
)

func (k FieldKind) String() string {
	switch k {
	case FieldText:
		return "text"
	case FieldString:
		return "string"
	case FieldAccount:
		return "account"
	case FieldAsset:
		return "asset"
	case FieldTime:
		return "time"
	case FieldJSON:
		return "json"
	case FieldInt:
		return "int"
	case FieldBool:
		return "bool"
	}
	return "unknown"
}

// TimeLayout is the node's timestamp format.
const TimeLayout = "2006-01-02T15:04:05"

// Extractor turns one raw field value into the values of the field's
// columns, in column order. It always returns one value per column: on
// malformed input it returns the fallback values together with the error.
type Extractor func(raw json.RawMessage) ([]any, error)

type pairKey struct {
	field string
	op    Kind
}

// pairKinds override fieldKinds for one (field, operation) combination.
var pairKinds = map[pairKey]FieldKind{
	{"owner", AccountCreate}:               FieldJSON,
	{"owner", AccountUpdate}:               FieldJSON,
	{"owner", AccountUpdate2}:              FieldJSON,
	{"owner", CreateClaimedAccount}:        FieldJSON,
	{"owner", AccountCreateWithDelegation}: FieldJSON,
	{"id", Custom}:                         FieldInt,
	{"interest", Interest}:                 FieldAsset,
	{"trx_id", ProposalPay}:                FieldString,
}

// pairExtractors override the kind default extractor for one combination.
var pairExtractors = map[pairKey]Extractor{
	// custom ids were serialized as numbers or numeric strings over time
	{"id", Custom}: extractLooseInt,
}

// fieldKinds is the per-field-name default kind.
var fieldKinds = map[string]FieldKind{
	// account references
	"voter": FieldAccount, "author": FieldAccount, "parent_author": FieldAccount,
	"from": FieldAccount, "to": FieldAccount, "account": FieldAccount,
	"owner": FieldAccount, "publisher": FieldAccount, "creator": FieldAccount,
	"new_account_name": FieldAccount, "witness": FieldAccount, "proxy": FieldAccount,
	"worker_account": FieldAccount, "reporter": FieldAccount,
	"from_account": FieldAccount, "to_account": FieldAccount,
	"recovery_account": FieldAccount, "account_to_recover": FieldAccount,
	"new_recovery_account": FieldAccount, "agent": FieldAccount, "who": FieldAccount,
	"receiver": FieldAccount, "account_to_reset": FieldAccount,
	"current_reset_account": FieldAccount, "reset_account": FieldAccount,
	"delegator": FieldAccount, "delegatee": FieldAccount,
	"proposal_owner": FieldAccount, "curator": FieldAccount,
	"comment_author": FieldAccount, "current_owner": FieldAccount,
	"open_owner": FieldAccount, "producer": FieldAccount, "benefactor": FieldAccount,

	// assets
	"amount": FieldAsset, "amount_to_sell": FieldAsset, "min_to_receive": FieldAsset,
	"fee": FieldAsset, "vesting_shares": FieldAsset, "sbd_amount": FieldAsset,
	"steem_amount": FieldAsset, "max_accepted_payout": FieldAsset,
	"reward_steem": FieldAsset, "reward_sbd": FieldAsset, "reward_vests": FieldAsset,
	"delegation": FieldAsset, "daily_pay": FieldAsset, "amount_in": FieldAsset,
	"amount_out": FieldAsset, "sbd_payout": FieldAsset, "steem_payout": FieldAsset,
	"vesting_payout": FieldAsset, "reward": FieldAsset, "payout": FieldAsset,
	"withdrawn": FieldAsset, "deposited": FieldAsset, "current_pays": FieldAsset,
	"open_pays": FieldAsset, "payment": FieldAsset, "additional_funds": FieldAsset,

	// times
	"expiration": FieldTime, "ratification_deadline": FieldTime,
	"escrow_expiration": FieldTime, "start_date": FieldTime, "end_date": FieldTime,

	// structured payloads
	"active": FieldJSON, "posting": FieldJSON, "json_metadata": FieldJSON,
	"posting_json_metadata": FieldJSON, "json_meta": FieldJSON, "json": FieldJSON,
	"exchange_rate": FieldJSON, "props": FieldJSON, "work": FieldJSON,
	"first_block": FieldJSON, "second_block": FieldJSON,
	"required_auths": FieldJSON, "required_posting_auths": FieldJSON,
	"required_owner_auths": FieldJSON, "required_active_auths": FieldJSON,
	"extensions": FieldJSON, "new_owner_authority": FieldJSON,
	"recent_owner_authority": FieldJSON, "proposal_ids": FieldJSON,
	"total_cleared": FieldJSON,

	// integers
	"weight": FieldInt, "orderid": FieldInt, "requestid": FieldInt,
	"request_id": FieldInt, "escrow_id": FieldInt, "percent_steem_dollars": FieldInt,
	"percent": FieldInt, "nonce": FieldInt, "current_orderid": FieldInt,
	"open_orderid": FieldInt, "hardfork_id": FieldInt, "op_in_trx": FieldInt,

	// booleans
	"fill_or_kill": FieldBool, "approve": FieldBool, "allow_votes": FieldBool,
	"allow_curation_rewards": FieldBool, "auto_vest": FieldBool, "decline": FieldBool,

	// bounded strings
	"permlink": FieldString, "parent_permlink": FieldString, "comment_permlink": FieldString,
	"memo_key": FieldString, "url": FieldString, "block_signing_key": FieldString,
	"new_owner_key": FieldString, "subject": FieldString, "block_id": FieldString,
	"id": FieldString,
}

// ResolveKind applies the lookup precedence: (field, op) pair, then field
// name, then the text default.
func ResolveKind(field string, op Kind) FieldKind {
	if k, ok := pairKinds[pairKey{field, op}]; ok {
		return k
	}
	if k, ok := fieldKinds[field]; ok {
		return k
	}
	return FieldText
}

// ResolveExtractor applies the same precedence to extractors.
func ResolveExtractor(field string, op Kind) Extractor {
	if e, ok := pairExtractors[pairKey{field, op}]; ok {
		return e
	}
	return kindExtractors[ResolveKind(field, op)]
}

var kindExtractors = map[FieldKind]Extractor{
	FieldText:    extractText,
	FieldString:  extractText,
	FieldAccount: extractAccount,
	FieldAsset:   extractAsset,
	FieldTime:    extractTime,
	FieldJSON:    extractJSON,
	FieldInt:     extractInt,
	FieldBool:    extractBool,
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// extractText keeps strings as-is and stores any other JSON as its text.
func extractText(raw json.RawMessage) ([]any, error) {
	if isNull(raw) {
		return []any{nil}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []any{s}, nil
	}
	return []any{string(bytes.TrimSpace(raw))}, nil
}

// extractAccount maps empty names (root posts have no parent_author) to NULL.
func extractAccount(raw json.RawMessage) ([]any, error) {
	if isNull(raw) {
		return []any{nil}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return []any{nil}, fmt.Errorf("account name is not a string: %s", string(raw))
	}
	if s == "" {
		return []any{nil}, nil
	}
	return []any{s}, nil
}

func extractAsset(raw json.RawMessage) ([]any, error) {
	a, err := ParseAsset(raw)
	return []any{a.Amount, a.Symbol}, err
}

func extractTime(raw json.RawMessage) ([]any, error) {
	if isNull(raw) {
		return []any{nil}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return []any{nil}, fmt.Errorf("time is not a string: %s", string(raw))
	}
	t, err := ParseTime(s)
	if err != nil {
		return []any{nil}, err
	}
	return []any{t}, nil
}

// ParseTime parses the node's timestamp format as UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSuffix(s, "Z"), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// extractJSON keeps the structured payload; blank payloads collapse to NULL
// rather than an empty-object sentinel.
func extractJSON(raw json.RawMessage) ([]any, error) {
	if isNull(raw) {
		return []any{nil}, nil
	}
	t := bytes.TrimSpace(raw)
	if t[0] == '"' {
		// json_metadata and friends are JSON documents encoded as strings
		var s string
		if err := json.Unmarshal(t, &s); err != nil {
			return []any{nil}, fmt.Errorf("decode json string: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "{}" {
			return []any{nil}, nil
		}
		if !json.Valid([]byte(s)) {
			// not a document; keep the string itself as a JSON string
			return []any{string(t)}, nil
		}
		return []any{s}, nil
	}
	if bytes.Equal(t, []byte("{}")) {
		return []any{nil}, nil
	}
	return []any{string(t)}, nil
}

func extractInt(raw json.RawMessage) ([]any, error) {
	if isNull(raw) {
		return []any{nil}, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return []any{nil}, fmt.Errorf("integer field is not a number: %s", string(raw))
	}
	v, err := n.Int64()
	if err != nil {
		return []any{nil}, fmt.Errorf("integer field out of range: %w", err)
	}
	return []any{v}, nil
}

// extractLooseInt also accepts numeric strings.
func extractLooseInt(raw json.RawMessage) ([]any, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return []any{nil}, fmt.Errorf("integer field %q: %w", s, err)
		}
		return []any{v}, nil
	}
	return extractInt(raw)
}

func extractBool(raw json.RawMessage) ([]any, error) {
	if isNull(raw) {
		return []any{nil}, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return []any{nil}, fmt.Errorf("boolean field: %s", string(raw))
	}
	return []any{b}, nil
}
