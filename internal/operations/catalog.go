package operations

import "strings"

// Kind is an operation type tag without the "_operation" suffix.
type Kind string

// Real operation kinds, in protocol order.
const (
	Vote                        Kind = "vote"
	Comment                     Kind = "comment"
	Transfer                    Kind = "transfer"
	TransferToVesting           Kind = "transfer_to_vesting"
	WithdrawVesting             Kind = "withdraw_vesting"
	LimitOrderCreate            Kind = "limit_order_create"
	LimitOrderCancel            Kind = "limit_order_cancel"
	FeedPublish                 Kind = "feed_publish"
	Convert                     Kind = "convert"
	AccountCreate               Kind = "account_create"
	AccountUpdate               Kind = "account_update"
	WitnessUpdate               Kind = "witness_update"
	AccountWitnessVote          Kind = "account_witness_vote"
	AccountWitnessProxy         Kind = "account_witness_proxy"
	Pow                         Kind = "pow"
	Custom                      Kind = "custom"
	ReportOverProduction        Kind = "report_over_production"
	DeleteComment               Kind = "delete_comment"
	CustomJSON                  Kind = "custom_json"
	CommentOptions              Kind = "comment_options"
	SetWithdrawVestingRoute     Kind = "set_withdraw_vesting_route"
	LimitOrderCreate2           Kind = "limit_order_create2"
	ClaimAccount                Kind = "claim_account"
	CreateClaimedAccount        Kind = "create_claimed_account"
	RequestAccountRecovery      Kind = "request_account_recovery"
	RecoverAccount              Kind = "recover_account"
	ChangeRecoveryAccount       Kind = "change_recovery_account"
	EscrowTransfer              Kind = "escrow_transfer"
	EscrowDispute               Kind = "escrow_dispute"
	EscrowRelease               Kind = "escrow_release"
	Pow2                        Kind = "pow2"
	EscrowApprove               Kind = "escrow_approve"
	TransferToSavings           Kind = "transfer_to_savings"
	TransferFromSavings         Kind = "transfer_from_savings"
	CancelTransferFromSavings   Kind = "cancel_transfer_from_savings"
	CustomBinary                Kind = "custom_binary"
	DeclineVotingRights         Kind = "decline_voting_rights"
	ResetAccount                Kind = "reset_account"
	SetResetAccount             Kind = "set_reset_account"
	ClaimRewardBalance          Kind = "claim_reward_balance"
	DelegateVestingShares       Kind = "delegate_vesting_shares"
	AccountCreateWithDelegation Kind = "account_create_with_delegation"
	WitnessSetProperties        Kind = "witness_set_properties"
	AccountUpdate2              Kind = "account_update2"
	CreateProposal              Kind = "create_proposal"
	UpdateProposalVotes         Kind = "update_proposal_votes"
	RemoveProposal              Kind = "remove_proposal"
)

// Virtual operation kinds. They never share a tag with a real kind.
const (
	FillConvertRequest      Kind = "fill_convert_request"
	AuthorReward            Kind = "author_reward"
	CurationReward          Kind = "curation_reward"
	CommentReward           Kind = "comment_reward"
	LiquidityReward         Kind = "liquidity_reward"
	Interest                Kind = "interest"
	FillVestingWithdraw     Kind = "fill_vesting_withdraw"
	FillOrder               Kind = "fill_order"
	ShutdownWitness         Kind = "shutdown_witness"
	FillTransferFromSavings Kind = "fill_transfer_from_savings"
	Hardfork                Kind = "hardfork"
	CommentPayoutUpdate     Kind = "comment_payout_update"
	ReturnVestingDelegation Kind = "return_vesting_delegation"
	CommentBenefactorReward Kind = "comment_benefactor_reward"
	ProducerReward          Kind = "producer_reward"
	ClearNullAccountBalance Kind = "clear_null_account_balance"
	ProposalPay             Kind = "proposal_pay"
	SpsFund                 Kind = "sps_fund"
)

// ParseKind strips the appbase "_operation" suffix from a tag.
func ParseKind(tag string) Kind {
	return Kind(strings.TrimSuffix(strings.TrimSpace(tag), "_operation"))
}

type entry struct {
	kind    Kind
	virtual bool
	fields  []string
}

func realOp(kind Kind, fields ...string) entry {
	return entry{kind: kind, fields: fields}
}

func virtualOp(kind Kind, fields ...string) entry {
	return entry{kind: kind, virtual: true, fields: fields}
}

var catalog = []entry{
	realOp(Vote, "voter", "author", "permlink", "weight"),
	realOp(Comment, "parent_author", "parent_permlink", "author", "permlink", "title", "body", "json_metadata"),
	realOp(Transfer, "from", "to", "amount", "memo"),
	realOp(TransferToVesting, "from", "to", "amount"),
	realOp(WithdrawVesting, "account", "vesting_shares"),
	realOp(LimitOrderCreate, "owner", "orderid", "amount_to_sell", "min_to_receive", "fill_or_kill", "expiration"),
	realOp(LimitOrderCancel, "owner", "orderid"),
	realOp(FeedPublish, "publisher", "exchange_rate"),
	realOp(Convert, "owner", "requestid", "amount"),
	realOp(AccountCreate, "fee", "creator", "new_account_name", "owner", "active", "posting", "memo_key", "json_metadata"),
	realOp(AccountUpdate, "account", "owner", "active", "posting", "memo_key", "json_metadata"),
	realOp(WitnessUpdate, "owner", "url", "block_signing_key", "props", "fee"),
	realOp(AccountWitnessVote, "account", "witness", "approve"),
	realOp(AccountWitnessProxy, "account", "proxy"),
	realOp(Pow, "worker_account", "block_id", "nonce", "work", "props"),
	realOp(Custom, "required_auths", "id", "data"),
	realOp(ReportOverProduction, "reporter", "first_block", "second_block"),
	realOp(DeleteComment, "author", "permlink"),
	realOp(CustomJSON, "required_auths", "required_posting_auths", "id", "json"),
	realOp(CommentOptions, "author", "permlink", "max_accepted_payout", "percent_steem_dollars", "allow_votes", "allow_curation_rewards", "extensions"),
	realOp(SetWithdrawVestingRoute, "from_account", "to_account", "percent", "auto_vest"),
	realOp(LimitOrderCreate2, "owner", "orderid", "amount_to_sell", "exchange_rate", "fill_or_kill", "expiration"),
	realOp(ClaimAccount, "creator", "fee", "extensions"),
	realOp(CreateClaimedAccount, "creator", "new_account_name", "owner", "active", "posting", "memo_key", "json_metadata", "extensions"),
	realOp(RequestAccountRecovery, "recovery_account", "account_to_recover", "new_owner_authority", "extensions"),
	realOp(RecoverAccount, "account_to_recover", "new_owner_authority", "recent_owner_authority", "extensions"),
	realOp(ChangeRecoveryAccount, "account_to_recover", "new_recovery_account", "extensions"),
	realOp(EscrowTransfer, "from", "to", "agent", "escrow_id", "sbd_amount", "steem_amount", "fee", "ratification_deadline", "escrow_expiration", "json_meta"),
	realOp(EscrowDispute, "from", "to", "agent", "who", "escrow_id"),
	realOp(EscrowRelease, "from", "to", "agent", "who", "receiver", "escrow_id", "sbd_amount", "steem_amount"),
	realOp(Pow2, "work", "new_owner_key", "props"),
	realOp(EscrowApprove, "from", "to", "agent", "who", "escrow_id", "approve"),
	realOp(TransferToSavings, "from", "to", "amount", "memo"),
	realOp(TransferFromSavings, "from", "request_id", "to", "amount", "memo"),
	realOp(CancelTransferFromSavings, "from", "request_id"),
	realOp(CustomBinary, "required_owner_auths", "required_active_auths", "required_posting_auths", "required_auths", "id", "data"),
	realOp(DeclineVotingRights, "account", "decline"),
	realOp(ResetAccount, "reset_account", "account_to_reset", "new_owner_authority"),
	realOp(SetResetAccount, "account", "current_reset_account", "reset_account"),
	realOp(ClaimRewardBalance, "account", "reward_steem", "reward_sbd", "reward_vests"),
	realOp(DelegateVestingShares, "delegator", "delegatee", "vesting_shares"),
	realOp(AccountCreateWithDelegation, "fee", "delegation", "creator", "new_account_name", "owner", "active", "posting", "memo_key", "json_metadata", "extensions"),
	realOp(WitnessSetProperties, "owner", "props", "extensions"),
	realOp(AccountUpdate2, "account", "owner", "active", "posting", "memo_key", "json_metadata", "posting_json_metadata", "extensions"),
	realOp(CreateProposal, "creator", "receiver", "start_date", "end_date", "daily_pay", "subject", "permlink", "extensions"),
	realOp(UpdateProposalVotes, "voter", "proposal_ids", "approve", "extensions"),
	realOp(RemoveProposal, "proposal_owner", "proposal_ids", "extensions"),

	virtualOp(FillConvertRequest, "owner", "requestid", "amount_in", "amount_out"),
	virtualOp(AuthorReward, "author", "permlink", "sbd_payout", "steem_payout", "vesting_payout"),
	virtualOp(CurationReward, "curator", "reward", "comment_author", "comment_permlink"),
	virtualOp(CommentReward, "author", "permlink", "payout"),
	virtualOp(LiquidityReward, "owner", "payout"),
	virtualOp(Interest, "owner", "interest"),
	virtualOp(FillVestingWithdraw, "from_account", "to_account", "withdrawn", "deposited"),
	virtualOp(FillOrder, "current_owner", "current_orderid", "current_pays", "open_owner", "open_orderid", "open_pays"),
	virtualOp(ShutdownWitness, "owner"),
	virtualOp(FillTransferFromSavings, "from", "to", "amount", "request_id", "memo"),
	virtualOp(Hardfork, "hardfork_id"),
	virtualOp(CommentPayoutUpdate, "author", "permlink"),
	virtualOp(ReturnVestingDelegation, "account", "vesting_shares"),
	virtualOp(CommentBenefactorReward, "benefactor", "author", "permlink", "reward"),
	virtualOp(ProducerReward, "producer", "vesting_shares"),
	virtualOp(ClearNullAccountBalance, "total_cleared"),
	virtualOp(ProposalPay, "receiver", "payment", "trx_id", "op_in_trx"),
	virtualOp(SpsFund, "additional_funds"),
}
