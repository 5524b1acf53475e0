package sale

import "errors"

var (
	// ErrInvalidBeneficiary indicates the contribution names a zero beneficiary.
	ErrInvalidBeneficiary = errors.New("sale: invalid beneficiary")
	// ErrZeroContribution indicates the contribution carries no value.
	ErrZeroContribution = errors.New("sale: zero contribution")
	// ErrCampaignPaused indicates the operator suspended the campaign.
	ErrCampaignPaused = errors.New("sale: campaign paused")
	// ErrOutsideSaleWindow indicates the contribution arrived before the start,
	// after the end, or after the latched soft-cap deadline.
	ErrOutsideSaleWindow = errors.New("sale: outside sale window")
	// ErrBelowPresaleMinimum indicates a presale contribution under the minimum size.
	ErrBelowPresaleMinimum = errors.New("sale: below presale minimum")
	// ErrHardCapExceeded indicates the contribution would push the raise past the hard cap.
	ErrHardCapExceeded = errors.New("sale: hard cap exceeded")
	// ErrPresaleCapExceeded indicates the presale allocation is exhausted.
	ErrPresaleCapExceeded = errors.New("sale: presale cap exceeded")
	// ErrSupplyCapExceeded indicates issuance would breach the supply target.
	ErrSupplyCapExceeded = errors.New("sale: supply cap exceeded")
	// ErrCampaignNotEnded indicates finalize was called while the sale is live.
	ErrCampaignNotEnded = errors.New("sale: campaign not ended")
	// ErrAlreadyFinalized indicates a second finalize attempt.
	ErrAlreadyFinalized = errors.New("sale: already finalized")
	// ErrMintFailed wraps a ledger rejection of a requested issuance.
	ErrMintFailed = errors.New("sale: mint failed")
)

var (
	errNilEngine  = errors.New("sale engine: not initialised")
	errNilState   = errors.New("sale engine: state not configured")
	errNilLedger  = errors.New("sale engine: token ledger not configured")
	errNilFunds   = errors.New("sale engine: funds mover not configured")
	errBonusPhase = errors.New("sale engine: bonus queried outside sale window")
)
