package pool

import "errors"

// Error values returned by the pool engine. They are grouped by how a caller
// should react; every value is matched with errors.Is and none is used for
// normal control flow.
var (
	// Validation: rejected before any state change, safe to retry with
	// corrected input.
	ErrInvalidAmount    = errors.New("pool engine: amount must be positive")
	ErrZeroAddress      = errors.New("pool engine: zero address")
	ErrInvalidRiskScore = errors.New("pool engine: risk score out of range")
	ErrInvoiceExpired   = errors.New("pool engine: invoice due date has passed")
	ErrYieldMismatch    = errors.New("pool engine: expected yield does not match risk score")
	ErrPoolMismatch     = errors.New("pool engine: authorization issued for a different pool")

	// Authorization: the caller must obtain a fresh valid authorization;
	// never retried with the same signature or nonce.
	ErrInvalidSignature      = errors.New("pool engine: authorization signature invalid")
	ErrNonceReused           = errors.New("pool engine: authorization nonce already consumed")
	ErrBorrowerNotAuthorized = errors.New("pool engine: seller not an authorized borrower")

	// Capacity: retry later or with a smaller amount; never downgraded to
	// partial execution.
	ErrExceedsMaxUtilization = errors.New("pool engine: funding would exceed max utilization")
	ErrInsufficientLiquidity = errors.New("pool engine: insufficient idle liquidity")
	ErrInsufficientShares    = errors.New("pool engine: share balance too low")
	ErrInsufficientAllowance = errors.New("pool engine: share allowance too low")
	ErrInsufficientFees      = errors.New("pool engine: accrued fees too low")

	// State conflict: duplicate call or logic race, surfaced as-is.
	ErrDocumentAlreadyFinanced = errors.New("pool engine: document already financed")
	ErrLoanNotFound            = errors.New("pool engine: loan not found")
	ErrLoanNotActive           = errors.New("pool engine: loan not active")
	ErrLoanNotRepaid           = errors.New("pool engine: loan not repaid")

	// Integrity: a bug, not user error. The engine halts all further
	// mutating operations once this is observed.
	ErrIntegrity  = errors.New("pool engine: accounting invariant violated")
	ErrPoolHalted = errors.New("pool engine: halted after integrity failure")

	// Wiring.
	ErrNilState          = errors.New("pool engine: state not configured")
	ErrNilCustodian      = errors.New("pool engine: asset custodian not configured")
	ErrPoolNotInitialized = errors.New("pool engine: pool state not initialized")
	ErrTransferFailed    = errors.New("pool engine: asset transfer failed")
)
