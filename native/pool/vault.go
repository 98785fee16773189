package pool

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"

	"factorpool/core/events"
	"factorpool/crypto"
)

// UnlimitedAllowance is the sentinel share allowance that is never
// decremented on spend.
var UnlimitedAllowance = new(uint256.Int).SetAllOne()

// Deposit pulls assets from the caller into pool idle liquidity and mints
// shares to the receiver, rounding the minted shares down.
func (e *Engine) Deposit(caller, receiver crypto.Address, assets *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.beginMutation(flowDeposit)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(assets); err != nil {
		return nil, err
	}
	if caller.IsZero() || receiver.IsZero() {
		return nil, ErrZeroAddress
	}
	if e.custodian == nil {
		return nil, ErrNilCustodian
	}

	total, ok := state.totalAssets()
	if !ok {
		e.haltErr = ErrIntegrity
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	shares := convertToShares(assets, state.TotalShares, total)
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit would mint zero shares", ErrInvalidAmount)
	}

	if err := e.custodian.TransferIn(caller, assets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	state.IdleAssets = new(uint256.Int).Add(state.IdleAssets, assets)
	state.TotalShares = new(uint256.Int).Add(state.TotalShares, shares)

	position, err := e.ensurePosition(receiver)
	if err != nil {
		return nil, err
	}
	position.Shares = new(uint256.Int).Add(position.Shares, shares)
	position.TotalDeposited = new(uint256.Int).Add(position.TotalDeposited, assets)

	if err := e.checkIntegrity(state); err != nil {
		return nil, err
	}
	if err := e.state.PoolPut(state); err != nil {
		return nil, err
	}
	if err := e.state.PositionPut(position); err != nil {
		return nil, err
	}

	e.emit(events.PoolDeposited{Caller: caller, Receiver: receiver, Assets: new(uint256.Int).Set(assets), Shares: shares})
	return new(uint256.Int).Set(shares), nil
}

// Mint deposits exactly enough assets to mint the requested share amount,
// rounding the required assets up.
func (e *Engine) Mint(caller, receiver crypto.Address, shares *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.beginMutation(flowDeposit)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(shares); err != nil {
		return nil, err
	}
	if caller.IsZero() || receiver.IsZero() {
		return nil, ErrZeroAddress
	}
	if e.custodian == nil {
		return nil, ErrNilCustodian
	}

	total, ok := state.totalAssets()
	if !ok {
		e.haltErr = ErrIntegrity
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	assets := assetsForMint(shares, state.TotalShares, total)
	if assets.IsZero() {
		return nil, fmt.Errorf("%w: mint requires zero assets", ErrInvalidAmount)
	}

	if err := e.custodian.TransferIn(caller, assets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	state.IdleAssets = new(uint256.Int).Add(state.IdleAssets, assets)
	state.TotalShares = new(uint256.Int).Add(state.TotalShares, shares)

	position, err := e.ensurePosition(receiver)
	if err != nil {
		return nil, err
	}
	position.Shares = new(uint256.Int).Add(position.Shares, shares)
	position.TotalDeposited = new(uint256.Int).Add(position.TotalDeposited, assets)

	if err := e.checkIntegrity(state); err != nil {
		return nil, err
	}
	if err := e.state.PoolPut(state); err != nil {
		return nil, err
	}
	if err := e.state.PositionPut(position); err != nil {
		return nil, err
	}

	e.emit(events.PoolDeposited{Caller: caller, Receiver: receiver, Assets: assets, Shares: new(uint256.Int).Set(shares)})
	return new(uint256.Int).Set(assets), nil
}

// Withdraw burns just enough of the owner's shares (rounding up) to release
// the exact requested asset amount to the receiver. Loans are not liquid:
// only idle assets net of accrued fees may leave.
func (e *Engine) Withdraw(caller, receiver, owner crypto.Address, assets *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.beginMutation(flowWithdraw)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(assets); err != nil {
		return nil, err
	}
	if caller.IsZero() || receiver.IsZero() || owner.IsZero() {
		return nil, ErrZeroAddress
	}
	if e.custodian == nil {
		return nil, ErrNilCustodian
	}
	if assets.Cmp(state.availableLiquidity()) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	total, ok := state.totalAssets()
	if !ok {
		e.haltErr = ErrIntegrity
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	shares := sharesForWithdraw(assets, state.TotalShares, total)
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: withdrawal would burn zero shares", ErrInvalidAmount)
	}

	position, err := e.ensurePosition(owner)
	if err != nil {
		return nil, err
	}
	if position.Shares.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	newAllowance, allowanceChanged, err := e.spendAllowance(owner, caller, shares)
	if err != nil {
		return nil, err
	}

	if err := e.custodian.TransferOut(receiver, assets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	state.TotalShares = new(uint256.Int).Sub(state.TotalShares, shares)
	state.IdleAssets = new(uint256.Int).Sub(state.IdleAssets, assets)
	position.Shares = new(uint256.Int).Sub(position.Shares, shares)
	position.TotalWithdrawn = new(uint256.Int).Add(position.TotalWithdrawn, assets)

	if err := e.checkIntegrity(state); err != nil {
		return nil, err
	}
	if err := e.state.PoolPut(state); err != nil {
		return nil, err
	}
	if err := e.state.PositionPut(position); err != nil {
		return nil, err
	}
	if allowanceChanged {
		if err := e.state.AllowancePut(owner, caller, newAllowance); err != nil {
			return nil, err
		}
	}

	e.emit(events.PoolWithdrawn{Owner: owner, Receiver: receiver, Assets: new(uint256.Int).Set(assets), Shares: shares})
	return new(uint256.Int).Set(shares), nil
}

// Redeem burns an exact share amount and releases the corresponding assets,
// rounded down, to the receiver.
func (e *Engine) Redeem(caller, receiver, owner crypto.Address, shares *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.beginMutation(flowWithdraw)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(shares); err != nil {
		return nil, err
	}
	if caller.IsZero() || receiver.IsZero() || owner.IsZero() {
		return nil, ErrZeroAddress
	}
	if e.custodian == nil {
		return nil, ErrNilCustodian
	}

	total, ok := state.totalAssets()
	if !ok {
		e.haltErr = ErrIntegrity
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	assets := convertToAssets(shares, state.TotalShares, total)
	if assets.IsZero() {
		return nil, fmt.Errorf("%w: redemption would release zero assets", ErrInvalidAmount)
	}
	if assets.Cmp(state.availableLiquidity()) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	position, err := e.ensurePosition(owner)
	if err != nil {
		return nil, err
	}
	if position.Shares.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	newAllowance, allowanceChanged, err := e.spendAllowance(owner, caller, shares)
	if err != nil {
		return nil, err
	}

	if err := e.custodian.TransferOut(receiver, assets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	state.TotalShares = new(uint256.Int).Sub(state.TotalShares, shares)
	state.IdleAssets = new(uint256.Int).Sub(state.IdleAssets, assets)
	position.Shares = new(uint256.Int).Sub(position.Shares, shares)
	position.TotalWithdrawn = new(uint256.Int).Add(position.TotalWithdrawn, assets)

	if err := e.checkIntegrity(state); err != nil {
		return nil, err
	}
	if err := e.state.PoolPut(state); err != nil {
		return nil, err
	}
	if err := e.state.PositionPut(position); err != nil {
		return nil, err
	}
	if allowanceChanged {
		if err := e.state.AllowancePut(owner, caller, newAllowance); err != nil {
			return nil, err
		}
	}

	e.emit(events.PoolWithdrawn{Owner: owner, Receiver: receiver, Assets: assets, Shares: new(uint256.Int).Set(shares)})
	return assets, nil
}

// Approve sets the share allowance a spender may burn on the owner's behalf.
// UnlimitedAllowance is the non-decrementing sentinel.
func (e *Engine) Approve(owner, spender crypto.Address, value *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if owner.IsZero() || spender.IsZero() {
		return ErrZeroAddress
	}
	if value == nil {
		value = uint256.NewInt(0)
	}
	return e.state.AllowancePut(owner, spender, value)
}

// Allowance returns the current share allowance from owner to spender.
func (e *Engine) Allowance(owner, spender crypto.Address) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	return e.state.AllowanceGet(owner, spender)
}

// WithdrawProtocolFees transfers accrued protocol fees to the recipient.
func (e *Engine) WithdrawProtocolFees(recipient crypto.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.beginMutation(flowFees)
	if err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	if recipient.IsZero() {
		return ErrZeroAddress
	}
	if e.custodian == nil {
		return ErrNilCustodian
	}
	if amount.Cmp(state.AccumulatedFees) > 0 {
		return ErrInsufficientFees
	}

	if err := e.custodian.TransferOut(recipient, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	state.AccumulatedFees = new(uint256.Int).Sub(state.AccumulatedFees, amount)
	state.IdleAssets = new(uint256.Int).Sub(state.IdleAssets, amount)

	if err := e.checkIntegrity(state); err != nil {
		return err
	}
	if err := e.state.PoolPut(state); err != nil {
		return err
	}

	e.emit(events.PoolFeesWithdrawn{Recipient: recipient, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// ConvertToShares values assets in shares at the current price, rounding
// down.
func (e *Engine) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	return e.view(func(state *PoolState, total *uint256.Int) *uint256.Int {
		return convertToShares(assets, state.TotalShares, total)
	})
}

// ConvertToAssets values shares in assets at the current price, rounding
// down.
func (e *Engine) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	return e.view(func(state *PoolState, total *uint256.Int) *uint256.Int {
		return convertToAssets(shares, state.TotalShares, total)
	})
}

// PreviewDeposit returns the shares a deposit would mint (round down).
func (e *Engine) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToShares(assets)
}

// PreviewMint returns the assets an exact mint would require (round up).
func (e *Engine) PreviewMint(shares *uint256.Int) (*uint256.Int, error) {
	return e.view(func(state *PoolState, total *uint256.Int) *uint256.Int {
		return assetsForMint(shares, state.TotalShares, total)
	})
}

// PreviewWithdraw returns the shares an exact withdrawal would burn (round
// up).
func (e *Engine) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	return e.view(func(state *PoolState, total *uint256.Int) *uint256.Int {
		return sharesForWithdraw(assets, state.TotalShares, total)
	})
}

// PreviewRedeem returns the assets an exact redemption would release (round
// down).
func (e *Engine) PreviewRedeem(shares *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToAssets(shares)
}

// MaxWithdraw clamps the owner's entitlement to currently available idle
// liquidity.
func (e *Engine) MaxWithdraw(owner crypto.Address) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	state, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	total, ok := state.totalAssets()
	if !ok {
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	pos, okPos, err := e.state.PositionGet(owner)
	if err != nil {
		return nil, err
	}
	if !okPos {
		return uint256.NewInt(0), nil
	}
	pos.normalize()
	entitled := convertToAssets(pos.Shares, state.TotalShares, total)
	return minU256(entitled, state.availableLiquidity()), nil
}

// MaxRedeem clamps the owner's redeemable shares to what available idle
// liquidity can pay out.
func (e *Engine) MaxRedeem(owner crypto.Address) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	state, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	total, ok := state.totalAssets()
	if !ok {
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	pos, okPos, err := e.state.PositionGet(owner)
	if err != nil {
		return nil, err
	}
	if !okPos {
		return uint256.NewInt(0), nil
	}
	pos.normalize()
	liquidShares := convertToShares(state.availableLiquidity(), state.TotalShares, total)
	return minU256(pos.Shares, liquidShares), nil
}

func (e *Engine) view(f func(state *PoolState, total *uint256.Int) *uint256.Int) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	state, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	total, ok := state.totalAssets()
	if !ok {
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	return f(state, total), nil
}

func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	pos, ok, err := e.state.PositionGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		pos = &Position{Address: addr}
	}
	pos.normalize()
	return pos, nil
}

// spendAllowance enforces the owner->caller share allowance when the caller
// is not the owner. The unlimited sentinel is never decremented.
func (e *Engine) spendAllowance(owner, caller crypto.Address, shares *uint256.Int) (*uint256.Int, bool, error) {
	if bytes.Equal(owner.Bytes(), caller.Bytes()) {
		return nil, false, nil
	}
	allowance, err := e.state.AllowanceGet(owner, caller)
	if err != nil {
		return nil, false, err
	}
	if allowance.Eq(UnlimitedAllowance) {
		return nil, false, nil
	}
	if allowance.Cmp(shares) < 0 {
		return nil, false, ErrInsufficientAllowance
	}
	return new(uint256.Int).Sub(allowance, shares), true, nil
}

func validateAmount(v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}
