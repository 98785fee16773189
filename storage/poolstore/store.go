// Package poolstore persists pool accounting state in a key-value database.
// Records are stored as JSON with amounts encoded as decimal strings, keyed
// under stable per-record prefixes so a single database can be inspected and
// migrated without schema tooling.
package poolstore

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"factorpool/crypto"
	"factorpool/native/pool"
	"factorpool/storage"
)

const (
	keyPool        = "pool/state"
	keyLoanCounter = "pool/loan-seq"

	prefixLoan        = "loan/"
	prefixFingerprint = "fp/"
	prefixPosition    = "pos/"
	prefixAllowance   = "allow/"
	prefixNonce       = "nonce/"
)

// Store implements pool.EngineState on top of a storage.Database. A mutex
// serializes the loan-sequence read-modify-write; everything else is a single
// Get or Put and relies on the backend's own guarantees.
type Store struct {
	mu sync.Mutex
	db storage.Database
}

// New wraps an opened database.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

func loanKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append([]byte(prefixLoan), buf[:]...)
}

func fingerprintKey(fp [32]byte) []byte {
	return append([]byte(prefixFingerprint), fp[:]...)
}

func positionKey(addr crypto.Address) []byte {
	return append([]byte(prefixPosition), addr.Bytes()...)
}

func allowanceKey(owner, spender crypto.Address) []byte {
	key := append([]byte(prefixAllowance), owner.Bytes()...)
	key = append(key, '/')
	return append(key, spender.Bytes()...)
}

func nonceKey(nonce [32]byte) []byte {
	return append([]byte(prefixNonce), nonce[:]...)
}

func (s *Store) PoolGet() (*pool.PoolState, error) {
	raw, err := s.db.Get([]byte(keyPool))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodePoolState(raw)
}

func (s *Store) PoolPut(p *pool.PoolState) error {
	if p == nil {
		return fmt.Errorf("poolstore: nil pool state")
	}
	raw, err := encodePoolState(p)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(keyPool), raw)
}

func (s *Store) LoanGet(id uint64) (*pool.Loan, bool, error) {
	raw, err := s.db.Get(loanKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	loan, err := decodeLoan(raw)
	if err != nil {
		return nil, false, err
	}
	return loan, true, nil
}

func (s *Store) LoanPut(loan *pool.Loan) error {
	if loan == nil {
		return nil
	}
	raw, err := encodeLoan(loan)
	if err != nil {
		return err
	}
	return s.db.Put(loanKey(loan.ID), raw)
}

// NextLoanID allocates a monotonically increasing identifier starting at 1.
func (s *Store) NextLoanID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := uint64(1)
	raw, err := s.db.Get([]byte(keyLoanCounter))
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		return 0, err
	case len(raw) != 8:
		return 0, fmt.Errorf("poolstore: corrupt loan counter (%d bytes)", len(raw))
	default:
		next = binary.BigEndian.Uint64(raw)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+1)
	if err := s.db.Put([]byte(keyLoanCounter), buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) LoanIDByFingerprint(fp [32]byte) (uint64, bool, error) {
	raw, err := s.db.Get(fingerprintKey(fp))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("poolstore: corrupt fingerprint index for %s", hex.EncodeToString(fp[:]))
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func (s *Store) FingerprintPut(fp [32]byte, loanID uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], loanID)
	return s.db.Put(fingerprintKey(fp), buf[:])
}

func (s *Store) FingerprintDelete(fp [32]byte) error {
	return s.db.Delete(fingerprintKey(fp))
}

func (s *Store) PositionGet(addr crypto.Address) (*pool.Position, bool, error) {
	raw, err := s.db.Get(positionKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	pos, err := decodePosition(raw)
	if err != nil {
		return nil, false, err
	}
	return pos, true, nil
}

func (s *Store) PositionPut(pos *pool.Position) error {
	if pos == nil {
		return nil
	}
	raw, err := encodePosition(pos)
	if err != nil {
		return err
	}
	return s.db.Put(positionKey(pos.Address), raw)
}

func (s *Store) AllowanceGet(owner, spender crypto.Address) (*uint256.Int, error) {
	raw, err := s.db.Get(allowanceKey(owner, spender))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value, err := uint256.FromDecimal(string(raw))
	if err != nil {
		return nil, fmt.Errorf("poolstore: corrupt allowance: %w", err)
	}
	return value, nil
}

func (s *Store) AllowancePut(owner, spender crypto.Address, value *uint256.Int) error {
	key := allowanceKey(owner, spender)
	if value == nil || value.IsZero() {
		return s.db.Delete(key)
	}
	return s.db.Put(key, []byte(value.Dec()))
}

func (s *Store) NonceConsumed(nonce [32]byte) (bool, error) {
	return s.db.Has(nonceKey(nonce))
}

func (s *Store) NonceConsume(nonce [32]byte) error {
	return s.db.Put(nonceKey(nonce), []byte{1})
}
