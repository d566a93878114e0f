package contract

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MaxSuccessWitnessSize is the maximum witness size for the hashlock
// spend path: <preimage> <sig> <script>.
const MaxSuccessWitnessSize = 1 + 33 + 1 + 73 + 1 + 100

// MaxTimeoutWitnessSize is the maximum witness size for the timelock
// spend path: <sig> <script>.
const MaxTimeoutWitnessSize = 1 + 73 + 1 + 100

// Script is the canonical contract redeem script described in spec §4.2:
//
//	IF
//	    <hashlock_pubkey> CHECKSIGVERIFY
//	    SIZE <32> EQUALVERIFY HASH160 <HX160> EQUAL
//	ELSE
//	    <timelock_block_count> CHECKSEQUENCEVERIFY DROP
//	    <timelock_pubkey> CHECKSIG
//	ENDIF
//
// The timelock is CSV-relative from the funding transaction's
// confirmation, not an absolute height, so the same hop can be safely
// resigned into a replacement funding transaction without changing the
// contract's absolute deadline math.
type Script struct {
	// HashlockPubKey is the receiver's contract pubkey tweaked by its
	// secret scalar (see keychain.go). Spendable together with the
	// preimage.
	HashlockPubKey *btcec.PublicKey

	// TimelockPubKey is the sender's refund pubkey. Spendable alone
	// after Timelock blocks of confirmations on the funding tx.
	TimelockPubKey *btcec.PublicKey

	// Hash is HX, the SHA-256 of the swap preimage.
	Hash Hash

	// Timelock is the relative (CSV) timelock in blocks, T_i in spec
	// §4.1's timelock-discipline formula.
	Timelock int64

	script   []byte
	pkScript []byte
	address  btcutil.Address
}

// NewScript builds and locks in a contract redeem script for a single
// hop, along with its P2WSH locking script and address.
func NewScript(timelock int64, hashlockPubKey,
	timelockPubKey *btcec.PublicKey, hash Hash,
	chainParams *chaincfg.Params) (*Script, error) {

	if timelock <= 0 {
		return nil, errors.New("contract: timelock must be positive")
	}
	if timelock > int64(wire.SequenceLockTimeMask) {
		return nil, fmt.Errorf("contract: timelock %d exceeds CSV mask",
			timelock)
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)

	builder.AddData(hashlockPubKey.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIGVERIFY)
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(int64(PreimageSize))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(btcutil.Hash160(hash[:]))
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_ELSE)

	builder.AddInt64(timelock)
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(timelockPubKey.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ENDIF)

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("contract: building redeem script: %w", err)
	}

	pkScript, err := txscript.WitnessScriptHash(script)
	if err != nil {
		return nil, fmt.Errorf("contract: hashing witness script: %w", err)
	}

	address, err := btcutil.NewAddressWitnessScriptHash(
		pkScript[2:], chainParams,
	)
	if err != nil {
		return nil, fmt.Errorf("contract: deriving address: %w", err)
	}

	return &Script{
		HashlockPubKey: hashlockPubKey,
		TimelockPubKey: timelockPubKey,
		Hash:           hash,
		Timelock:       timelock,
		script:         script,
		pkScript:       pkScript,
		address:        address,
	}, nil
}

// RawScript returns the serialized redeem script.
func (s *Script) RawScript() []byte {
	return s.script
}

// PkScript returns the P2WSH locking script paying into this contract.
func (s *Script) PkScript() []byte {
	return s.pkScript
}

// Address returns the bech32 P2WSH address of the contract output.
func (s *Script) Address() btcutil.Address {
	return s.address
}

// SuccessWitness returns the witness that spends the hashlock branch.
// It requires both the preimage and the receiver's signature over the
// spending (contract) transaction; the OP_IF branch selector is the
// trailing true pushed onto the stack.
func (s *Script) SuccessWitness(receiverSig []byte,
	preimage Preimage) (wire.TxWitness, error) {

	if preimage.Hash() != s.Hash {
		return nil, errors.New("contract: preimage does not match " +
			"contract hash")
	}

	return wire.TxWitness{
		append(receiverSig, byte(txscript.SigHashAll)),
		preimage[:],
		[]byte{1},
		s.script,
	}, nil
}

// TimeoutWitness returns the witness that spends the timelock branch
// after the CSV maturity has passed. The OP_ELSE branch selector is the
// empty element just before the script.
func (s *Script) TimeoutWitness(senderSig []byte) (wire.TxWitness, error) {
	return wire.TxWitness{
		append(senderSig, byte(txscript.SigHashAll)),
		nil,
		s.script,
	}, nil
}

// IsSuccessWitness reports whether a witness observed on chain walked
// the hashlock branch (4 elements: a 32-byte second element followed by
// a 0x01 branch selector) as opposed to the timeout branch (3 elements,
// empty selector). Used by the watchtower to decide
// whether a preimage was just revealed on chain.
func IsSuccessWitness(witness wire.TxWitness) bool {
	if len(witness) != 4 {
		return false
	}
	return len(witness[1]) == PreimageSize && len(witness[2]) == 1 &&
		witness[2][0] == 1
}

// ExtractPreimage pulls the preimage out of a hashlock-branch witness,
// verifying it against the expected contract hash.
func ExtractPreimage(witness wire.TxWitness, want Hash) (Preimage, error) {
	if !IsSuccessWitness(witness) {
		return Preimage{}, errors.New("contract: not a hashlock witness")
	}
	preimage, err := NewPreimageFromBytes(witness[1])
	if err != nil {
		return Preimage{}, err
	}
	if preimage.Hash() != want {
		return Preimage{}, errors.New("contract: preimage in witness " +
			"does not hash to expected value")
	}
	return preimage, nil
}

// Decompose parses a raw contract redeem script and confirms it takes
// exactly the two canonical branches spec §8 requires ("∀ contract
// redeem script observed on chain: decomposes into exactly the two
// canonical branches").
func Decompose(script []byte) (hashlockPubKey []byte, hx160 []byte,
	timelock int64, timelockPubKey []byte, err error) {

	tokenizer := txscript.MakeScriptTokenizer(0, script)

	next := func() ([]byte, error) {
		if !tokenizer.Next() {
			return nil, fmt.Errorf("contract: malformed script: %w",
				tokenizer.Err())
		}
		return tokenizer.Data(), nil
	}
	nextOp := func(want byte) error {
		if !tokenizer.Next() {
			return fmt.Errorf("contract: malformed script: %w",
				tokenizer.Err())
		}
		if tokenizer.Opcode() != want {
			return fmt.Errorf("contract: expected opcode %x, got %x",
				want, tokenizer.Opcode())
		}
		return nil
	}

	if err = nextOp(txscript.OP_IF); err != nil {
		return
	}
	if hashlockPubKey, err = next(); err != nil {
		return
	}
	if err = nextOp(txscript.OP_CHECKSIGVERIFY); err != nil {
		return
	}
	if err = nextOp(txscript.OP_SIZE); err != nil {
		return
	}
	sizeBytes, err2 := next()
	if err2 != nil {
		err = err2
		return
	}
	if len(sizeBytes) != 0 {
		n, err4 := txscript.MakeScriptNum(sizeBytes, false, 5)
		if err4 != nil || int64(n) != int64(PreimageSize) {
			err = errors.New("contract: unexpected preimage size operand")
			return
		}
	}
	if err = nextOp(txscript.OP_EQUALVERIFY); err != nil {
		return
	}
	if err = nextOp(txscript.OP_HASH160); err != nil {
		return
	}
	if hx160, err = next(); err != nil {
		return
	}
	if err = nextOp(txscript.OP_EQUAL); err != nil {
		return
	}
	if err = nextOp(txscript.OP_ELSE); err != nil {
		return
	}
	tlBytes, err3 := next()
	if err3 != nil {
		err = err3
		return
	}
	sn, err5 := txscript.MakeScriptNum(tlBytes, false, 5)
	if err5 != nil {
		err = err5
		return
	}
	timelock = int64(sn)
	if err = nextOp(txscript.OP_CHECKSEQUENCEVERIFY); err != nil {
		return
	}
	if err = nextOp(txscript.OP_DROP); err != nil {
		return
	}
	if timelockPubKey, err = next(); err != nil {
		return
	}
	if err = nextOp(txscript.OP_CHECKSIG); err != nil {
		return
	}
	if err = nextOp(txscript.OP_ENDIF); err != nil {
		return
	}
	if tokenizer.Next() {
		err = errors.New("contract: trailing opcodes after ENDIF")
		return
	}
	return
}

// VerifyCanonical rebuilds a script from its decomposed parts and checks
// it byte-for-byte matches what was supplied, guarding against scripts
// that decompose successfully but differ in encoding (e.g. non-minimal
// pushes).
func VerifyCanonical(rawScript []byte, hashlockPubKey,
	timelockPubKey *btcec.PublicKey, hash Hash, timelock int64,
	chainParams *chaincfg.Params) error {

	rebuilt, err := NewScript(
		timelock, hashlockPubKey, timelockPubKey, hash, chainParams,
	)
	if err != nil {
		return err
	}
	if !bytes.Equal(rebuilt.RawScript(), rawScript) {
		return errors.New("contract: script is not in canonical form")
	}
	return nil
}
