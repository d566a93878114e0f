package storage

import (
	"bytes"
	"fmt"

	"github.com/binaryswap/coinswap/contract"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"go.etcd.io/bbolt"
)

// WatchEntry is everything the contract-enforcement loop needs to track
// and, if necessary, unilaterally settle a single hop (spec §4.3 rule 1:
// "(contract_outpoint, own_contract_tx, counterparty_contract_tx_template,
// hashlock_redeem_path, timelock_redeem_path)").
//
// A hop starts out watched at its funding outpoint, before any contract
// transaction has confirmed. Once either party's contract tx confirms,
// ContractOutpoint and ContractConfirmedHeight are filled in and the
// entry starts being watched for its own hashlock/timelock maturity.
type WatchEntry struct {
	SessionID string

	// FundingOutpoint is the 2-of-2 multisig output this hop's contract
	// tx spends.
	FundingOutpoint wire.OutPoint

	// OwnContractTx is this party's fully signed contract transaction,
	// ready to broadcast the moment a race is triggered.
	OwnContractTx *wire.MsgTx

	// ContractOutpoint and ContractConfirmedHeight are unset until a
	// contract tx (either party's) confirms.
	ContractOutpoint       *wire.OutPoint
	ContractConfirmedHeight int32

	// Redeem-path parameters, common to both the hashlock and timelock
	// witness (contract.Script rebuilds the exact script from these).
	HashlockPubKey *btcec.PublicKey
	TimelockPubKey *btcec.PublicKey
	Hash           contract.Hash
	Timelock       int64

	Role contract.Role

	// PrivKey signs whichever branch this party is entitled to: the
	// timelock key if Role is RoleSender, the hashlock key if Role is
	// RoleReceiver and Preimage has been learned.
	PrivKey []byte

	// Preimage is set once this party has learned the swap secret.
	Preimage *contract.Preimage

	// Broadcast records whether OwnContractTx has already been sent, so
	// the enforcement loop does not resend it every tick.
	Broadcast bool

	CreatedAt int64
}

func encodeWatchEntry(e WatchEntry) ([]byte, error) {
	enc := newEncoder()
	enc.writeString(e.SessionID)
	enc.writeOutpoint(e.FundingOutpoint)

	if e.OwnContractTx != nil {
		var buf bytes.Buffer
		if err := e.OwnContractTx.Serialize(&buf); err != nil {
			return nil, fmt.Errorf("serialize own contract tx: %w", err)
		}
		enc.writeVarBytes(buf.Bytes())
	} else {
		enc.writeVarBytes(nil)
	}

	if e.ContractOutpoint != nil {
		enc.writeUint32(1)
		enc.writeOutpoint(*e.ContractOutpoint)
	} else {
		enc.writeUint32(0)
	}
	enc.writeUint32(uint32(e.ContractConfirmedHeight))

	enc.writePubKey(e.HashlockPubKey)
	enc.writePubKey(e.TimelockPubKey)
	enc.writeFixed(e.Hash[:])
	enc.writeInt64(e.Timelock)
	enc.writeUint32(uint32(e.Role))
	enc.writeVarBytes(e.PrivKey)

	if e.Preimage != nil {
		enc.writeVarBytes(e.Preimage[:])
	} else {
		enc.writeVarBytes(nil)
	}

	if e.Broadcast {
		enc.writeUint32(1)
	} else {
		enc.writeUint32(0)
	}
	enc.writeInt64(e.CreatedAt)

	return enc.bytes()
}

func decodeWatchEntry(val []byte) (WatchEntry, error) {
	dec := newDecoder(val)

	var e WatchEntry
	e.SessionID = dec.readString()
	e.FundingOutpoint = dec.readOutpoint()

	if txBytes := dec.readVarBytes(); len(txBytes) > 0 {
		tx := wire.NewMsgTx(2)
		if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
			return WatchEntry{}, fmt.Errorf("deserialize own contract tx: %w", err)
		}
		e.OwnContractTx = tx
	}

	if dec.readUint32() == 1 {
		op := dec.readOutpoint()
		e.ContractOutpoint = &op
	}
	e.ContractConfirmedHeight = int32(dec.readUint32())

	e.HashlockPubKey = dec.readPubKey()
	e.TimelockPubKey = dec.readPubKey()
	dec.readFixed(e.Hash[:])
	e.Timelock = dec.readInt64()
	e.Role = contract.Role(dec.readUint32())
	e.PrivKey = dec.readVarBytes()

	if preimageBytes := dec.readVarBytes(); len(preimageBytes) == contract.PreimageSize {
		p, err := contract.NewPreimageFromBytes(preimageBytes)
		if err != nil {
			return WatchEntry{}, err
		}
		e.Preimage = &p
	}

	e.Broadcast = dec.readUint32() == 1
	e.CreatedAt = dec.readInt64()

	if err := dec.finish(); err != nil {
		return WatchEntry{}, fmt.Errorf("decode watch entry: %w", err)
	}
	return e, nil
}

// PutWatchEntry persists or updates the watch state for a hop, keyed by
// its funding outpoint so re-adding the same hop overwrites its
// previous entry rather than duplicating it.
func (s *Store) PutWatchEntry(e WatchEntry) error {
	val, err := encodeWatchEntry(e)
	if err != nil {
		return fmt.Errorf("encode watch entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(watchBucketKey)
		return bucket.Put(outpointKey(e.FundingOutpoint), val)
	})
}

// DeleteWatchEntry removes a hop from the watch set once it has
// resolved, one way or another.
func (s *Store) DeleteWatchEntry(fundingOutpoint wire.OutPoint) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(watchBucketKey)
		return bucket.Delete(outpointKey(fundingOutpoint))
	})
}

// LoadWatchEntries returns every hop still under enforcement, used to
// rebuild the watchtower's tracking set on startup.
func (s *Store) LoadWatchEntries() ([]WatchEntry, error) {
	var entries []WatchEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(watchBucketKey)
		return bucket.ForEach(func(k, v []byte) error {
			e, err := decodeWatchEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
