package wire

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/binaryswap/coinswap/contract"
	"github.com/stretchr/testify/require"
)

func randPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func dummyTx(t *testing.T) *btcwire.MsgTx {
	t.Helper()
	tx := btcwire.NewMsgTx(2)
	tx.AddTxIn(&btcwire.TxIn{
		PreviousOutPoint: btcwire.OutPoint{Index: 1},
		Sequence:         btcwire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&btcwire.TxOut{
		Value:    50000,
		PkScript: []byte{0x00, 0x14},
	})
	return tx
}

// roundTrip encodes msg, decodes it back, and returns the decoded value
// for further field-level assertions.
func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, msg))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, msg.Type(), got.Type())
	return got
}

func TestHelloRoundTrip(t *testing.T) {
	got := roundTrip(t, &TakerHello{Version: ProtocolVersion})
	require.Equal(t, &TakerHello{Version: ProtocolVersion}, got)

	got = roundTrip(t, &MakerHello{Version: ProtocolVersion})
	require.Equal(t, &MakerHello{Version: ProtocolVersion}, got)
}

func TestReqOfferRoundTrip(t *testing.T) {
	got := roundTrip(t, &ReqOffer{})
	require.Equal(t, &ReqOffer{}, got)
}

func TestRespOfferRoundTrip(t *testing.T) {
	orig := &RespOffer{
		Offer: OfferBody{
			BondOutpoint:      btcwire.OutPoint{Index: 3},
			MinSize:           btcutil.Amount(10000),
			MaxSize:           btcutil.Amount(5_000_000),
			AbsoluteFee:       btcutil.Amount(500),
			AmountRelativePPM: 250,
			TimeRelativeSats:  btcutil.Amount(2),
			MinLocktime:       144,
			OnionAddress:      "abcxyz.onion",
			Expiry:            1_700_000_000,
		},
		Bond: BondBody{
			Outpoint:     btcwire.OutPoint{Index: 7},
			LockedAmount: btcutil.Amount(1_000_000),
			LockUntil:    850_000,
			BondPubKey:   randPubKey(t),
			Certificate:  []byte("cert-bytes"),
		},
		BondSig: []byte("sig-bytes"),
	}

	got := roundTrip(t, orig).(*RespOffer)
	require.Equal(t, orig.Offer, got.Offer)
	require.True(t, orig.Bond.BondPubKey.IsEqual(got.Bond.BondPubKey))
	require.Equal(t, orig.Bond.Outpoint, got.Bond.Outpoint)
	require.Equal(t, orig.Bond.LockedAmount, got.Bond.LockedAmount)
	require.Equal(t, orig.Bond.LockUntil, got.Bond.LockUntil)
	require.Equal(t, orig.Bond.Certificate, got.Bond.Certificate)
	require.Equal(t, orig.BondSig, got.BondSig)
}

func TestReqContractSigsForSenderRoundTrip(t *testing.T) {
	var hash contract.Hash
	copy(hash[:], bytes.Repeat([]byte{0xAB}, 32))

	orig := &ReqContractSigsForSender{
		ContractTxTemplates: []ContractTemplate{
			{
				FundingOutpoint: btcwire.OutPoint{Index: 1},
				FundingAmount:   btcutil.Amount(100000),
				HashlockPubKey:  randPubKey(t),
				TimelockPubKey:  randPubKey(t),
				Hash:            hash,
				Timelock:        144,
				ContractTx:      dummyTx(t),
			},
		},
		Fundings: []FundingInfo{
			{
				Tx:                   dummyTx(t),
				MultisigRedeemScript: []byte{0x52, 0x21},
				Amount:               btcutil.Amount(100000),
			},
		},
	}

	got := roundTrip(t, orig).(*ReqContractSigsForSender)
	require.Len(t, got.ContractTxTemplates, 1)
	ct := got.ContractTxTemplates[0]
	require.Equal(t, orig.ContractTxTemplates[0].FundingOutpoint, ct.FundingOutpoint)
	require.Equal(t, orig.ContractTxTemplates[0].FundingAmount, ct.FundingAmount)
	require.Equal(t, orig.ContractTxTemplates[0].Hash, ct.Hash)
	require.Equal(t, orig.ContractTxTemplates[0].Timelock, ct.Timelock)
	require.True(t, orig.ContractTxTemplates[0].HashlockPubKey.IsEqual(ct.HashlockPubKey))
	require.True(t, orig.ContractTxTemplates[0].TimelockPubKey.IsEqual(ct.TimelockPubKey))
	require.Equal(t, orig.ContractTxTemplates[0].ContractTx.TxHash(), ct.ContractTx.TxHash())

	require.Len(t, got.Fundings, 1)
	require.Equal(t, orig.Fundings[0].MultisigRedeemScript, got.Fundings[0].MultisigRedeemScript)
	require.Equal(t, orig.Fundings[0].Amount, got.Fundings[0].Amount)
	require.Equal(t, orig.Fundings[0].Tx.TxHash(), got.Fundings[0].Tx.TxHash())
}

func TestRespPrivKeyHandoverRoundTrip(t *testing.T) {
	orig := &RespPrivKeyHandover{
		PrivKeys: [][]byte{
			bytes.Repeat([]byte{0x01}, 32),
			bytes.Repeat([]byte{0x02}, 32),
		},
	}
	got := roundTrip(t, orig).(*RespPrivKeyHandover)
	require.Equal(t, orig.PrivKeys, got.PrivKeys)
}

func TestRespHashPreimageRoundTrip(t *testing.T) {
	var preimage contract.Preimage
	copy(preimage[:], bytes.Repeat([]byte{0xEE}, 32))

	orig := &RespHashPreimage{
		Preimage:               preimage,
		NextHopMultisigPrivKey: bytes.Repeat([]byte{0x03}, 32),
	}
	got := roundTrip(t, orig).(*RespHashPreimage)
	require.Equal(t, orig.Preimage, got.Preimage)
	require.Equal(t, orig.NextHopMultisigPrivKey, got.NextHopMultisigPrivKey)
}

func TestSwapPubKeyRoundTrip(t *testing.T) {
	var hash contract.Hash
	copy(hash[:], bytes.Repeat([]byte{0xCD}, 32))

	got := roundTrip(t, &ReqSwapPubKey{Hash: hash, Role: contract.RoleReceiver}).(*ReqSwapPubKey)
	require.Equal(t, hash, got.Hash)
	require.Equal(t, contract.RoleReceiver, got.Role)

	pub := randPubKey(t)
	got2 := roundTrip(t, &RespSwapPubKey{PubKey: pub}).(*RespSwapPubKey)
	require.True(t, pub.IsEqual(got2.PubKey))
	require.Nil(t, got2.Tweak)

	var tweak contract.Tweak
	copy(tweak[:], bytes.Repeat([]byte{0x07}, 32))
	got3 := roundTrip(t, &RespSwapPubKey{PubKey: pub, Tweak: &tweak}).(*RespSwapPubKey)
	require.Equal(t, tweak, *got3.Tweak)
}

func TestNotifyHopParamsRoundTrip(t *testing.T) {
	var hash contract.Hash
	copy(hash[:], bytes.Repeat([]byte{0x11}, 32))

	orig := &NotifyHopParams{
		Hash:               hash,
		Timelock:           288,
		ReceiverBasePubKey: randPubKey(t),
		HashlockPubKey:     randPubKey(t),
		Amount:             btcutil.Amount(250_000),
	}
	got := roundTrip(t, orig).(*NotifyHopParams)
	require.Equal(t, orig.Hash, got.Hash)
	require.Equal(t, orig.Timelock, got.Timelock)
	require.Equal(t, orig.Amount, got.Amount)
	require.True(t, orig.ReceiverBasePubKey.IsEqual(got.ReceiverBasePubKey))
	require.True(t, orig.HashlockPubKey.IsEqual(got.HashlockPubKey))
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := Decode(&buf)
	require.Error(t, err)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &ReqOffer{}))
	raw := buf.Bytes()
	// Corrupt the type byte (index 4, right after the 4-byte length
	// prefix) to a value with no registered variant.
	raw[4] = 0xFE

	_, err := Decode(bytes.NewReader(raw))
	require.Error(t, err)
}
