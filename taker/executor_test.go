package taker

import (
	"testing"

	"github.com/binaryswap/coinswap/contract"
	"github.com/binaryswap/coinswap/market"
	swwire "github.com/binaryswap/coinswap/wire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func swwireTemplate(hash contract.Hash, timelock int64, hashlockPubKey,
	timelockPubKey *btcec.PublicKey, amount btcutil.Amount,
	contractTx *wire.MsgTx) swwire.ContractTemplate {

	return swwire.ContractTemplate{
		FundingOutpoint: contractTx.TxIn[0].PreviousOutPoint,
		FundingAmount:   amount,
		HashlockPubKey:  hashlockPubKey,
		TimelockPubKey:  timelockPubKey,
		Hash:            hash,
		Timelock:        timelock,
		ContractTx:      contractTx,
	}
}

func newTestExecutor(t *testing.T, sess *Session) *Executor {
	t.Helper()
	return NewExecutor(sess, nil, nil, nil, &chaincfg.RegressionNetParams, nil)
}

func newTestHopState(index int, timelock int64, absFee btcutil.Amount) *HopState {
	return &HopState{
		Index:    index,
		Timelock: timelock,
		Maker: market.ScoredOffer{
			Offer: market.Offer{
				Fees: market.FeeModel{AbsoluteFeeSats: absFee},
			},
		},
	}
}

func TestHopAmountsAppliesFeePerHop(t *testing.T) {
	sess := &Session{
		Params: Params{SendAmount: 100_000},
		Hops: []*HopState{
			newTestHopState(1, 300, 500),
			newTestHopState(2, 200, 250),
			newTestHopState(3, 100, 0),
		},
	}
	ex := newTestExecutor(t, sess)

	amounts := ex.hopAmounts()
	require.Equal(t, []btcutil.Amount{100_000, 99_500, 99_250}, amounts)
}

func TestValidateTemplateAcceptsMatchingProposal(t *testing.T) {
	hashlockKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	timelockKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var hash contract.Hash
	hash[0] = 0xAB

	sess := &Session{Hash: hash}
	ex := newTestExecutor(t, sess)

	hop := &HopState{
		Timelock:       144,
		HashlockPubKey: hashlockKey.PubKey(),
		TimelockPubKey: timelockKey.PubKey(),
	}

	tx := wire.NewMsgTx(contract.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))

	template := swwireTemplate(hash, 144, hashlockKey.PubKey(), timelockKey.PubKey(), 50_000, tx)

	require.NoError(t, ex.validateTemplate(hop, template, 50_000))
}

func TestValidateTemplateRejectsWrongTimelock(t *testing.T) {
	hashlockKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	timelockKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var hash contract.Hash
	sess := &Session{Hash: hash}
	ex := newTestExecutor(t, sess)

	hop := &HopState{
		Timelock:       144,
		HashlockPubKey: hashlockKey.PubKey(),
		TimelockPubKey: timelockKey.PubKey(),
	}

	tx := wire.NewMsgTx(contract.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))

	template := swwireTemplate(hash, 100, hashlockKey.PubKey(), timelockKey.PubKey(), 50_000, tx)

	require.Error(t, ex.validateTemplate(hop, template, 50_000))
}

func TestValidateTemplateRejectsWrongAmount(t *testing.T) {
	hashlockKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	timelockKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var hash contract.Hash
	sess := &Session{Hash: hash}
	ex := newTestExecutor(t, sess)

	hop := &HopState{
		Timelock:       144,
		HashlockPubKey: hashlockKey.PubKey(),
		TimelockPubKey: timelockKey.PubKey(),
	}

	tx := wire.NewMsgTx(contract.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))

	template := swwireTemplate(hash, 144, hashlockKey.PubKey(), timelockKey.PubKey(), 50_000, tx)

	require.Error(t, ex.validateTemplate(hop, template, 60_000))
}

func TestWatchEntryForSenderUsesUntweakedKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	hop := &HopState{
		Timelock:       144,
		TakerPrivKey:   priv,
		HashlockPubKey: priv.PubKey(),
		TimelockPubKey: priv.PubKey(),
	}
	hf := &HopFunding{ContractTx: wire.NewMsgTx(contract.TxVersion)}
	outpoint := &wire.OutPoint{Index: 2}

	var hash contract.Hash
	hash[0] = 7

	entry := watchEntryForSender("sess", hash, hop, hf, outpoint, 1_700_000_000)
	require.Equal(t, contract.RoleSender, entry.Role)
	require.Equal(t, priv.Serialize(), entry.PrivKey)
	require.Equal(t, hash, entry.Hash)
	require.Nil(t, entry.Preimage)
}

func TestWatchEntryForReceiverTweaksKeyAndSetsPreimage(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	tweak, err := contract.NewTweak()
	require.NoError(t, err)

	hop := &HopState{
		Timelock:       144,
		TakerPrivKey:   priv,
		Tweak:          tweak,
		HashlockPubKey: contract.TweakPubKey(priv.PubKey(), tweak),
	}
	hf := &HopFunding{ContractTx: wire.NewMsgTx(contract.TxVersion)}
	outpoint := &wire.OutPoint{Index: 3}
	preimage := contract.Preimage{1, 2, 3}

	var hash contract.Hash
	entry := watchEntryForReceiver("sess", hash, preimage, hop, hf, outpoint, 1_700_000_000)

	require.Equal(t, contract.RoleReceiver, entry.Role)
	require.NotEqual(t, priv.Serialize(), entry.PrivKey)
	require.Equal(t, contract.TweakPrivKey(priv, tweak).Serialize(), entry.PrivKey)
	require.NotNil(t, entry.Preimage)
	require.Equal(t, preimage, *entry.Preimage)
}
