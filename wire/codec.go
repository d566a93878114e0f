package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/binaryswap/coinswap/contract"
)

// MaxMessageSize bounds a single framed message. Proof-of-funding
// messages carrying several confirmed transactions are the largest
// legitimate payload; anything past this is either a bug or an
// adversarial peer trying to exhaust memory.
const MaxMessageSize = 1 << 22 // 4 MiB

// Encode frames msg as [4-byte big-endian length][1-byte type][payload]
// and writes it to w. The length covers the type byte and payload, not
// itself.
func Encode(w io.Writer, msg Message) error {
	var buf bytes.Buffer
	enc := &encoder{buf: &buf}
	enc.writeMessage(msg)
	if enc.err != nil {
		return fmt.Errorf("encode %T: %w", msg, enc.err)
	}

	payload := buf.Bytes()
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("encode %T: payload of %d bytes exceeds max message size",
			msg, len(payload))
	}

	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)+1))
	header[4] = byte(msg.Type())
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Decode reads one framed message from r and returns the concrete
// variant identified by its type byte.
func Decode(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, fmt.Errorf("decode: zero-length frame")
	}
	if n > MaxMessageSize {
		return nil, fmt.Errorf("decode: frame of %d bytes exceeds max message size", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	typ := Type(body[0])
	dec := &decoder{buf: bytes.NewReader(body[1:])}
	msg, err := dec.readMessage(typ)
	if err != nil {
		return nil, fmt.Errorf("decode %v: %w", typ, err)
	}
	return msg, nil
}

// --- encoder -----------------------------------------------------------

type encoder struct {
	buf *bytes.Buffer
	err error
}

func (e *encoder) writeMessage(msg Message) {
	switch m := msg.(type) {
	case *TakerHello:
		e.writeUint32(m.Version)
	case *MakerHello:
		e.writeUint32(m.Version)
	case *ReqOffer:
		// no fields
	case *RespOffer:
		e.writeOfferBody(m.Offer)
		e.writeBondBody(m.Bond)
		e.writeVarBytes(m.BondSig)
	case *ReqContractSigsForSender:
		e.writeContractTemplates(m.ContractTxTemplates)
		e.writeFundingInfos(m.Fundings)
	case *RespContractSigsForSender:
		e.writeSigList(m.Sigs)
	case *RespProofOfFunding:
		e.writeFundingInfos(m.Fundings)
		e.writeInt32List(m.Confirmations)
		e.writeByteSliceList(m.MultisigRedeemscripts)
		e.writeNextHopData(m.NextHopData)
	case *ReqContractSigsAsRecvrAndSender:
		e.writeContractTemplates(m.SenderContracts)
		e.writeContractTemplates(m.ReceiverContracts)
	case *ReqContractSigsForReceiver:
		e.writeContractTemplates(m.ContractTxs)
	case *RespContractSigsForReceiver:
		e.writeSigList(m.Sigs)
	case *RespContractSigsForReceiverAndSender:
		e.writeSigList(m.SenderSigs)
		e.writeSigList(m.ReceiverSigs)
	case *RespHashPreimage:
		e.writeFixed(m.Preimage[:])
		e.writeVarBytes(m.NextHopMultisigPrivKey)
	case *RespPrivKeyHandover:
		e.writeByteSliceList(m.PrivKeys)
	case *ReqSwapPubKey:
		e.writeHash(m.Hash)
		e.writeUint32(uint32(m.Role))
	case *RespSwapPubKey:
		e.writePubKey(m.PubKey)
		e.writeOptionalTweak(m.Tweak)
	case *NotifyHopParams:
		e.writeHash(m.Hash)
		e.writeInt64(m.Timelock)
		e.writePubKey(m.ReceiverBasePubKey)
		e.writePubKey(m.HashlockPubKey)
		e.writeAmount(m.Amount)
	default:
		e.err = fmt.Errorf("unknown message type %T", msg)
	}
}

func (e *encoder) writeFixed(b []byte) {
	if e.err != nil {
		return
	}
	e.buf.Write(b)
}

func (e *encoder) writeUint32(v uint32) {
	if e.err != nil {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeUint64(v uint64) {
	if e.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeInt64(v int64) { e.writeUint64(uint64(v)) }
func (e *encoder) writeInt32(v int32) { e.writeUint32(uint32(v)) }
func (e *encoder) writeAmount(v btcutil.Amount) { e.writeInt64(int64(v)) }

func (e *encoder) writeVarBytes(b []byte) {
	if e.err != nil {
		return
	}
	e.writeUint32(uint32(len(b)))
	e.buf.Write(b)
}

func (e *encoder) writeString(s string) { e.writeVarBytes([]byte(s)) }

func (e *encoder) writePubKey(pub *btcec.PublicKey) {
	if e.err != nil {
		return
	}
	if pub == nil {
		e.writeUint32(0)
		return
	}
	e.writeVarBytes(pub.SerializeCompressed())
}

func (e *encoder) writeHash(h contract.Hash) { e.writeFixed(h[:]) }

func (e *encoder) writeOutpoint(op btcwire.OutPoint) {
	e.writeFixed(op.Hash[:])
	e.writeUint32(op.Index)
}

func (e *encoder) writeTx(tx *btcwire.MsgTx) {
	if e.err != nil {
		return
	}
	if tx == nil {
		e.writeUint32(0)
		return
	}
	var raw bytes.Buffer
	if err := tx.Serialize(&raw); err != nil {
		e.err = err
		return
	}
	e.writeVarBytes(raw.Bytes())
}

func (e *encoder) writeContractTemplate(ct ContractTemplate) {
	e.writeOutpoint(ct.FundingOutpoint)
	e.writeAmount(ct.FundingAmount)
	e.writePubKey(ct.HashlockPubKey)
	e.writePubKey(ct.TimelockPubKey)
	e.writeHash(ct.Hash)
	e.writeInt64(ct.Timelock)
	e.writeTx(ct.ContractTx)
}

func (e *encoder) writeContractTemplates(cts []ContractTemplate) {
	if e.err != nil {
		return
	}
	e.writeUint32(uint32(len(cts)))
	for _, ct := range cts {
		e.writeContractTemplate(ct)
	}
}

func (e *encoder) writeFundingInfo(f FundingInfo) {
	e.writeTx(f.Tx)
	e.writeVarBytes(f.MultisigRedeemScript)
	e.writeAmount(f.Amount)
}

func (e *encoder) writeFundingInfos(fs []FundingInfo) {
	if e.err != nil {
		return
	}
	e.writeUint32(uint32(len(fs)))
	for _, f := range fs {
		e.writeFundingInfo(f)
	}
}

func (e *encoder) writeSigList(sigs [][]byte) { e.writeByteSliceList(sigs) }

func (e *encoder) writeByteSliceList(bs [][]byte) {
	if e.err != nil {
		return
	}
	e.writeUint32(uint32(len(bs)))
	for _, b := range bs {
		e.writeVarBytes(b)
	}
}

func (e *encoder) writeInt32List(vs []int32) {
	if e.err != nil {
		return
	}
	e.writeUint32(uint32(len(vs)))
	for _, v := range vs {
		e.writeInt32(v)
	}
}

func (e *encoder) writeOptionalTweak(t *contract.Tweak) {
	if e.err != nil {
		return
	}
	if t == nil {
		e.writeUint32(0)
		return
	}
	e.writeUint32(1)
	e.writeFixed(t[:])
}

func (e *encoder) writeNextHopData(n NextHopData) {
	e.writePubKey(n.NextSenderPubKey)
	e.writeInt64(n.NextTimelock)
}

func (e *encoder) writeOfferBody(o OfferBody) {
	e.writeOutpoint(o.BondOutpoint)
	e.writeAmount(o.MinSize)
	e.writeAmount(o.MaxSize)
	e.writeAmount(o.AbsoluteFee)
	e.writeInt64(o.AmountRelativePPM)
	e.writeAmount(o.TimeRelativeSats)
	e.writeInt64(o.MinLocktime)
	e.writeString(o.OnionAddress)
	e.writeInt64(o.Expiry)
}

func (e *encoder) writeBondBody(b BondBody) {
	e.writeOutpoint(b.Outpoint)
	e.writeAmount(b.LockedAmount)
	e.writeInt32(b.LockUntil)
	e.writePubKey(b.BondPubKey)
	e.writeVarBytes(b.Certificate)
}

// --- decoder -------------------------------------------------------------

type decoder struct {
	buf *bytes.Reader
	err error
}

func (d *decoder) readMessage(typ Type) (Message, error) {
	switch typ {
	case TypeTakerHello:
		return &TakerHello{Version: d.readUint32()}, d.finish()
	case TypeMakerHello:
		return &MakerHello{Version: d.readUint32()}, d.finish()
	case TypeReqOffer:
		return &ReqOffer{}, d.finish()
	case TypeRespOffer:
		m := &RespOffer{
			Offer: d.readOfferBody(),
			Bond:  d.readBondBody(),
		}
		m.BondSig = d.readVarBytes()
		return m, d.finish()
	case TypeReqContractSigsForSender:
		m := &ReqContractSigsForSender{
			ContractTxTemplates: d.readContractTemplates(),
			Fundings:            d.readFundingInfos(),
		}
		return m, d.finish()
	case TypeRespContractSigsForSender:
		return &RespContractSigsForSender{Sigs: d.readByteSliceList()}, d.finish()
	case TypeRespProofOfFunding:
		m := &RespProofOfFunding{
			Fundings:              d.readFundingInfos(),
			Confirmations:         d.readInt32List(),
			MultisigRedeemscripts: d.readByteSliceList(),
			NextHopData:           d.readNextHopData(),
		}
		return m, d.finish()
	case TypeReqContractSigsAsRecvrAndSender:
		m := &ReqContractSigsAsRecvrAndSender{
			SenderContracts:   d.readContractTemplates(),
			ReceiverContracts: d.readContractTemplates(),
		}
		return m, d.finish()
	case TypeReqContractSigsForReceiver:
		return &ReqContractSigsForReceiver{ContractTxs: d.readContractTemplates()}, d.finish()
	case TypeRespContractSigsForReceiver:
		return &RespContractSigsForReceiver{Sigs: d.readByteSliceList()}, d.finish()
	case TypeRespContractSigsForReceiverAndSender:
		m := &RespContractSigsForReceiverAndSender{
			SenderSigs:   d.readByteSliceList(),
			ReceiverSigs: d.readByteSliceList(),
		}
		return m, d.finish()
	case TypeRespHashPreimage:
		m := &RespHashPreimage{}
		d.readFixed(m.Preimage[:])
		m.NextHopMultisigPrivKey = d.readVarBytes()
		return m, d.finish()
	case TypeRespPrivKeyHandover:
		return &RespPrivKeyHandover{PrivKeys: d.readByteSliceList()}, d.finish()
	case TypeReqSwapPubKey:
		m := &ReqSwapPubKey{Hash: d.readHash()}
		m.Role = contract.Role(d.readUint32())
		return m, d.finish()
	case TypeRespSwapPubKey:
		m := &RespSwapPubKey{PubKey: d.readPubKey()}
		m.Tweak = d.readOptionalTweak()
		return m, d.finish()
	case TypeNotifyHopParams:
		m := &NotifyHopParams{Hash: d.readHash()}
		m.Timelock = d.readInt64()
		m.ReceiverBasePubKey = d.readPubKey()
		m.HashlockPubKey = d.readPubKey()
		m.Amount = d.readAmount()
		return m, d.finish()
	default:
		return nil, fmt.Errorf("unrecognized message type %d", typ)
	}
}

func (d *decoder) finish() error { return d.err }

func (d *decoder) readFixed(dst []byte) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.buf, dst); err != nil {
		d.err = err
	}
}

func (d *decoder) readUint32() uint32 {
	if d.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(d.buf, b[:]); err != nil {
		d.err = err
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

func (d *decoder) readUint64() uint64 {
	if d.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(d.buf, b[:]); err != nil {
		d.err = err
		return 0
	}
	return binary.BigEndian.Uint64(b[:])
}

func (d *decoder) readInt64() int64 { return int64(d.readUint64()) }
func (d *decoder) readInt32() int32 { return int32(d.readUint32()) }
func (d *decoder) readAmount() btcutil.Amount { return btcutil.Amount(d.readInt64()) }

func (d *decoder) readVarBytes() []byte {
	if d.err != nil {
		return nil
	}
	n := d.readUint32()
	if d.err != nil {
		return nil
	}
	if n == 0 {
		return nil
	}
	if int64(n) > MaxMessageSize {
		d.err = fmt.Errorf("var bytes length %d exceeds max message size", n)
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.buf, b); err != nil {
		d.err = err
		return nil
	}
	return b
}

func (d *decoder) readString() string { return string(d.readVarBytes()) }

func (d *decoder) readPubKey() *btcec.PublicKey {
	if d.err != nil {
		return nil
	}
	b := d.readVarBytes()
	if d.err != nil || len(b) == 0 {
		return nil
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		d.err = err
		return nil
	}
	return pub
}

func (d *decoder) readHash() contract.Hash {
	var h contract.Hash
	d.readFixed(h[:])
	return h
}

func (d *decoder) readOutpoint() btcwire.OutPoint {
	var op btcwire.OutPoint
	d.readFixed(op.Hash[:])
	op.Index = d.readUint32()
	return op
}

func (d *decoder) readTx() *btcwire.MsgTx {
	if d.err != nil {
		return nil
	}
	raw := d.readVarBytes()
	if d.err != nil || len(raw) == 0 {
		return nil
	}
	tx := &btcwire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		d.err = err
		return nil
	}
	return tx
}

func (d *decoder) readContractTemplate() ContractTemplate {
	var ct ContractTemplate
	ct.FundingOutpoint = d.readOutpoint()
	ct.FundingAmount = d.readAmount()
	ct.HashlockPubKey = d.readPubKey()
	ct.TimelockPubKey = d.readPubKey()
	ct.Hash = d.readHash()
	ct.Timelock = d.readInt64()
	ct.ContractTx = d.readTx()
	return ct
}

func (d *decoder) readContractTemplates() []ContractTemplate {
	if d.err != nil {
		return nil
	}
	n := d.readUint32()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]ContractTemplate, n)
	for i := range out {
		out[i] = d.readContractTemplate()
	}
	return out
}

func (d *decoder) readFundingInfo() FundingInfo {
	var f FundingInfo
	f.Tx = d.readTx()
	f.MultisigRedeemScript = d.readVarBytes()
	f.Amount = d.readAmount()
	return f
}

func (d *decoder) readFundingInfos() []FundingInfo {
	if d.err != nil {
		return nil
	}
	n := d.readUint32()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]FundingInfo, n)
	for i := range out {
		out[i] = d.readFundingInfo()
	}
	return out
}

func (d *decoder) readByteSliceList() [][]byte {
	if d.err != nil {
		return nil
	}
	n := d.readUint32()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = d.readVarBytes()
	}
	return out
}

func (d *decoder) readInt32List() []int32 {
	if d.err != nil {
		return nil
	}
	n := d.readUint32()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = d.readInt32()
	}
	return out
}

func (d *decoder) readOptionalTweak() *contract.Tweak {
	if d.err != nil {
		return nil
	}
	present := d.readUint32()
	if d.err != nil || present == 0 {
		return nil
	}
	var t contract.Tweak
	d.readFixed(t[:])
	if d.err != nil {
		return nil
	}
	return &t
}

func (d *decoder) readNextHopData() NextHopData {
	return NextHopData{
		NextSenderPubKey: d.readPubKey(),
		NextTimelock:     d.readInt64(),
	}
}

func (d *decoder) readOfferBody() OfferBody {
	var o OfferBody
	o.BondOutpoint = d.readOutpoint()
	o.MinSize = d.readAmount()
	o.MaxSize = d.readAmount()
	o.AbsoluteFee = d.readAmount()
	o.AmountRelativePPM = d.readInt64()
	o.TimeRelativeSats = d.readAmount()
	o.MinLocktime = d.readInt64()
	o.OnionAddress = d.readString()
	o.Expiry = d.readInt64()
	return o
}

func (d *decoder) readBondBody() BondBody {
	var b BondBody
	b.Outpoint = d.readOutpoint()
	b.LockedAmount = d.readAmount()
	b.LockUntil = d.readInt32()
	b.BondPubKey = d.readPubKey()
	b.Certificate = d.readVarBytes()
	return b
}
