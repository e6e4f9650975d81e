package solana

import (
	"bytes"
	"crypto/ed25519"
	"io"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana/shortvec"
)

// Marshal encodes the transaction in the legacy wire format: a compact
// array of signatures followed by the message.
func (t Transaction) Marshal() []byte {
	var b bytes.Buffer

	writeLen(&b, len(t.Signatures))
	for _, s := range t.Signatures {
		b.Write(s[:])
	}
	b.Write(t.Message.Marshal())

	return b.Bytes()
}

func (t *Transaction) Unmarshal(b []byte) error {
	d := &decoder{r: bytes.NewReader(b)}

	t.Signatures = make([]Signature, d.length("signatures"))
	for i := range t.Signatures {
		d.fill(t.Signatures[i][:], "signature")
	}
	if d.err != nil {
		return d.err
	}

	rest := make([]byte, d.r.Len())
	_, _ = d.r.Read(rest)
	return t.Message.Unmarshal(rest)
}

func (m Message) Marshal() []byte {
	var b bytes.Buffer

	b.Write([]byte{m.Header.NumSignatures, m.Header.NumReadonlySigned, m.Header.NumReadOnly})

	writeLen(&b, len(m.Accounts))
	for _, account := range m.Accounts {
		b.Write(account)
	}

	b.Write(m.RecentBlockhash[:])

	writeLen(&b, len(m.Instructions))
	for _, ix := range m.Instructions {
		b.WriteByte(ix.ProgramIndex)
		writeLen(&b, len(ix.Accounts))
		b.Write(ix.Accounts)
		writeLen(&b, len(ix.Data))
		b.Write(ix.Data)
	}

	return b.Bytes()
}

// Unmarshal decodes a legacy message, rejecting versioned messages and
// instructions that index past the account list.
func (m *Message) Unmarshal(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty message")
	}
	if b[0]&0x80 != 0 {
		return errors.New("versioned messages not supported")
	}

	d := &decoder{r: bytes.NewReader(b)}

	var header [3]byte
	d.fill(header[:], "header")
	m.Header = Header{
		NumSignatures:     header[0],
		NumReadonlySigned: header[1],
		NumReadOnly:       header[2],
	}

	m.Accounts = make([]ed25519.PublicKey, d.length("accounts"))
	for i := range m.Accounts {
		m.Accounts[i] = d.bytes(ed25519.PublicKeySize, "account")
	}

	d.fill(m.RecentBlockhash[:], "recent blockhash")

	m.Instructions = make([]CompiledInstruction, d.length("instructions"))
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		ix.ProgramIndex = d.byte("program index")
		ix.Accounts = d.bytes(d.length("instruction accounts"), "instruction accounts")
		ix.Data = d.bytes(d.length("instruction data"), "instruction data")
		if d.err != nil {
			return errors.Wrapf(d.err, "instruction %d", i)
		}

		if int(ix.ProgramIndex) >= len(m.Accounts) {
			return errors.Errorf("instruction %d: program index %d out of range", i, ix.ProgramIndex)
		}
		for _, index := range ix.Accounts {
			if int(index) >= len(m.Accounts) {
				return errors.Errorf("instruction %d: account index %d out of range", i, index)
			}
		}
	}

	return d.err
}

func writeLen(b *bytes.Buffer, n int) {
	_, _ = shortvec.EncodeLen(b, n)
}

// decoder reads wire fields in order. The first failure sticks and every
// later read is a no-op, so callers check err once per group of fields.
type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) length(field string) int {
	if d.err != nil {
		return 0
	}
	n, err := shortvec.DecodeLen(d.r)
	if err != nil {
		d.err = errors.Wrapf(err, "failed to read %s length", field)
		return 0
	}
	return n
}

func (d *decoder) byte(field string) byte {
	var b [1]byte
	d.fill(b[:], field)
	return b[0]
}

func (d *decoder) bytes(n int, field string) []byte {
	b := make([]byte, n)
	d.fill(b, field)
	return b
}

func (d *decoder) fill(b []byte, field string) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = errors.Wrapf(err, "failed to read %s", field)
	}
}
