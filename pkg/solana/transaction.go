package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	// MaxTransactionSize is the largest serialized transaction a leader accepts.
	//
	// Reference: https://github.com/solana-labs/solana/blob/39b3ac6a8d29e14faa1de73d8b46d390ad41797b/sdk/src/packet.rs#L9-L13
	MaxTransactionSize = 1232
)

var ErrTransactionTooLarge = errors.New("transaction exceeds max size")

type Signature [ed25519.SignatureSize]byte
type Blockhash [sha256.Size]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (b Blockhash) String() string {
	return base58.Encode(b[:])
}

type Header struct {
	NumSignatures     byte
	NumReadonlySigned byte
	NumReadOnly       byte
}

// Message is a legacy transaction message.
type Message struct {
	Header          Header
	Accounts        []ed25519.PublicKey
	RecentBlockhash Blockhash
	Instructions    []CompiledInstruction
}

type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransaction compiles the instructions into a legacy transaction paid for
// by payer. Signatures are left empty until Sign is called.
func NewTransaction(payer ed25519.PublicKey, instructions ...Instruction) Transaction {
	accounts := []AccountMeta{
		{
			PublicKey:  payer,
			IsSigner:   true,
			IsWritable: true,
			isPayer:    true,
		},
	}
	for _, instruction := range instructions {
		accounts = append(accounts, AccountMeta{
			PublicKey: instruction.Program,
			isProgram: true,
		})
		accounts = append(accounts, instruction.Accounts...)
	}

	accounts = dedupeAccounts(accounts)
	sort.Stable(sortableAccountMeta(accounts))

	var m Message
	for _, account := range accounts {
		key := account.PublicKey
		if len(key) == 0 {
			key = make([]byte, ed25519.PublicKeySize)
		}
		m.Accounts = append(m.Accounts, key)

		switch {
		case account.IsSigner:
			m.Header.NumSignatures++
			if !account.IsWritable {
				m.Header.NumReadonlySigned++
			}
		case !account.IsWritable:
			m.Header.NumReadOnly++
		}
	}

	for _, instruction := range instructions {
		compiled := CompiledInstruction{
			ProgramIndex: byte(indexOf(m.Accounts, instruction.Program)),
			Data:         instruction.Data,
		}
		for _, account := range instruction.Accounts {
			compiled.Accounts = append(compiled.Accounts, byte(indexOf(m.Accounts, account.PublicKey)))
		}
		m.Instructions = append(m.Instructions, compiled)
	}

	return Transaction{
		Signatures: make([]Signature, m.Header.NumSignatures),
		Message:    m,
	}
}

// Signature returns the transaction id, which is the payer's signature.
func (t *Transaction) Signature() Signature {
	if len(t.Signatures) == 0 {
		return Signature{}
	}
	return t.Signatures[0]
}

func (t *Transaction) SetBlockhash(bh Blockhash) {
	t.Message.RecentBlockhash = bh
}

// Sign signs the message with each of the provided keys. Every key must
// belong to one of the message's signer slots.
func (t *Transaction) Sign(signers ...ed25519.PrivateKey) error {
	message := t.Message.Marshal()

	for _, signer := range signers {
		pub := signer.Public().(ed25519.PublicKey)

		index := indexOf(t.Message.Accounts, pub)
		if index < 0 {
			return errors.Errorf("signing account %s is not in the account list", base58.Encode(pub))
		}
		if index >= len(t.Signatures) {
			return errors.Errorf("signing account %s is not in the list of signers", base58.Encode(pub))
		}

		copy(t.Signatures[index][:], ed25519.Sign(signer, message))
	}

	return nil
}

// Size returns the serialized length of the transaction. Signatures are fixed
// width, so the size is known before signing.
func (t *Transaction) Size() int {
	return len(t.Marshal())
}

func (t *Transaction) String() string {
	var sb strings.Builder
	sb.WriteString("Signatures:\n")
	for i, s := range t.Signatures {
		sb.WriteString(fmt.Sprintf("  %d: %s\n", i, s))
	}
	sb.WriteString("Message:\n")
	sb.WriteString(fmt.Sprintf("  Header: %d/%d/%d\n", t.Message.Header.NumSignatures, t.Message.Header.NumReadonlySigned, t.Message.Header.NumReadOnly))
	sb.WriteString(fmt.Sprintf("  Blockhash: %s\n", t.Message.RecentBlockhash))
	sb.WriteString("  Accounts:\n")
	for i, a := range t.Message.Accounts {
		sb.WriteString(fmt.Sprintf("    %d: %s\n", i, base58.Encode(a)))
	}
	sb.WriteString("  Instructions:\n")
	for i, instruction := range t.Message.Instructions {
		sb.WriteString(fmt.Sprintf("    %d: program=%d accounts=%v data=%v\n", i, instruction.ProgramIndex, instruction.Accounts, instruction.Data))
	}
	return sb.String()
}

// dedupeAccounts collapses repeated references to the same key, promoting the
// surviving entry to the union of the permissions requested.
func dedupeAccounts(accounts []AccountMeta) []AccountMeta {
	unique := make([]AccountMeta, 0, len(accounts))

outer:
	for _, account := range accounts {
		for j := range unique {
			if !bytes.Equal(account.PublicKey, unique[j].PublicKey) {
				continue
			}

			unique[j].IsSigner = unique[j].IsSigner || account.IsSigner
			unique[j].IsWritable = unique[j].IsWritable || account.IsWritable
			unique[j].isPayer = unique[j].isPayer || account.isPayer
			continue outer
		}

		unique = append(unique, account)
	}

	return unique
}

func indexOf(keys []ed25519.PublicKey, key ed25519.PublicKey) int {
	if len(key) == 0 {
		key = make([]byte, ed25519.PublicKeySize)
	}
	for i, candidate := range keys {
		if bytes.Equal(candidate, key) {
			return i
		}
	}
	return -1
}
