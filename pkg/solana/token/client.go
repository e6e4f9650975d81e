package token

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
)

var (
	ErrAccountNotFound = errors.New("token account not found")

	// ErrInvalidTokenAccount means the address holds an account that is not an
	// initialized token account of the client's mint.
	ErrInvalidTokenAccount = errors.New("invalid token account")
)

// Client reads token state for a single mint.
type Client struct {
	sc   solana.Client
	mint ed25519.PublicKey
}

func NewClient(sc solana.Client, mint ed25519.PublicKey) *Client {
	return &Client{sc: sc, mint: mint}
}

// GetAccount loads and validates the token account at address.
func (c *Client) GetAccount(ctx context.Context, address ed25519.PublicKey, commitment solana.Commitment) (*Account, error) {
	info, err := c.load(ctx, address, commitment)
	if err != nil {
		return nil, err
	}

	var account Account
	switch {
	case !account.Unmarshal(info.Data):
		return nil, ErrInvalidTokenAccount
	case account.State == AccountStateUninitialized:
		return nil, errors.Wrap(ErrInvalidTokenAccount, "uninitialized")
	case !bytes.Equal(account.Mint, c.mint):
		return nil, errors.Wrap(ErrInvalidTokenAccount, "wrong mint")
	}
	return &account, nil
}

// GetMint loads the client's mint.
func (c *Client) GetMint(ctx context.Context, commitment solana.Commitment) (*Mint, error) {
	info, err := c.load(ctx, c.mint, commitment)
	if err != nil {
		return nil, err
	}

	var mint Mint
	if !mint.Unmarshal(info.Data) {
		return nil, errors.New("invalid mint account")
	}
	return &mint, nil
}

func (c *Client) load(ctx context.Context, address ed25519.PublicKey, commitment solana.Commitment) (solana.AccountInfo, error) {
	info, err := c.sc.GetAccountInfo(ctx, address, commitment)
	if errors.Is(err, solana.ErrNoAccountInfo) {
		return info, ErrAccountNotFound
	} else if err != nil {
		return info, errors.Wrap(err, "failed to get account info")
	}

	if !bytes.Equal(info.Owner, ProgramKey) {
		return info, errors.Wrap(ErrInvalidTokenAccount, "not owned by the token program")
	}
	return info, nil
}
