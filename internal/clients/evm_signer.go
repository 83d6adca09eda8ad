package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// KeySigner signs EVM transactions with a local private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
	signer  types.Signer
	// Approve asks the user to sign, nil approves everything.
	Approve func(ctx context.Context, payload []byte) error
}

// NewKeySigner parses a hex private key, with or without the 0x prefix.
func NewKeySigner(privateKeyHex string, chainID *big.Int) (*KeySigner, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	return &KeySigner{
		key:     privateKey,
		address: crypto.PubkeyToAddress(*pub).Hex(),
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

// Address returns the checksummed account address.
func (s *KeySigner) Address() string {
	return s.address
}

// Sign signs an unsigned encoded transaction and returns the signed encoding.
func (s *KeySigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if s.Approve != nil {
		if err := s.Approve(ctx, payload); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(payload); err != nil {
		return nil, errors.Wrap(err, "decode transaction")
	}

	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}

	return signed.MarshalBinary()
}
