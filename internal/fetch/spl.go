package fetch

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"VoltrQuote/internal/errs"
)

// SPL-Token base account layouts. Token-2022 accounts carry the same base
// layout with extensions appended, so a minimum-length check is the right
// discipline for both programs.
const (
	mintLen         = 82
	tokenAccountLen = 165
)

var (
	TokenProgramID     = solana.TokenProgramID
	Token2022ProgramID = solana.Token2022ProgramID
)

// Mint is the base SPL mint layout; only the fields valuation needs.
type Mint struct {
	Supply   uint64
	Decimals uint8
}

// TokenAccount is the base SPL token-account layout.
type TokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

// DecodeMint parses the base mint layout. Supply sits after the 36-byte
// mint-authority COption prefix.
func DecodeMint(data []byte) (*Mint, error) {
	const op = "fetch.DecodeMint"

	if len(data) < mintLen {
		return nil, errs.Truncated(op, mintLen, len(data))
	}
	return &Mint{
		Supply:   binary.LittleEndian.Uint64(data[36:44]),
		Decimals: data[44],
	}, nil
}

// DecodeTokenAccount parses the base token-account layout.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	const op = "fetch.DecodeTokenAccount"

	if len(data) < tokenAccountLen {
		return nil, errs.Truncated(op, tokenAccountLen, len(data))
	}
	return &TokenAccount{
		Mint:   solana.PublicKeyFromBytes(data[0:32]),
		Owner:  solana.PublicKeyFromBytes(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}
