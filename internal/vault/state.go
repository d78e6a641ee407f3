// Package vault decodes the on-chain Voltr vault account and exposes the
// snapshot accessors the valuation engine reads. Decoding is a pure
// structural cast at fixed little-endian offsets; no value-range validation
// happens here.
package vault

import (
	"encoding/binary"
	"math/bits"

	"github.com/gagliardetto/solana-go"

	"VoltrQuote/internal/errs"
	vmath "VoltrQuote/internal/math"
)

const (
	discriminatorSize = 8

	// recordSize is the minimum account length: discriminator plus the last
	// decoded field (locked profit state ends at offset 680).
	recordSize = discriminatorSize + 680
)

// Vault is the decoded vault record.
type Vault struct {
	Asset             VaultAsset
	Lp                VaultLp
	Configuration     VaultConfiguration
	FeeConfiguration  FeeConfiguration
	FeeUpdate         FeeUpdate
	FeeState          FeeState
	DeadWeight        uint64
	HighWaterMark     HighWaterMark
	LastUpdatedTs     uint64
	LockedProfitState LockedProfitState
}

// VaultAsset describes the deposit asset side of the vault.
type VaultAsset struct {
	Mint            solana.PublicKey
	IdleAta         solana.PublicKey
	TotalValue      uint64
	IdleAtaAuthBump uint8
}

// VaultLp describes the LP share mint.
type VaultLp struct {
	Mint         solana.PublicKey
	MintBump     uint8
	MintAuthBump uint8
}

type VaultConfiguration struct {
	MaxCap                          uint64
	StartAtTs                       uint64
	LockedProfitDegradationDuration uint64
	WithdrawalWaitingPeriod         uint64
	DisabledOperations              uint16
}

// FeeConfiguration holds the per-party fee rates in basis points.
type FeeConfiguration struct {
	ManagerPerformanceFee  uint16
	AdminPerformanceFee    uint16
	ManagerManagementFee   uint16
	AdminManagementFee     uint16
	RedemptionFee          uint16
	IssuanceFee            uint16
	ProtocolPerformanceFee uint16
	ProtocolManagementFee  uint16
}

type FeeUpdate struct {
	LastPerformanceFeeUpdateTs uint64
	LastManagementFeeUpdateTs  uint64
}

// FeeState holds fee shares already accrued but not yet claimed. They are
// not part of the LP mint's supply, so valuation adds them back explicitly.
type FeeState struct {
	AccumulatedLpManagerFees  uint64
	AccumulatedLpAdminFees    uint64
	AccumulatedLpProtocolFees uint64
}

// HighWaterMark tracks the highest observed asset-per-LP ratio in Q64.64
// bits. Decoded for completeness; the quoting path does not consume it.
type HighWaterMark struct {
	HighestAssetPerLpBitsLo uint64
	HighestAssetPerLpBitsHi uint64
	LastUpdatedTs           uint64
}

type LockedProfitState struct {
	LastUpdatedLockedProfit uint64
	LastReport              uint64
}

// Decode parses a raw vault account. The buffer must be at least recordSize
// bytes; anything shorter is TruncatedData.
func Decode(data []byte) (*Vault, error) {
	const op = "vault.Decode"

	if len(data) < recordSize {
		return nil, errs.Truncated(op, recordSize, len(data))
	}
	d := data[discriminatorSize:]

	v := &Vault{}

	v.Asset = VaultAsset{
		Mint:            solana.PublicKeyFromBytes(d[96:128]),
		IdleAta:         solana.PublicKeyFromBytes(d[128:160]),
		TotalValue:      binary.LittleEndian.Uint64(d[160:168]),
		IdleAtaAuthBump: d[168],
	}

	v.Lp = VaultLp{
		Mint:         solana.PublicKeyFromBytes(d[264:296]),
		MintBump:     d[296],
		MintAuthBump: d[297],
	}

	v.Configuration = VaultConfiguration{
		MaxCap:                          binary.LittleEndian.Uint64(d[424:432]),
		StartAtTs:                       binary.LittleEndian.Uint64(d[432:440]),
		LockedProfitDegradationDuration: binary.LittleEndian.Uint64(d[440:448]),
		WithdrawalWaitingPeriod:         binary.LittleEndian.Uint64(d[448:456]),
		DisabledOperations:              binary.LittleEndian.Uint16(d[456:458]),
	}

	v.FeeConfiguration = FeeConfiguration{
		ManagerPerformanceFee:  binary.LittleEndian.Uint16(d[504:506]),
		AdminPerformanceFee:    binary.LittleEndian.Uint16(d[506:508]),
		ManagerManagementFee:   binary.LittleEndian.Uint16(d[508:510]),
		AdminManagementFee:     binary.LittleEndian.Uint16(d[510:512]),
		RedemptionFee:          binary.LittleEndian.Uint16(d[512:514]),
		IssuanceFee:            binary.LittleEndian.Uint16(d[514:516]),
		ProtocolPerformanceFee: binary.LittleEndian.Uint16(d[516:518]),
		ProtocolManagementFee:  binary.LittleEndian.Uint16(d[518:520]),
	}

	v.FeeUpdate = FeeUpdate{
		LastPerformanceFeeUpdateTs: binary.LittleEndian.Uint64(d[552:560]),
		LastManagementFeeUpdateTs:  binary.LittleEndian.Uint64(d[560:568]),
	}

	v.FeeState = FeeState{
		AccumulatedLpManagerFees:  binary.LittleEndian.Uint64(d[568:576]),
		AccumulatedLpAdminFees:    binary.LittleEndian.Uint64(d[576:584]),
		AccumulatedLpProtocolFees: binary.LittleEndian.Uint64(d[584:592]),
	}

	v.DeadWeight = binary.LittleEndian.Uint64(d[608:616])

	v.HighWaterMark = HighWaterMark{
		HighestAssetPerLpBitsLo: binary.LittleEndian.Uint64(d[616:624]),
		HighestAssetPerLpBitsHi: binary.LittleEndian.Uint64(d[624:632]),
		LastUpdatedTs:           binary.LittleEndian.Uint64(d[632:640]),
	}

	v.LastUpdatedTs = binary.LittleEndian.Uint64(d[648:656])

	v.LockedProfitState = LockedProfitState{
		LastUpdatedLockedProfit: binary.LittleEndian.Uint64(d[664:672]),
		LastReport:              binary.LittleEndian.Uint64(d[672:680]),
	}

	return v, nil
}

func addU64(op string, vals ...uint64) (uint64, error) {
	var sum uint64
	for _, v := range vals {
		var carry uint64
		sum, carry = bits.Add64(sum, v, 0)
		if carry != 0 {
			return 0, errs.Overflow(op)
		}
	}
	return sum, nil
}

func addBps(op string, vals ...uint16) (uint16, error) {
	var sum uint32
	for _, v := range vals {
		sum += uint32(v)
	}
	if sum > 1<<16-1 {
		return 0, errs.Overflow(op)
	}
	return uint16(sum), nil
}

// TotalAssetValue is the vault's asset-side valuation as reported on chain.
func (v *Vault) TotalAssetValue() uint64 {
	return v.Asset.TotalValue
}

// TotalAccumulatedLpFees sums the manager, admin and protocol fee shares
// accrued but not yet claimed.
func (v *Vault) TotalAccumulatedLpFees() (uint64, error) {
	return addU64("vault.TotalAccumulatedLpFees",
		v.FeeState.AccumulatedLpAdminFees,
		v.FeeState.AccumulatedLpManagerFees,
		v.FeeState.AccumulatedLpProtocolFees,
	)
}

// TotalLpSupplyInclFees is the effective share supply for valuation: the LP
// mint's circulating supply plus accrued fee shares plus the dead weight.
func (v *Vault) TotalLpSupplyInclFees(lpSupplyExclFees uint64) (uint64, error) {
	fees, err := v.TotalAccumulatedLpFees()
	if err != nil {
		return 0, err
	}
	return addU64("vault.TotalLpSupplyInclFees", fees, lpSupplyExclFees, v.DeadWeight)
}

// TotalManagementFeeBps is the combined manager + admin + protocol
// management fee rate.
func (v *Vault) TotalManagementFeeBps() (uint16, error) {
	return addBps("vault.TotalManagementFeeBps",
		v.FeeConfiguration.AdminManagementFee,
		v.FeeConfiguration.ManagerManagementFee,
		v.FeeConfiguration.ProtocolManagementFee,
	)
}

// TotalPerformanceFeeBps is the combined manager + admin + protocol
// performance fee rate.
func (v *Vault) TotalPerformanceFeeBps() (uint16, error) {
	return addBps("vault.TotalPerformanceFeeBps",
		v.FeeConfiguration.AdminPerformanceFee,
		v.FeeConfiguration.ManagerPerformanceFee,
		v.FeeConfiguration.ProtocolPerformanceFee,
	)
}

// UnlockedAssetValue is the total asset value minus the still-locked share
// of recently reported profit at nowTs.
func (v *Vault) UnlockedAssetValue(nowTs uint64) (uint64, error) {
	const op = "vault.UnlockedAssetValue"

	locked, err := v.LockedProfitState.LockedProfit(
		v.Configuration.LockedProfitDegradationDuration, nowTs)
	if err != nil {
		return 0, err
	}
	if locked > v.Asset.TotalValue {
		return 0, errs.Overflow(op)
	}
	return v.Asset.TotalValue - locked, nil
}

// LockedProfit returns the portion of the last reported profit still locked
// at nowTs. Profit unlocks linearly over the degradation window; past the
// window, or with no window configured, nothing is locked.
func (s *LockedProfitState) LockedProfit(degradationDuration, nowTs uint64) (uint64, error) {
	elapsed := uint64(0)
	if nowTs > s.LastReport {
		elapsed = nowTs - s.LastReport
	}
	if elapsed > degradationDuration || degradationDuration == 0 {
		return 0, nil
	}
	return vmath.MulDiv(s.LastUpdatedLockedProfit, degradationDuration-elapsed, degradationDuration)
}
