package program

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the deployed program identity. Derivations are scoped
// to it so campaign addresses from other deployments never validate here.
var DefaultProgramID = solana.MustPublicKeyFromBase58("9J3vvSh8r7TYxRUKKgskGMaexMj1BCVnmm2j8LBGVeS5")

var (
	campaignSeed   = []byte("PLOUTOS_ROOT")
	allocationSeed = []byte("PLOUTOS_USER_DATA")
)

// DeriveCampaignAddress computes the campaign record address for an admin.
// The derived address is off-curve, so it has no private key and doubles as
// the signing authority for the campaign's custodial token transfers.
func DeriveCampaignAddress(programID, admin solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{campaignSeed, admin.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive campaign address: %w", err)
	}
	return addr, bump, nil
}

// DeriveAllocationAddress computes the user allocation record address.
func DeriveAllocationAddress(programID, user solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{allocationSeed, user.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive allocation address: %w", err)
	}
	return addr, bump, nil
}

// verifyCampaignAddress recomputes the expected campaign address for admin
// and compares it by value against the caller-supplied one. This is the
// capability check every value-moving operation goes through: a forged or
// unrelated campaign/authority pair fails here before anything is read.
func verifyCampaignAddress(programID, admin, supplied solana.PublicKey) (uint8, error) {
	expected, bump, err := DeriveCampaignAddress(programID, admin)
	if err != nil {
		return 0, err
	}
	if !expected.Equals(supplied) {
		return 0, ErrPdaMismatch
	}
	return bump, nil
}
