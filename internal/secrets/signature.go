package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureMismatch is returned when a personal_sign signature does not
// recover to the expected address.
var ErrSignatureMismatch = errors.New("signature does not match address")

// RecoverAddress returns the address that produced a personal_sign
// signature over message. Both 27/28 and 0/1 recovery ids are accepted.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w",
			err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d",
			len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("unable to recover key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that signature over message was made by address.
func VerifySignature(address, message, signature string) error {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	if !strings.EqualFold(recovered.Hex(), address) {
		return fmt.Errorf("%w: recovered %v, expected %v",
			ErrSignatureMismatch, recovered.Hex(), address)
	}

	return nil
}
