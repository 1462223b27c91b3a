package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	sha256 "github.com/minio/sha256-simd"

	"github.com/CADMonkey21/dlt-miner-go/netparams"
)

const (
	rawAddressLen      = 40
	addressChecksumLen = 4
)

var ErrInvalidAddress = errors.New("invalid address")

// ChecksumAddress returns the prefixed, checksummed form of a raw hex address.
func ChecksumAddress(rawHex string, params *netparams.Network) string {
	sum := sha256.Sum256([]byte(params.AddressPrefix + rawHex))
	return params.AddressPrefix + rawHex + hex.EncodeToString(sum[:])[:addressChecksumLen]
}

// ValidateAddress accepts either a raw 40-char hex address or its
// checksummed form.
func ValidateAddress(addr string, params *netparams.Network) error {
	if strings.HasPrefix(addr, params.AddressPrefix) {
		body := strings.TrimPrefix(addr, params.AddressPrefix)
		if len(body) != rawAddressLen+addressChecksumLen {
			return fmt.Errorf("%w: %q has wrong length", ErrInvalidAddress, addr)
		}
		raw := body[:rawAddressLen]
		if !isLowerHex(raw) {
			return fmt.Errorf("%w: %q is not hex", ErrInvalidAddress, addr)
		}
		if ChecksumAddress(raw, params) != addr {
			return fmt.Errorf("%w: %q has a bad checksum", ErrInvalidAddress, addr)
		}
		return nil
	}
	if len(addr) != rawAddressLen || !isLowerHex(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
