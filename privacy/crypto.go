package privacy

import (
	"crypto/aes"
	"crypto/rand"

	"github.com/aead/cmac"
	"github.com/pkg/errors"

	"github.com/bthost/acl"
	"github.com/bthost/acl/sliceops"
)

func aesCMAC(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, err
	}

	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}
	mMac.Write(sliceops.SwapBuf(msg))

	return sliceops.SwapBuf(mMac.Sum(nil)), nil
}

func aes128(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	mCipher.Encrypt(out, sliceops.SwapBuf(msg))
	return sliceops.SwapBuf(out), nil
}

// ah is the random address hash function [Vol 3, Part H, 2.2.2]: the three
// low octets of e(irk, prand) with prand zero-padded to 16 bytes. Octets are
// LSB first, matching the on-air address layout.
func ah(irk []byte, prand [3]byte) ([3]byte, error) {
	var out [3]byte
	if len(irk) != 16 {
		return out, errors.New("irk must be 16 bytes")
	}
	msg := make([]byte, 16)
	// prand arrives in display order, most significant octet first; the
	// cipher input wants it LSB first.
	msg[0] = prand[2]
	msg[1] = prand[1]
	msg[2] = prand[0]
	enc, err := aes128(irk, msg)
	if err != nil {
		return out, err
	}
	copy(out[:], enc[0:3])
	return out, nil
}

// h6 is the key conversion function AES-CMAC_w(keyID) [Vol 3, Part H, 2.2.10].
func h6(w []byte, keyID [4]byte) ([]byte, error) {
	if len(w) != 16 {
		return nil, errors.New("w must be 16 bytes")
	}
	return aesCMAC(w, keyID[:])
}

// h7 is AES-CMAC_salt(w) [Vol 3, Part H, 2.2.11].
func h7(salt, w []byte) ([]byte, error) {
	if len(salt) != 16 || len(w) != 16 {
		return nil, errors.New("salt and w must be 16 bytes")
	}
	return aesCMAC(salt, w)
}

// irkSalt and irkKeyID are our domain-separation inputs for deriving the
// local IRK from the stored identity root via h7 then h6.
var irkSalt = []byte{0x6c, 0x88, 0x83, 0x91, 0xaa, 0xf5, 0xa5, 0x38,
	0x60, 0x37, 0x0b, 0xdb, 0x5a, 0x60, 0x83, 0xbe}
var irkKeyID = [4]byte{'l', 'i', 'r', 'k'}

// deriveIRK computes the local identity resolving key from an identity root.
func deriveIRK(identityRoot []byte) ([]byte, error) {
	t, err := h7(irkSalt, identityRoot)
	if err != nil {
		return nil, errors.Wrap(err, "h7")
	}
	irk, err := h6(t, irkKeyID)
	if err != nil {
		return nil, errors.Wrap(err, "h6")
	}
	return irk, nil
}

// generateResolvable builds a fresh resolvable private address from the IRK:
// 22 random prand bits tagged resolvable (0b01 in the top bits), hash over
// the low half [Vol 6, Part B, 1.3.2.2]. MAC is returned in display order,
// prand first.
func generateResolvable(irk []byte) (acl.Addr, error) {
	var prand [3]byte
	if _, err := rand.Read(prand[:]); err != nil {
		return acl.Addr{}, err
	}
	prand[0] = prand[0]&0x3f | 0x40

	hash, err := ah(irk, prand)
	if err != nil {
		return acl.Addr{}, err
	}

	a := acl.Addr{Type: acl.AddrTypeRandom}
	copy(a.MAC[0:3], prand[:])
	// hash occupies the low address octets; flip to display order.
	a.MAC[3] = hash[2]
	a.MAC[4] = hash[1]
	a.MAC[5] = hash[0]
	return a, nil
}

// resolvesWith reports whether addr was generated from irk.
func resolvesWith(irk []byte, addr acl.Addr) bool {
	var prand [3]byte
	copy(prand[:], addr.MAC[0:3])
	if prand[0]&0xc0 != 0x40 {
		return false
	}
	hash, err := ah(irk, prand)
	if err != nil {
		return false
	}
	return addr.MAC[3] == hash[2] && addr.MAC[4] == hash[1] && addr.MAC[5] == hash[0]
}

// generateNonResolvable builds a random non-resolvable private address
// (top two bits 0b00).
func generateNonResolvable() (acl.Addr, error) {
	a := acl.Addr{Type: acl.AddrTypeRandom}
	if _, err := rand.Read(a.MAC[:]); err != nil {
		return acl.Addr{}, err
	}
	a.MAC[0] &= 0x3f
	return a, nil
}
