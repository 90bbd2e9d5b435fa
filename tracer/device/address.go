package device

import (
	"encoding/binary"
	"fmt"
)

// SizeofAddress is the encoded width of an Address inside device records.
const SizeofAddress = 8

// Address is an opaque device virtual address. Addresses are obtained from
// a resource (Buffer.Address, Buffer.AddressAt) and can only be embedded
// into device records; no arithmetic is exposed.
type Address struct {
	va uint64
}

// The zero address references no resource.
var NullAddress = Address{}

// Check whether this is the null address.
func (a Address) IsNull() bool {
	return a.va == 0
}

// Implements Stringer.
func (a Address) String() string {
	return fmt.Sprintf("0x%012x", a.va)
}

// Write an address into a device record.
func PutAddress(b []byte, a Address) {
	binary.LittleEndian.PutUint64(b, a.va)
}

// Read an address from a device record.
func ReadAddress(b []byte) Address {
	return Address{va: binary.LittleEndian.Uint64(b)}
}

// Round v up to the next multiple of alignment (a power of two).
func Align(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}
