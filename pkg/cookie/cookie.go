package cookie

import (
	"fmt"
	"strconv"
)

// Cookie layout: the top byte tags the owning subsystem, the low 56 bits
// carry the circuit id.
const (
	IDBits = 56
	IDMask = uint64(0x00FFFFFFFFFFFFFF)
	// FullMask matches a cookie exactly when deleting by cookie.
	FullMask = ^uint64(0)

	idLen = IDBits / 4
)

type Prefix uint8

const (
	PrefixMEF Prefix = 0xAA
	PrefixINT Prefix = 0xA8
)

func (p Prefix) String() string {
	return fmt.Sprintf("0x%02x", uint8(p))
}

// ValidID reports whether id can be carried in the low 56 bits of a cookie.
func ValidID(id string) bool {
	if len(id) != idLen {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func New(id string, prefix Prefix) (uint64, error) {
	if !ValidID(id) {
		return 0, fmt.Errorf("invalid circuit id: %q", id)
	}
	v, err := strconv.ParseUint(id, 16, 64)
	if err != nil {
		return 0, err
	}
	return uint64(prefix)<<IDBits | v&IDMask, nil
}

// MustNew is New for ids already validated at construction time.
func MustNew(id string, prefix Prefix) uint64 {
	c, err := New(id, prefix)
	if err != nil {
		panic(err)
	}
	return c
}

func ID(c uint64) string {
	return fmt.Sprintf("%0*x", idLen, c&IDMask)
}

func PrefixOf(c uint64) Prefix {
	return Prefix(c >> IDBits)
}

func Retag(c uint64, prefix Prefix) uint64 {
	return uint64(prefix)<<IDBits | c&IDMask
}

type Range struct {
	Start uint64
	End   uint64
}

// PrefixRange covers every cookie owned by prefix.
func PrefixRange(prefix Prefix) Range {
	return Range{
		Start: uint64(prefix) << IDBits,
		End:   uint64(prefix)<<IDBits | IDMask,
	}
}

// Single is the degenerate range matching only c.
func Single(c uint64) Range {
	return Range{Start: c, End: c}
}

func (r Range) Contains(c uint64) bool {
	return c >= r.Start && c <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("0x%016x-0x%016x", r.Start, r.End)
}
