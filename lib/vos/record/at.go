package record

import "github.com/BiyanKilani/daos/lib/umem"

// KeyRecAt returns the key-record stored at id, or nil if id is not live.
func KeyRecAt(mem *umem.Arena, id umem.MemID) KeyRec {
	return KeyRec(mem.Deref(id))
}

// IndexRecAt returns the index-record stored at id, or nil if id is not live.
func IndexRecAt(mem *umem.Arena, id umem.MemID) IndexRec {
	return IndexRec(mem.Deref(id))
}
