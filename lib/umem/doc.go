// Package umem provides the memory arena that backs the versioned object
// store.
//
// The arena hands out opaque MemID handles instead of pointers. A handle is
// turned into a byte view with Arena.Deref; the view is only valid until the
// allocation is freed. All structural changes go through a Tx, which
// serialises writers of one arena, defers frees until commit and can undo
// both arena contents (AddRange) and DRAM side effects (OnAbort) when it is
// aborted.
//
// Example usage:
//
//	mem := umem.NewArena(nil)
//
//	err := mem.Update(func(tx *umem.Tx) error {
//	    id, err := tx.Alloc(64)
//	    if err != nil {
//	        return err
//	    }
//	    copy(mem.Deref(id), payload)
//	    return nil
//	})
package umem

import "github.com/lni/dragonboat/v4/logger"

var plog = logger.GetLogger("umem")
