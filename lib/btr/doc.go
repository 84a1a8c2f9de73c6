// Package btr is a small ordered-tree engine used by the versioned object
// store.
//
// A tree is identified by its 16 byte Root, which is what gets embedded into
// records of the parent tree. The root's node handle is a real arena
// allocation, the ordered index itself is a google/btree kept in the Forest
// of the arena. Every tree belongs to a registered class which fixes the key
// order; the record layout is provided by the caller through Ops.
//
// Keys are hashed into an "hkey" by Ops.HKey. Records are ordered by the
// class comparator over hkeys and point to the leaf payload in the arena.
package btr

import "github.com/lni/dragonboat/v4/logger"

var plog = logger.GetLogger("btr")
