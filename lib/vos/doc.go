// Package vos implements the DRAM control layer of a versioned object store.
//
// Data is organised as pool -> container -> object -> distribution key ->
// value extent versions. Every object owns a two level tree: the key tree
// holds one key-record per distribution key, and each key-record embeds the
// root of an index tree whose records are the versions of the key's value
// extents, ordered by (index, epoch).
//
// Open objects are represented by ObjectRef handles handed out by the
// ObjCache. The cache deduplicates opens and bounds how many objects are open
// at once; a reference that is not held may be evicted on the next miss.
//
// Reading and writing goes through ObjUpdate, ObjFetch and ObjPunch. The
// four entity levels can be walked with Iterator, which follows a
// probe/next/fetch protocol with resumable anchors.
//
// Example usage:
//
//	pool, _ := vos.CreatePool(nil)
//	cache, _ := vos.NewObjCache(nil)
//
//	_ = pool.CreateContainer(coID)
//	co, _ := pool.OpenContainer(coID)
//	defer pool.CloseContainer(co)
//
//	oid := vos.UnitOID{ID: vos.ObjectID{Lo: 1}}
//	recx := vos.Recx{RSize: 1, Index: 0, Nr: 5}
//	_ = vos.ObjUpdate(cache, co, oid, 10, []byte("dkey"), recx, nil, []byte("hello"))
//
//	res, _ := vos.ObjFetch(cache, co, oid, vos.EpochRange{Lo: 0, Hi: 10}, []byte("dkey"), 0)
//
// Lock order: object reference, arena transaction, key tree, index tree.
// The cache lock is only ever followed by a transaction (reclamation,
// container destroy) or a shard lock. Object index shard locks are leaf
// locks.
package vos

import "github.com/lni/dragonboat/v4/logger"

var plog = logger.GetLogger("vos")
