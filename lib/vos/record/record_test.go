package record

import (
	"testing"

	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeRound(t *testing.T) {
	for n := 0; n <= 1024; n++ {
		r := SizeRound(n)
		if r%SizeRoundUnit != 0 || r < n || r-n >= SizeRoundUnit {
			t.Fatalf("SizeRound(%d) = %d", n, r)
		}
	}
}

func TestIndexRecSize(t *testing.T) {
	// 16 byte units x 4 with a 5 byte checksum: header + 8 + 64
	assert.Equal(t, IndexHeaderSize+8+64, IndexRecSize(5, 16, 4))
	assert.Equal(t, IndexHeaderSize, IndexRecSize(0, 0, 0))
	assert.Equal(t, KeyHeaderSize+16+3, KeyRecSize(9, 3))
}

func TestPayloadSize(t *testing.T) {
	n, ok := PayloadSize(4, 16)
	assert.True(t, ok)
	assert.Equal(t, 64, n)

	n, ok = PayloadSize(0, 1<<40)
	assert.True(t, ok)
	assert.Zero(t, n)

	_, ok = PayloadSize(1<<32, 1<<32)
	assert.False(t, ok, "product wraps")
	_, ok = PayloadSize(1, MaxPayloadSize+1)
	assert.False(t, ok)
	_, ok = PayloadSize(1, MaxPayloadSize)
	assert.True(t, ok)
}

func TestKeyRecRoundTrip(t *testing.T) {
	root := make([]byte, RootSize)
	for i := range root {
		root[i] = byte(i + 1)
	}

	for _, csum := range [][]byte{nil, {0xaa}, {1, 2, 3, 4, 5, 6, 7, 8}, {1, 2, 3, 4, 5, 6, 7, 8, 9}} {
		key := []byte("dkey-001")
		buf := make([]byte, KeyRecSize(len(csum), len(key)))
		rec := EncodeKeyRec(buf, 3, csum, key, root)

		require.NoError(t, rec.Validate())
		assert.Equal(t, len(csum), rec.CsumSize())
		assert.EqualValues(t, 3, rec.CsumType())
		assert.Equal(t, key, rec.Key())
		assert.Equal(t, root, rec.Root())
		if len(csum) == 0 {
			assert.Nil(t, rec.Csum())
		} else {
			assert.Equal(t, csum, rec.Csum())
		}
	}
}

func TestKeyRecSetRoot(t *testing.T) {
	buf := make([]byte, KeyRecSize(0, 1))
	rec := EncodeKeyRec(buf, 0, nil, []byte("k"), make([]byte, RootSize))

	root := []byte("0123456789abcdef")
	rec.SetRoot(root)
	assert.Equal(t, root, KeyRec(buf).Root())
	assert.Equal(t, "k", string(rec.Key()))
}

func TestIndexRecRoundTrip(t *testing.T) {
	csum := []byte{9, 8, 7, 6, 5}
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}

	buf := make([]byte, IndexRecSize(len(csum), 16, 4))
	rec := EncodeIndexRec(buf, 1, csum, 16, 4, data)

	require.NoError(t, rec.Validate())
	assert.Equal(t, csum, rec.Csum())
	assert.Equal(t, data, rec.Data())
	assert.EqualValues(t, 16, rec.RSize())
	assert.EqualValues(t, 4, rec.Nr())
	assert.Zero(t, (IndexHeaderSize+SizeRound(rec.CsumSize()))%SizeRoundUnit, "payload is aligned")
}

func TestIndexRecValidate(t *testing.T) {
	buf := make([]byte, IndexRecSize(0, 8, 2))
	rec := EncodeIndexRec(buf, 0, nil, 8, 2, make([]byte, 16))
	require.NoError(t, rec.Validate())

	assert.ErrorIs(t, IndexRec(buf[:len(buf)-1]).Validate(), ErrRecordSizeMismatch)
	assert.ErrorIs(t, IndexRec(buf[:10]).Validate(), ErrRecordSizeMismatch)

	// header claims 3 units
	bad := make([]byte, len(buf))
	EncodeIndexRec(bad, 0, nil, 8, 3, make([]byte, 16))
	assert.ErrorIs(t, IndexRec(bad).Validate(), ErrRecordSizeMismatch)

	// punched extent
	punch := make([]byte, IndexRecSize(0, 0, 1))
	require.NoError(t, EncodeIndexRec(punch, 0, nil, 0, 1, nil).Validate())
	withData := make([]byte, IndexHeaderSize+8)
	assert.ErrorIs(t, EncodeIndexRec(withData, 0, nil, 0, 1, nil).Validate(), ErrRecordSizeMismatch)

	assert.ErrorIs(t, KeyRec(make([]byte, 4)).Validate(), ErrRecordSizeMismatch)
}

func TestRecAt(t *testing.T) {
	mem := umem.NewArena(nil)
	id, err := mem.Alloc(IndexRecSize(5, 16, 4))
	require.NoError(t, err)
	EncodeIndexRec(mem.Deref(id), 2, []byte("abcde"), 16, 4, make([]byte, 64))

	rec := IndexRecAt(mem, id)
	require.NoError(t, rec.Validate())
	assert.Equal(t, "abcde", string(rec.Csum()))
	assert.Len(t, rec.Data(), 64)

	assert.Nil(t, KeyRecAt(mem, umem.NilMemID))
}
