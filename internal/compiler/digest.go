package compiler

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Digest is a fixed 256-bit content hash.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Key hashes root and the ordered (path, text) pairs. Lengths are written
// before every field so that different splits never collide.
func Key(root string, files []File) Digest {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(s))
	}
	write(root)
	for _, f := range files {
		write(f.Path)
		write(f.Text)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
