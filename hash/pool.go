package hash

import (
	"hash"
	"sync"

	"github.com/minio/sha256-simd"
)

// pool amortizes allocations of sha256 hashers by allowing clients to
// reuse them.
var pool = &sync.Pool{
	New: func() any {
		return sha256.New()
	},
}

// GetHasher will get a sha256 hasher from the pool.
// It may or may not allocate a new one. Consumers are expected
// to call Reset() on the hasher before putting it back in
// the pool.
func GetHasher() hash.Hash {
	return pool.Get().(hash.Hash)
}

// PutHasher returns the hasher back to the pool.
func PutHasher(hasher hash.Hash) {
	pool.Put(hasher)
}
