package store

import "sync"

// paddedMutex is a mutex padded out to a 64 byte cache line so neighboring
// shard locks do not false-share.
type paddedMutex struct {
	sync.Mutex
	_ [56]byte
}
