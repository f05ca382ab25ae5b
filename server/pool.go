package server

import "github.com/codetesla51/raw-http/internal/bufpool"

// NewPool builds the chunk pool shared by every connection of a server:
// cursors read into its chunks and serializers write through them.
func NewPool(cfg *Config) *bufpool.Pool {
	return bufpool.New(cfg.ChunkSize, cfg.PoolCapacity)
}
