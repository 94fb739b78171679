// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer hand-off layer for hioload-pipe.
// Buffer is a growable byte region with separate write and drain cursors; Pool is a
// fixed set of Buffers tracked as free, ready and busy lists under one mutex, so an
// I/O loop and a processing loop can pass buffers to each other without copying.
// See buffer.go and pool.go for implementation details.
package pool
