// Package blkio defines the block I/O contract every backend of the cache
// fabric implements, and the message types that travel between workers.
//
// Key Components:
//
//   - Capability: the I/O interface. It has a synchronous Access, an
//     asynchronous AccessAsync whose results are delivered later through a
//     Callback, and the FlushRequests/Wait4Complete pair that bounds how long
//     requests may sit in a backend. Backends embed Base, which answers every
//     operation they do not implement with ErrUnsupported or StatusUnsupported
//     instead of failing hard.
//
//   - Registry: every Capability gets a sequential id from NewBase and is
//     stored in a process-wide table. Requests that cross goroutines carry only
//     this id (Request.CapID); the receiving worker resolves it with Lookup to
//     find out whom to reply to.
//
//   - Request: offset, size, access method and one or more buffer segments.
//     The segment list keeps a few entries inline and moves to the heap
//     beyond that, doubling its capacity on every further growth.
//
//   - Reply: the completion of exactly one Request. Errors never cross a
//     goroutine boundary any other way than through Reply.Err.
//
// Contract violations (negative offsets, an oversized single segment request,
// node ids out of range) panic. They indicate a caller bug, not an I/O error.
package blkio
