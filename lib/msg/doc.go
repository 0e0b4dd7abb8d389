// Package msg provides the message plumbing between worker goroutines.
//
// Workers never share locks on each other's state. Instead every worker owns
// bounded inbound queues and pushes work to other workers through its own
// senders:
//
//   - Queue: a fixed capacity ring buffer with bulk Add and Fetch. Many
//     producers may Add concurrently, exactly one consumer Fetches. Add never
//     blocks, it returns how many items were accepted.
//   - BlockingQueue: a Queue whose consumer can wait for items (and whose
//     producers can wait for space) on a condition variable instead of polling.
//   - Sender: a per producer buffer in front of one or more destination
//     queues. Items are batched locally and pushed with a single Add, which
//     amortizes the queue lock. A Sender is owned by one goroutine.
//   - LockFreeMPSC: an unbounded lock-free stream used for completions that
//     must never be rejected.
//
// Ordering: items of one producer arrive in the order they were added. There
// is no ordering between different producers feeding the same queue.
package msg
