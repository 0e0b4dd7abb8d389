// Package part implements the partitioned page cache.
//
// The worker goroutines of a process are split into thread groups. Every
// group owns one cache (see package cache) and every block of the backing
// device is owned by exactly one group, chosen by hashing the block number.
// Workers never touch another group's cache: a request for a remote block
// is sent to the owning group through bounded queues, served there by one of
// the group members and answered with a reply that travels back to the
// issuing worker. All coordination happens through these queues; the only
// lock is the one guarding the group table and the init barrier.
//
// Key Components:
//
//   - Fabric: the shared context of one partitioned cache. It holds the
//     configuration, the thread groups, the init barrier and the metrics.
//     NewFabric creates it, Close tears it down.
//
//   - Coordinator: the blkio.Capability of one worker. Its lifecycle is
//     NewCoordinator -> Init -> AccessAsync/Access/Wait4Complete -> Cleanup.
//     Init blocks until every thread of the fabric called Init; Cleanup
//     blocks until every thread called Cleanup and nothing is in flight.
//
//   - Routing: Fabric.Route maps a request to the group owning its block.
//     Requests must not cross a block boundary.
//
// Example:
//
//	fabric, _ := part.NewFabric(cfg)
//	defer fabric.Close()
//
//	for t := 0; t < cfg.NumThreads; t++ {
//		c, _ := fabric.NewCoordinator(t)
//		go func() {
//			_ = c.Init()
//			c.SetCallback(cb)
//			c.AccessAsync(reqs, nil)
//			c.Wait4Complete(0)
//			_ = c.Cleanup()
//		}()
//	}
//
// Delivery under saturated queues follows Config.Delivery: DeliveryDrop
// discards and counts the message, DeliveryRetry keeps trying while serving
// the own queues.
package part
