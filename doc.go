// Package taskpool provides a resource pool and task routing core: it scores
// candidate executors for incoming tasks, reserves resource budgets against a
// bounded shared pool and places tasks on executor nodes.
//
// The engine is built from pluggable service layers:
//
//   - pool      – priority-tiered resource leasing with health tracking
//   - breaker   – circuit breaking around pool allocation
//   - cache     – fingerprint-keyed allocation result cache
//   - router    – executor scoring, route caching and weight adaptation
//   - allocator – budget reservation against a shared semaphore pool
//   - balancer  – node placement, rebalancing and spike mitigation
//
// Taskpool is designed to be embedded in host applications. End-users
// typically interact with the engine via the high-level Service façade
// exposed by the root package:
//
//	srv, _ := taskpool.New()
//	rt := srv.Runtime()
//	_ = rt.Start(ctx)
//	placement, _ := srv.Dispatch(ctx, task, candidates, nodes)
//	_ = srv.Complete(ctx, placement, true, latency)
//	rt.Shutdown()
//
// For more details see the individual sub-packages.
package taskpool
