// Package metrics holds the observation model, the per-session metric store and
// the aggregation engine that reduces raw observation logs into derived metrics.
//
// Observations arrive in batches from independent event sources. Each batch is
// folded into an append-only [RawLog] with [Reduce], and the derived metrics
// that depend on the touched category are recomputed from the full log:
//
//	store := metrics.NewStore()
//	store.Record(metrics.KindLayoutShift, []metrics.Observation{
//		metrics.LayoutShift{Value: 0.05, StartTime: 812},
//	})
//
//	snap := store.Snapshot()
//	fmt.Println(*snap.Metrics.CLS)
//
// # Aggregation
//
// Every derive function is pure and idempotent: [CumulativeLayoutShift],
// [TotalBlockingTime], [AverageFPS], [ResourceCounts], [ResourceSizes] and
// [ComputeDOMStats]. Recomputing twice with no new data yields the same value,
// so replayed batches can never drift an aggregate.
//
// # Finalization
//
// [Store.Finalize] recomputes every derived metric, including DOM statistics
// and the HDR-histogram backed duration summaries. It may be called any number
// of times.
//
// # Thread Safety
//
// The Store serializes all mutation with a mutex. Sources may deliver from any
// goroutine; within one category the append order is the delivery order.
package metrics
