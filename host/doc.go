// Package host exposes fiberstate the way a managed language would see it.
//
// States are objects on the managed heap, keys are symbols, and values are
// any managed reference. A Runtime owns the heaps; each Thread pairs a fiber
// scheduler with the synchronizer that publishes its current state.
//
//	rt := host.NewRuntime(state.NewHeap(arena.New()))
//	thr, _ := rt.NewThread(1)
//	ctx, _ := rt.Construct(host.KV{Key: rt.Sym("request_id"), Value: id})
//	thr.Apply(ctx)
package host
