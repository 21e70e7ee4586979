// Package concourse is an event sourcing core built around causal ordering.
//
// Events are stamped with a StreamTimestamp and may be written in any order;
// every store returns a stream ascending by timestamp. The main pieces are:
//   - a Clock handing out monotonic StreamTimestamps
//   - an EventStore (store/memory, store/redis, store/sqlite, store/postgresql)
//   - an EventBus (bus) that builds batches against an EventFactory and
//     forwards them to processors, usually the store
//   - an EventSource (source) that preloads streams and replays them
//   - a fold engine (transition) that rebuilds typed state from a replay
//
// A typical round trip:
//
//	lightbulbs := concourse.NewEventFactory("lightbulb")
//	concourse.Declare[Created](lightbulbs, concourse.Initial())
//	concourse.Declare[SwitchedOn](lightbulbs)
//
//	events := memory.Empty()
//	b := bus.New(bus.ForwardingTo(events))
//	err := b.Dispatch(ctx, lightbulbs, func(batch *bus.Batch) {
//		batch.Write(start, id, Created{Wattage: 40}).
//			Write(start.Plus(time.Millisecond), id, SwitchedOn{})
//	})
//
//	cached, err := source.New(events).Preload(ctx, "lightbulb", id)
//	state, ok, err := source.BuildState(cached.Replaying(id), transitions)
package concourse
