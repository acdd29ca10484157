// Package conversation runs chat turns and records them.
//
// # Service
//
//	svc := conversation.New(store, proxy, logger)
//	conv, err := svc.Turn(ctx, uid, slotID, "hello")
//
// Turn is the server-side flow: ask the model, then append the user message and
// the reply as one pair. The order gives these guarantees:
//
//   - invalid input: nothing is called, store.ErrValidation
//   - model failure: nothing is written, the error wraps llm.ErrUpstream
//   - store failure after a reply: the reply is lost and logged, the error
//     wraps store.ErrUnavailable
//
// Nothing is retried. AppendTurn, ListSlots, GetConversation, CreateSlot and
// RenameSlot pass through to the store for clients that drive the model
// themselves.
//
// # Broadcasting
//
// With SetBroadcaster, every successful change publishes the slot's Summary to
// subscribers of its uid. The web UI streams these to open tabs so a reply
// recorded in one tab refreshes the sidebar in the others.
package conversation
