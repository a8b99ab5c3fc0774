// Package buzz owns the lifecycle of buzz items: actionable audience chat
// messages queued for an AI-drafted response and moderator review.
//
// It provides three entrypoints:
//   - StartIngestJob: polls every active stream session for new chat messages,
//     filters noise, classifies intent in one batched call, and enqueues
//     qualifying messages as FOUND items. The same pass then runs the
//     response generator so items flow FOUND → PROCESSING → ACTIVE without a
//     second scheduler.
//   - Queue: the moderator-facing operations (Current, Next, StoreReply)
//     consumed by the orchestrating agent.
//   - RespondOnce: claims FOUND items as a batch (the claim doubles as the
//     cross-process lock) and drafts responses per item, reverting failed
//     items to FOUND for a later pass.
//
// Every status transition is a conditional update matching the current
// status, so overlapping ticks and concurrent moderator calls degrade to
// zero-row no-ops instead of racing.
package buzz
