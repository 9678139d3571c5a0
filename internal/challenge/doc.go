// Package challenge resolves upstream step-up verification.
//
// A Resolver drives one resolution through the states
//
//	Start -> WarmUp -> AwaitingCode -> Submit -> Resolved | Failed
//
// WarmUp fetches the challenge reference, extracts the short-lived
// negotiation tokens and, for email channels, triggers code delivery.
// AwaitingCode asks a CodeProvider for the code: either a caller callback
// (CodeFunc) or an InboxPoller that watches a mailbox for a message that
// arrived after resolution began. Submit sends the code through the
// negotiation path the warm-up revealed, falling back to the other path.
//
// At most one resolution runs per session. Depending on Mode a second
// caller waits for the running one and shares its result, or fails fast
// with ErrResolutionInProgress. Either way no second code delivery is
// triggered.
package challenge
