// Package classify is the single mapping authority from a raw upstream
// response to an Outcome.
//
// Every transport failure and every response the executor sees passes
// through Classifier.Classify, which returns exactly one of:
//
//   - Success with the decoded payload,
//   - NeedsVerification with the step-up context (challenge, checkpoint
//     or consent), or
//   - Failed with an *apierr.Error of one kind.
//
// Rules apply in a fixed priority order, so the same response always maps
// to the same kind. Rotated protocol tokens in the response headers are
// applied to the session whatever the outcome.
package classify
