// Package engine implements the reconciliation core of cloudverge.
//
// # Overview
//
// cloudverge converges AWS security groups and EC2 instances toward a
// declarative desired state. The engine operates in four phases:
//
//  1. Resolve - Translate symbolic rule targets (group names, foreign
//     references) into concrete identifiers (Resolver)
//  2. Diff - Compare desired rules, tags, and attributes with the remote
//     state read through the EC2 API (rules.Compute, DiffTags)
//  3. Apply - Issue the minimal set of authorize/revoke/update calls
//     (GroupReconciler, InstanceReconciler)
//  4. Verify - Poll until the remote state reflects the submitted rules
//     (RuleWaiter)
//
// # API Boundary
//
// All AWS traffic flows through the EC2API and IAMAPI interfaces, which the
// aws-sdk-go-v2 clients satisfy directly. Tests substitute in-memory fakes;
// the retry and classification layer in pkg/providers/ec2api wraps the real
// clients.
//
// # Check Mode
//
// Every reconciler honors check mode: the full resolve and diff phases run,
// planned actions are recorded on the result, and no mutating call is made.
// Resolution is pure; creating referenced-but-missing groups is an explicit
// apply-phase action so check mode can report it without side effects.
//
// # Error Classification
//
// Errors are classified for retry logic:
//
//   - Transient: temporary failures that may succeed on retry
//   - Throttled: rate limiting that requires backoff
//   - Conflict: concurrent-modification races
//   - Permanent: non-recoverable errors
//
// Use the helper functions to inspect errors:
//
//	if engine.IsRetryable(err) {
//	    // Retry the operation
//	}
package engine
