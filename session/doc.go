// Package session implements the concurrency-guarded shared execution
// context of a run: the conversation prompt, the visible tool list and the
// active model reference. Access happens through two session kinds obtained
// from the owning Context:
//
//   - WriteSession: exclusive; works on a private snapshot and republishes
//     its final prompt/tools/model back into the shared state on every exit
//     path.
//   - ReadSession: shared; any number may overlap, excluded only by an
//     active write session.
//
// The lock is built on a weighted semaphore so acquisition suspends
// cooperatively and unwinds cleanly when the caller's context is cancelled:
// a cancelled waiter never leaves the lock held. Both session kinds expose
// the same prompt-execution operations, forwarding to the externally
// supplied model.Executor; every operation first checks the session is still
// active and fails with ErrClosed after the surrounding block has returned.
package session
