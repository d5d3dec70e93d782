// Package retry runs work under a lock with bounded retries.
//
// Two independent policies drive an Executor: the acquisition backoff, used
// while another owner holds the key, and the conflict backoff, used when the
// work itself reports an optimistic-concurrency conflict through
// lock.ErrConflict. Both count against the same attempt budget. Any other
// error returned by the work is handed back to the caller untouched.
package retry
