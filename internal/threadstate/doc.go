// Package threadstate keeps what the inspector last observed on each thread.
//
// Context holds the context interval a thread is currently in: the table
// address, its pairs and when it was first and last seen.
//
// Manager provides command-query separation:
//
// Queries (read-only):
//   - Get(thread) - Current context
//   - GetError(thread) - Last read error
//   - GetIssues(thread) - Pending read warnings
//   - Threads() - Threads with a current context
//
// Commands (mutations):
//   - Set(thread, ctx) - Start or replace the current context
//   - Touch(thread, t) - Record that the current context was seen again
//   - SetError(thread, err) - Store a read error
//   - AddIssue(thread, issue) - Add a read warning
//   - TakeIssues(thread) - Remove and return pending warnings
//   - Delete(thread) - Forget a thread
//
// Thread-safe with RWMutex for concurrent access.
package threadstate
