// Package eventprocessor detects context changes in sampled cells.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      eventstream samples                │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor                        │  ← Change detection
//	│   - Compares with current context       │
//	│   - Records read errors as issues       │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ Same table ──────→ threadstate.Manager
//	          │                      - Extends the current context
//	          │
//	          ├──→ Read error ──────→ threadstate.Manager
//	          │                      - Stores the error
//	          │                      - Queues an issue for the span
//	          │
//	          └──→ New table/none ──→ ContextHandler
//	                                 - HandleContextEnd for the old one
//	                                 - HandleContextStart for the new one
//
// A context is identified by the table address and its pairs, since a freed
// table's memory can be reused by the next one. The ContextHandler is
// typically implemented by the output formatters.
package eventprocessor
