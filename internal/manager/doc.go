// Package manager provides lifecycle, admission, and inference coordination for
// model instances. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor helpers, simple getters, Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal state types (State, ModelInfo, Instance, Snapshot).
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, IsBudgetExceeded).
//   - helpers.go: model lookup, VRAM estimation, request to InferParams mapping.
//   - admission.go: per-instance queueing and generation admission.
//   - ensure.go: EnsureInstance, which loads a session through the adapter.
//   - evict.go: eviction logic to fit within VRAM budget.
//   - inference.go: Infer, streaming NDJSON token lines and a final summary line.
//   - tokenize.go: Tokenize/Detokenize against an instance's model.
//   - unload.go, state_persist.go: drain, persist context state, release.
//   - status.go: Status/Snapshot reporting.
//   - ops.go: asynchronous Switch.
//   - events.go, eventpub_*.go: lifecycle events and publishers.
//   - metrics.go: Prometheus collectors for loads, evictions and completions.
//
// Runtimes:
//
//   - engine (default): adapter_engine.go drives internal/llm (model cache,
//     context, sampler, completion loop) over an engine.Backend. The pure-Go
//     ngram backend is used unless another one is configured.
//
//   - llama: adapter_llama.go runs whole completions through go-llama.cpp.
//     Enabled with `-tags=llama`; llama_cgo.go carries the linker hints. Without
//     the tag adapter_llama_stub.go reports the dependency as unavailable.
//
// A Context is not safe for concurrent use, so each instance owns exactly one
// session and admits one generation at a time.
package manager
