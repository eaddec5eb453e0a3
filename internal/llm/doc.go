// Package llm is the generation control layer over an inference engine
// (see internal/engine). It is structured into small files by concern:
//
//   - errors.go: sentinel errors, DecodeError, GenerationError and Is* helpers.
//   - model.go: Model handle, ModelParams, tokenize/detokenize with grow-and-retry.
//   - cache.go: path-keyed, reference-counted model cache.
//   - context.go: Context lifecycle and ContextParams.
//   - batch.go: fixed-capacity Batch builder plus Decode/Encode.
//   - memory.go: KV memory controller (remove, copy, keep, shift, bounds).
//   - state.go: state serialization and file-backed save/load.
//   - sampler.go, sampler_stages.go: ordered sampler pipeline.
//   - completion.go: the tokenize, prefill, generate, stop loop.
//
// A Model may be shared by any number of goroutines. A Context, Batch and
// Sampler belong to one caller at a time; the manager package provides the
// queueing that serializes access to a Context.
package llm
