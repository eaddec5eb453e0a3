package types

// Model represents a loadable model file on disk.
type Model struct {
	// Stable identifier for the model.
	// example: tiny-bigram
	ID string `json:"id" example:"tiny-bigram"`
	// Human-friendly name.
	// example: Tiny Bigram
	Name string `json:"name" example:"Tiny Bigram"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tiny-bigram.yaml
	Path string `json:"path" example:"/home/user/models/tiny-bigram.yaml"`
	// Quantization level or variant string, when the file name carries one.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Model format derived from the file extension (gguf, ngram).
	// example: ngram
	Format string `json:"format,omitempty" example:"ngram"`
}
