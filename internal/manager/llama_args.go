package manager

// llamaArgs is the sampling setup handed to go-llama.cpp. It is kept free of
// the cgo import so the mapping can be tested in every build.
type llamaArgs struct {
	Tokens           int
	Threads          int
	Temperature      float32
	TopK             int
	TopP             float32
	Penalty          float32
	RepeatLastN      int
	FrequencyPenalty float32
	PresencePenalty  float32
	Seed             int // 0 leaves the library's random seed
	Stop             []string
}

// llamaArgsFor maps request params onto go-llama.cpp. Disabled stages pass
// through unchanged because llama.cpp reads them the same way: top_k <= 0
// keeps the whole vocabulary, top_p >= 1 and a repeat penalty of 1 are
// no-ops. min_p has no option there and is dropped.
func llamaArgsFor(p InferParams, threads int) llamaArgs {
	sp := p.Sampler
	return llamaArgs{
		Tokens:           max(1, int(p.MaxTokens)),
		Threads:          max(1, threads),
		Temperature:      sp.Temperature,
		TopK:             int(sp.TopK),
		TopP:             sp.TopP,
		Penalty:          sp.RepeatPenalty,
		RepeatLastN:      int(sp.RepeatLastN),
		FrequencyPenalty: sp.FrequencyPenalty,
		PresencePenalty:  sp.PresencePenalty,
		Seed:             int(sp.Seed),
		Stop:             nonEmpty(p.Stop),
	}
}

// nonEmpty drops empty stop words while keeping order.
func nonEmpty(words []string) []string {
	var out []string
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
