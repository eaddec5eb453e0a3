package manager

import (
	"inferd/internal/common/fsutil"
)

// SanityReport describes which runtimes this binary can serve and whether
// the registry points at readable files.
type SanityReport struct {
	Runtime       string   `json:"runtime"`
	LlamaBuilt    bool     `json:"llama_built"`
	Models        int      `json:"models"`
	MissingModels []string `json:"missing_models,omitempty"`
	StateDir      string   `json:"state_dir,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// SanityCheck validates the runtime selection and model files. It does not
// mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{Runtime: m.adapter.Name(), LlamaBuilt: llamaBuilt, StateDir: m.stateDir}
	m.mu.RLock()
	reg := m.registry
	m.mu.RUnlock()
	r.Models = len(reg)
	for _, mdl := range reg {
		if !fsutil.FileExists(mdl.Path) {
			r.MissingModels = append(r.MissingModels, mdl.ID)
		}
	}
	switch {
	case r.Runtime == RuntimeLlama && !llamaBuilt:
		r.Error = "llama runtime selected but binary built without the 'llama' tag"
	case m.defaultModel != "":
		if _, ok := m.getModelByID(m.defaultModel); !ok {
			r.Error = "default model not in registry: " + m.defaultModel
		}
	}
	return r
}
