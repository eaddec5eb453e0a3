package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// DefaultFormats maps recognized model file extensions to a format name.
var DefaultFormats = map[string]string{
	".gguf": "gguf",
	".yaml": "ngram",
	".yml":  "ngram",
}

// Scanner builds registry entries from the files of one directory.
type Scanner struct {
	formats map[string]string
}

// NewScanner returns a Scanner recognizing the given extensions (with dot,
// lower case). A nil map uses DefaultFormats.
func NewScanner(formats map[string]string) *Scanner {
	if formats == nil {
		formats = DefaultFormats
	}
	return &Scanner{formats: formats}
}

// Scan lists model files in dir. The ID is the file name without its
// extension; when two files share a stem the later one keeps its full file
// name as ID. Results are sorted by ID.
func (s *Scanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	seen := make(map[string]bool)
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		format, ok := s.formats[ext]
		if !ok {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if seen[id] {
			id = name
		}
		seen[id] = true
		models = append(models, types.Model{
			ID:     id,
			Name:   id,
			Path:   filepath.Join(abs, name),
			Quant:  quantFromName(id),
			Format: format,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir scans dir with the default formats.
func LoadDir(dir string) ([]types.Model, error) {
	return NewScanner(nil).Scan(dir)
}

// quantFromName extracts a trailing quantization tag such as Q4_K_M or F16
// from a dotted or dashed file stem.
func quantFromName(stem string) string {
	i := strings.LastIndexAny(stem, ".-")
	if i < 0 || i == len(stem)-1 {
		return ""
	}
	tag := strings.ToUpper(stem[i+1:])
	switch {
	case len(tag) >= 2 && (tag[0] == 'Q' || tag[0] == 'F') && tag[1] >= '0' && tag[1] <= '9':
		return tag
	case tag == "BF16":
		return tag
	}
	return ""
}
