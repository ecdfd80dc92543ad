package transcribe

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Model describes one downloadable speech model preset.
type Model struct {
	ID        string
	FileName  string
	URL       string
	SizeLabel string
}

// Path returns where the model file lives under dir.
func (m Model) Path(dir string) string {
	return filepath.Join(dir, m.FileName)
}

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// catalog maps the user-facing model size to its ggml file. Larger
// models are slower and more accurate.
var catalog = map[string]Model{
	"tiny":     {ID: "tiny", FileName: "ggml-tiny.bin", SizeLabel: "75 MiB"},
	"base":     {ID: "base", FileName: "ggml-base.bin", SizeLabel: "142 MiB"},
	"small":    {ID: "small", FileName: "ggml-small.bin", SizeLabel: "466 MiB"},
	"medium":   {ID: "medium", FileName: "ggml-medium.bin", SizeLabel: "1.5 GiB"},
	"large-v2": {ID: "large-v2", FileName: "ggml-large-v2.bin", SizeLabel: "2.9 GiB"},
	"large-v3": {ID: "large-v3", FileName: "ggml-large-v3.bin", SizeLabel: "2.9 GiB"},
}

// LookupModel resolves a model size name to its catalog entry.
func LookupModel(size string) (Model, error) {
	m, ok := catalog[size]
	if !ok {
		return Model{}, fmt.Errorf("unknown model %q (have %v)", size, ModelSizes())
	}
	m.URL = modelBaseURL + m.FileName
	return m, nil
}

// ModelSizes lists the available model names, sorted.
func ModelSizes() []string {
	names := make([]string, 0, len(catalog))
	for k := range catalog {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
