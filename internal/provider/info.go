// Package provider holds the descriptive record shared by the STT, LLM and
// TTS stages.
package provider

// Info describes a stage backend. Values are built once at construction and
// copied out on every Describe call.
type Info struct {
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Model     string          `json:"model,omitempty"`
	Device    string          `json:"device,omitempty"`
	Languages []string        `json:"supported_languages,omitempty"`
	Features  map[string]bool `json:"features,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate provider state.
func (i Info) Clone() Info {
	out := i
	if i.Languages != nil {
		out.Languages = append([]string(nil), i.Languages...)
	}
	if i.Features != nil {
		out.Features = make(map[string]bool, len(i.Features))
		for k, v := range i.Features {
			out.Features[k] = v
		}
	}
	return out
}

// Languages supported by the multilingual backends.
var MultilingualLanguages = []string{"ko", "en", "ja", "zh", "es", "fr", "de", "it", "pt", "ru", "ar", "hi"}
