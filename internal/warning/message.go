package warning

import "strings"

// Phrases controls how a warning is turned into a spoken message.
type Phrases struct {
	Crowded       string `yaml:"crowded"`
	LowVisibility string `yaml:"low_visibility"`
	// Object is a template with {object} and {direction} placeholders.
	Object    string `yaml:"object"`
	PathClear string `yaml:"path_clear"`
}

// DefaultPhrases returns the stock English phrases.
func DefaultPhrases() Phrases {
	return Phrases{
		Crowded:       "Crowded area ahead",
		LowVisibility: "Low visibility detected",
		Object:        "{object} {direction}",
		PathClear:     "path clear",
	}
}

// Message renders w using the phrases.
func (p Phrases) Message(w Warning) string {
	switch w.Object {
	case CrowdedArea:
		return p.Crowded
	case LowVisibility:
		return p.LowVisibility
	}
	r := strings.NewReplacer("{object}", w.Object, "{direction}", string(w.Direction))
	return r.Replace(p.Object)
}

// ForSet renders the top warning of s, or the path-clear phrase when s is empty.
func (p Phrases) ForSet(s Set) string {
	top, ok := s.Top()
	if !ok {
		return p.PathClear
	}
	return p.Message(top)
}
