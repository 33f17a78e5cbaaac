package labpattern

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed builtin_patterns.yaml
var builtinDefinitions []byte

// definitionFile is the YAML document layout.  Findings may be given either
// in the required/supporting lists of a pattern or in one findings list with
// a required flag per entry.
type definitionFile struct {
	Version  int                 `yaml:"version"`
	Patterns []patternDefinition `yaml:"patterns"`
}

type patternDefinition struct {
	Pattern  `yaml:",inline"`
	Findings []Finding `yaml:"findings"`
}

func (d patternDefinition) toPattern() Pattern {
	p := d.Pattern
	for _, f := range d.Findings {
		if f.Required {
			p.RequiredFindings = append(p.RequiredFindings, f)
		} else {
			p.SupportingFindings = append(p.SupportingFindings, f)
		}
	}
	return p
}

// LoadDefinitions decodes a YAML pattern file.  Structural validation is left
// to NewLibrary so one bad pattern does not reject the whole file.
func LoadDefinitions(r io.Reader) ([]Pattern, error) {
	var file definitionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return []Pattern{}, nil
		}
		return nil, fmt.Errorf("decode pattern definitions: %w", err)
	}
	out := make([]Pattern, 0, len(file.Patterns))
	for _, d := range file.Patterns {
		out = append(out, d.toPattern())
	}
	return out, nil
}

// LoadFile reads pattern definitions from path.
func LoadFile(path string) ([]Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pattern definitions: %w", err)
	}
	defer f.Close()
	return LoadDefinitions(f)
}

// BuiltinPatterns returns the default clinical pattern set.
func BuiltinPatterns() []Pattern {
	patterns, err := LoadDefinitions(bytes.NewReader(builtinDefinitions))
	if err != nil {
		panic("labpattern: embedded definitions are malformed: " + err.Error())
	}
	return patterns
}

//Personal.AI order the ending
