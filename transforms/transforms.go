// File: transforms/transforms.go
// Author: momentics <momentics@gmail.com>
//
// Byte transforms the server can apply to each filled input buffer. Every transform
// is a golang.org/x/text/transform.Transformer invoked with atEOF set: the bytes of
// one read cycle form one unit.

package transforms

import (
	"fmt"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"

	"github.com/momentics/hioload-pipe/api"
)

// Default is the transform used when none is configured.
const Default = "reverse"

var registry = map[string]func() api.Transformer{
	"reverse":  func() api.Transformer { return Reverse{} },
	"identity": func() api.Transformer { return transform.Nop },
	"upper":    func() api.Transformer { return cases.Upper(language.Und) },
	"lower":    func() api.Transformer { return cases.Lower(language.Und) },
}

// ByName returns a fresh transformer registered under name.
func ByName(name string) (api.Transformer, error) {
	mk, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q: %w", name, api.ErrInvalidArgument)
	}
	return mk(), nil
}

// Names lists the registered transform names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OutputSize returns how many output bytes t wants for srcLen input bytes.
func OutputSize(t api.Transformer, srcLen int) int {
	if s, ok := t.(api.OutputSizer); ok {
		return s.OutputSize(srcLen)
	}
	return srcLen
}
