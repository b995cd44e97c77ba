// Package frontend maps a source-language tag to a front end capable of
// producing IR from source text. The tag set is open: a language is added by
// registering another Frontend implementation, dispatch code never changes.
package frontend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openkernels/kjit/ir"
)

// Language tags a source language. Tags are open-ended strings; the two
// built-in front ends register themselves at init.
type Language string

const (
	// LangOpenCLC is OpenCL C kernel source.
	LangOpenCLC Language = "openclc"
	// LangCM is C-for-Metal kernel source.
	LangCM Language = "cm"
)

// Options carries language-specific front-end options. Each front end
// interprets the flag list independently: OpenCL C treats it as compiler
// flags, CM accepts an empty value or a flag list and rejects flags it does
// not know.
type Options struct {
	Flags []string
}

// Frontend compiles source text into an IR module. Implementations hold no
// cross-call state; every call is independent and safe to invoke
// concurrently for different sessions. Failures are diag.SourceError values.
type Frontend interface {
	CompileToIR(source string, opts Options) (*ir.Module, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Language]Frontend)
)

// Register wires a front end into the dispatch table. It panics when a tag
// is registered twice so mistakes are caught during init.
func Register(lang Language, fe Frontend) {
	if lang == "" {
		panic("frontend: cannot register empty language tag")
	}
	if fe == nil {
		panic("frontend: front end must be non-nil")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[lang]; exists {
		panic(fmt.Sprintf("frontend: language %q already registered", lang))
	}
	registry[lang] = fe
}

// Lookup returns the front end registered for a language tag.
func Lookup(lang Language) (Frontend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if fe, ok := registry[lang]; ok {
		return fe, nil
	}
	return nil, fmt.Errorf("frontend: no front end registered for %q", lang)
}

// Languages returns the registered language tags in sorted order.
func Languages() []Language {
	registryMu.RLock()
	defer registryMu.RUnlock()

	langs := make([]Language, 0, len(registry))
	for l := range registry {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}
