package eventer

import (
	"errors"
	"fmt"
	"os"
)

var errNoBPFObject error = errors.New("no BPF object available")

// BPFObjectLoader is an interface which describes objects which
// return/"load" a BPF ELF-format object as a byte slice.
type bpfObjectLoader interface {
	load() ([]byte, error)
}

// EmbeddedBPFObjectLoader returns the object embedded in the executable at
// build time. Only builds with the embedbpf tag carry one.
type embeddedBPFObjectLoader struct{}

func (*embeddedBPFObjectLoader) load() ([]byte, error) {
	if len(embeddedBPFObject) == 0 {
		return nil, fmt.Errorf("%w: not embedded at build time", errNoBPFObject)
	}

	return embeddedBPFObject, nil
}

// FileBPFObjectLoader reads the object from a file installed alongside the
// plugin.
type fileBPFObjectLoader struct {
	path string
}

func newFileBPFObjectLoader(path string) *fileBPFObjectLoader {
	return &fileBPFObjectLoader{path}
}

func (l *fileBPFObjectLoader) load() ([]byte, error) {
	if l.path == "" {
		return nil, fmt.Errorf("%w: no object path configured", errNoBPFObject)
	}

	obj, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading BPF object: %w", err)
	}

	// Guard against an empty file left by a failed build or install
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", errNoBPFObject, l.path)
	}

	return obj, nil
}

// FallbackBPFObjectLoader returns the object of the first loader that has one.
type fallbackBPFObjectLoader struct {
	loaders []bpfObjectLoader
}

func newFallbackBPFObjectLoader(loaders ...bpfObjectLoader) *fallbackBPFObjectLoader {
	return &fallbackBPFObjectLoader{loaders}
}

func (l *fallbackBPFObjectLoader) load() ([]byte, error) {
	errs := make([]error, 0, len(l.loaders))
	for _, loader := range l.loaders {
		obj, err := loader.load()
		if err == nil {
			return obj, nil
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil, errNoBPFObject
	}

	return nil, errors.Join(errs...)
}
