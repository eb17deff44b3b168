//go:build embedbpf

package eventer

import _ "embed"

// Built from bpf/bpf.c by `make`.
//
//go:embed bpf.o
var embeddedBPFObject []byte
