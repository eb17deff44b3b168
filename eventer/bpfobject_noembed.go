//go:build !embedbpf

package eventer

var embeddedBPFObject []byte
