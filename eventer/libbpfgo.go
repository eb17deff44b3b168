package eventer

import (
	"fmt"

	bpf "github.com/aquasecurity/libbpfgo"
)

// libbpfObject is the kernel program once libbpf has loaded it. Everything
// it holds in the kernel is released by close.
type libbpfObject interface {
	attachTracepoint(program, tracepoint string) error
	startPerfBuffer(name string, channels *runnerChannels, pages int) error
	close()
}

// libbpfObjectOpener loads the kernel program so that it is ready to attach.
type libbpfObjectOpener interface {
	open(name string) (libbpfObject, error)
}

type libbpfgoObject struct {
	module *bpf.Module
}

func (o *libbpfgoObject) attachTracepoint(program, tracepoint string) error {
	prog, err := o.module.GetProgram(program)
	if err != nil {
		return fmt.Errorf("finding program %s: %w", program, err)
	}

	if _, err := prog.AttachTracepoint(tracepoint); err != nil {
		return fmt.Errorf("attaching to %s: %w", tracepoint, err)
	}

	return nil
}

// startPerfBuffer polls the named perf event array, pages pages per CPU, onto
// channels.
func (o *libbpfgoObject) startPerfBuffer(name string, channels *runnerChannels, pages int) error {
	buf, err := o.module.InitPerfBuf(name, channels.eventChan, channels.droppedEventCountChan, pages)
	if err != nil {
		return err
	}
	buf.Start()

	return nil
}

func (o *libbpfgoObject) close() {
	o.module.Close()
}

// libbpfgoObjectOpener opens the object supplied by a bpfObjectLoader.
type libbpfgoObjectOpener struct {
	objectLoader bpfObjectLoader
}

func newLibbpfgoObjectOpener(objectLoader bpfObjectLoader) *libbpfgoObjectOpener {
	return &libbpfgoObjectOpener{objectLoader}
}

// open creates the module as name, as it will be known to the kernel, and
// loads it. libbpf resolves LINUX_KERNEL_VERSION and the CO-RE relocations
// at this point.
func (o *libbpfgoObjectOpener) open(name string) (libbpfObject, error) {
	bpfObj, err := o.objectLoader.load()
	if err != nil {
		return nil, fmt.Errorf("loading BPF object: %w", err)
	}

	module, err := bpf.NewModuleFromBuffer(bpfObj, name)
	if err != nil {
		return nil, err
	}

	if err := module.BPFLoadObject(); err != nil {
		module.Close()
		return nil, fmt.Errorf("loading BPF object into kernel: %w", err)
	}

	return &libbpfgoObject{module}, nil
}
