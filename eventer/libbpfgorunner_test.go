package eventer

import (
	"bytes"
	"errors"
	"testing"
)

const (
	testEventChannelSize    = 8
	testDroppedChannelSize  = 4
	testPerfBufferSizePages = 2
)

type mockLibbpfObjectOpener struct {
	objectToReturn libbpfObject
	errorToReturn  error

	receivedName string
}

func newMockLibbpfObjectOpener(objectToReturn libbpfObject, errorToReturn error) *mockLibbpfObjectOpener {
	return &mockLibbpfObjectOpener{
		objectToReturn: objectToReturn,
		errorToReturn:  errorToReturn,
	}
}

func (mo *mockLibbpfObjectOpener) open(name string) (libbpfObject, error) {
	mo.receivedName = name

	if mo.errorToReturn != nil {
		return nil, mo.errorToReturn
	}

	return mo.objectToReturn, nil
}

type mockLibbpfObject struct {
	attachErrorToReturn error
	startErrorToReturn  error

	receivedProgram    string
	receivedTracepoint string
	receivedPerfBuffer string
	receivedPages      int
	receivedChannels   *runnerChannels
	closeCalled        bool
}

func (mo *mockLibbpfObject) attachTracepoint(program, tracepoint string) error {
	mo.receivedProgram = program
	mo.receivedTracepoint = tracepoint

	return mo.attachErrorToReturn
}

func (mo *mockLibbpfObject) startPerfBuffer(name string, channels *runnerChannels, pages int) error {
	mo.receivedPerfBuffer = name
	mo.receivedChannels = channels
	mo.receivedPages = pages

	return mo.startErrorToReturn
}

func (mo *mockLibbpfObject) close() {
	mo.closeCalled = true
}

func TestLibbpfgoRunner(t *testing.T) {
	mockObject := new(mockLibbpfObject)
	mockOpener := newMockLibbpfObjectOpener(mockObject, nil)

	runner := newLibbpfgoRunner(testEventChannelSize,
		testDroppedChannelSize,
		testPerfBufferSizePages,
		mockOpener)

	if err := runner.run(); err != nil {
		t.Errorf("expected nil error, got %v (of type %T)", err, err)
	}

	if mockOpener.receivedName != bpfModuleName {
		t.Errorf("expected module to be opened as %q, but was %q", bpfModuleName, mockOpener.receivedName)
	}

	// Names must match those in bpf/bpf.c and the kernel's tracepoint
	if mockObject.receivedProgram != tcpStateChangeBPFProgramName ||
		mockObject.receivedTracepoint != tcpStateChangeTracepointName {
		t.Errorf("expected %s to be attached to %s, but %s was attached to %s",
			tcpStateChangeBPFProgramName,
			tcpStateChangeTracepointName,
			mockObject.receivedProgram,
			mockObject.receivedTracepoint)
	}

	if mockObject.receivedPerfBuffer != tcpStateChangePerfBufName {
		t.Errorf("expected perf buffer %q to be started, but was %q", tcpStateChangePerfBufName, mockObject.receivedPerfBuffer)
	}

	if mockObject.receivedPages != testPerfBufferSizePages {
		t.Errorf("expected perf buffer of %d pages, got %d", testPerfBufferSizePages, mockObject.receivedPages)
	}

	channels := mockObject.receivedChannels
	if cap(channels.eventChan) != testEventChannelSize || cap(channels.droppedEventCountChan) != testDroppedChannelSize {
		t.Errorf("expected channel capacities %d and %d, got %d and %d",
			testEventChannelSize,
			testDroppedChannelSize,
			cap(channels.eventChan),
			cap(channels.droppedEventCountChan))
	}

	// The perf buffer delivers onto the channels it was given; the runner must hand out the same ones
	mockEventData := []byte{0xCA, 0xFE, 0xF0, 0x0D}
	channels.eventChan <- mockEventData
	if eventData := <-runner.eventChannel(); !bytes.Equal(eventData, mockEventData) {
		t.Errorf("expected runner event channel to return %X, but returned %X", mockEventData, eventData)
	}

	var mockDroppedEventCount uint64 = 3
	channels.droppedEventCountChan <- mockDroppedEventCount
	if droppedEventCount := <-runner.droppedEventCountChannel(); droppedEventCount != mockDroppedEventCount {
		t.Errorf("expected runner dropped event count channel to return %d, but returned %d",
			mockDroppedEventCount,
			droppedEventCount)
	}

	if mockObject.closeCalled {
		t.Error("expected BPF object to stay loaded while running, but was closed")
	}

	if err := runner.close(); err != nil {
		t.Errorf("expected nil error, got %v (of type %T)", err, err)
	}

	if !mockObject.closeCalled {
		t.Error("expected BPF object to be closed, but was not")
	}
}

func TestLibbpfgoRunnerOpenError(t *testing.T) {
	mockError := errors.New("mock BPF object open error")

	runner := newLibbpfgoRunner(testEventChannelSize,
		testDroppedChannelSize,
		testPerfBufferSizePages,
		newMockLibbpfObjectOpener(nil, mockError))

	err := runner.run()
	if err == nil {
		t.Error("expected error, got nil")
	}

	t.Logf("got error %q (of type %T)", err, err)

	if !errors.Is(err, mockError) {
		t.Errorf("expected error chain to include %q, but did not", mockError)
	}
}

func TestLibbpfgoRunnerStartErrors(t *testing.T) {
	mockError := errors.New("mock libbpf error")

	tests := []struct {
		name   string
		object *mockLibbpfObject
	}{
		{"attach tracepoint", &mockLibbpfObject{attachErrorToReturn: mockError}},
		{"start perf buffer", &mockLibbpfObject{startErrorToReturn: mockError}},
	}

	for _, test := range tests {
		runner := newLibbpfgoRunner(testEventChannelSize,
			testDroppedChannelSize,
			testPerfBufferSizePages,
			newMockLibbpfObjectOpener(test.object, nil))

		err := runner.run()
		if err == nil {
			t.Errorf("%s: expected error, got nil", test.name)
			continue
		}

		t.Logf("%s: got error %q (of type %T)", test.name, err, err)

		if !errors.Is(err, mockError) {
			t.Errorf("%s: expected error chain to include %q, but did not", test.name, mockError)
		}

		// Anything partially loaded into the kernel must be released again
		if !test.object.closeCalled {
			t.Errorf("%s: expected BPF object to be closed after failure, but was not", test.name)
		}

		if runner.eventChannel() != nil || runner.droppedEventCountChannel() != nil {
			t.Errorf("%s: expected no channels after failure", test.name)
		}
	}
}

func TestRunnerChannels(t *testing.T) {
	channels := newRunnerChannels(testEventChannelSize, testDroppedChannelSize)
	if channels.eventChannel() != nil || channels.droppedEventCountChannel() != nil {
		t.Error("expected no channels before capture starts")
	}

	channels.makeChannels()

	if cap(channels.eventChannel()) != testEventChannelSize {
		t.Errorf("expected event channel capacity %d, got %d", testEventChannelSize, cap(channels.eventChannel()))
	}

	if cap(channels.droppedEventCountChannel()) != testDroppedChannelSize {
		t.Errorf("expected dropped event count channel capacity %d, got %d",
			testDroppedChannelSize,
			cap(channels.droppedEventCountChannel()))
	}
}
