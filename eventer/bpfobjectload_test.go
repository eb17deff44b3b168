package eventer

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

type mockBPFObjectLoader struct {
	objectToReturn []byte
	errorToReturn  error

	loadCalled bool
}

func newMockBPFObjectLoader(objectToReturn []byte, errorToReturn error) *mockBPFObjectLoader {
	return &mockBPFObjectLoader{
		objectToReturn: objectToReturn,
		errorToReturn:  errorToReturn,
	}
}

func (ml *mockBPFObjectLoader) load() ([]byte, error) {
	ml.loadCalled = true

	if ml.errorToReturn != nil {
		return nil, ml.errorToReturn
	}

	return ml.objectToReturn, nil
}

func TestLibbpfgoObjectOpenerObjectLoaderError(t *testing.T) {
	mockError := errors.New("mock BPF object loader error")
	mockObjectLoader := newMockBPFObjectLoader(nil, mockError)

	_, err := newLibbpfgoObjectOpener(mockObjectLoader).open("mock-module")
	if err == nil {
		t.Error("expected error, got nil")
	}

	t.Logf("got error %q (of type %T)", err, err)

	if !errors.Is(err, mockError) {
		t.Errorf("expected error chain to include %q, but did not", mockError)
	}

	if !mockObjectLoader.loadCalled {
		t.Error("expected BPF object loader to be called, but was not")
	}
}

func TestCiliumRunnerObjectLoaderError(t *testing.T) {
	mockError := errors.New("mock BPF object loader error")
	runner := newCiliumRunner(testEventChannelSize,
		testDroppedChannelSize,
		testPerfBufferSizePages,
		newMockBPFObjectLoader(nil, mockError))

	err := runner.run()
	if !errors.Is(err, mockError) {
		t.Errorf("expected error chain to include %q, got %v", mockError, err)
	}
}

func TestFileBPFObjectLoader(t *testing.T) {
	mockObject := []byte{0x7F, 'E', 'L', 'F'}
	path := filepath.Join(t.TempDir(), "bpf.o")
	if err := os.WriteFile(path, mockObject, 0o644); err != nil {
		t.Fatalf("writing mock object: %v", err)
	}

	obj, err := newFileBPFObjectLoader(path).load()
	if err != nil {
		t.Errorf("expected nil error, got %v (of type %T)", err, err)
	}

	if !bytes.Equal(obj, mockObject) {
		t.Errorf("expected object %X, got %X", mockObject, obj)
	}
}

func TestFileBPFObjectLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	emptyPath := filepath.Join(dir, "empty.o")
	if err := os.WriteFile(emptyPath, nil, 0o644); err != nil {
		t.Fatalf("writing empty object: %v", err)
	}

	tests := []struct {
		path     string
		expected error
	}{
		{"", errNoBPFObject},
		{emptyPath, errNoBPFObject},
		{filepath.Join(dir, "missing.o"), fs.ErrNotExist},
	}

	for _, test := range tests {
		_, err := newFileBPFObjectLoader(test.path).load()
		if err == nil {
			t.Errorf("path %q: expected error, got nil", test.path)
			continue
		}

		t.Logf("path %q: got error %q (of type %T)", test.path, err, err)

		if !errors.Is(err, test.expected) {
			t.Errorf("path %q: expected error chain to include %q, but did not", test.path, test.expected)
		}
	}
}

func TestFallbackBPFObjectLoader(t *testing.T) {
	mockObject := []byte{0x7F, 'E', 'L', 'F'}
	failing := newMockBPFObjectLoader(nil, errNoBPFObject)
	succeeding := newMockBPFObjectLoader(mockObject, nil)
	unreached := newMockBPFObjectLoader(nil, nil)

	obj, err := newFallbackBPFObjectLoader(failing, succeeding, unreached).load()
	if err != nil {
		t.Errorf("expected nil error, got %v (of type %T)", err, err)
	}

	if !bytes.Equal(obj, mockObject) {
		t.Errorf("expected object %X, got %X", mockObject, obj)
	}

	if !failing.loadCalled || !succeeding.loadCalled {
		t.Error("expected loaders to be tried in order, but were not")
	}

	if unreached.loadCalled {
		t.Error("expected loaders after the first success not to be tried, but were")
	}
}

func TestFallbackBPFObjectLoaderAllFail(t *testing.T) {
	mockError := errors.New("mock BPF object loader error")

	_, err := newFallbackBPFObjectLoader(newMockBPFObjectLoader(nil, errNoBPFObject),
		newMockBPFObjectLoader(nil, mockError)).load()
	if err == nil {
		t.Error("expected error, got nil")
	}

	t.Logf("got error %q (of type %T)", err, err)

	// Every loader's reason is kept
	if !errors.Is(err, errNoBPFObject) || !errors.Is(err, mockError) {
		t.Errorf("expected error chain to include %q and %q, but did not", errNoBPFObject, mockError)
	}

	if _, err := newFallbackBPFObjectLoader().load(); !errors.Is(err, errNoBPFObject) {
		t.Errorf("expected error chain to include %q, got %v", errNoBPFObject, err)
	}
}

func TestEmbeddedBPFObjectLoader(t *testing.T) {
	obj, err := new(embeddedBPFObjectLoader).load()
	if len(embeddedBPFObject) == 0 {
		if !errors.Is(err, errNoBPFObject) {
			t.Errorf("expected error chain to include %q, got %v", errNoBPFObject, err)
		}
		return
	}

	if err != nil {
		t.Errorf("expected nil error, got %v (of type %T)", err, err)
	}

	if !bytes.Equal(obj, embeddedBPFObject) {
		t.Error("expected embedded object to be returned, but was not")
	}
}
