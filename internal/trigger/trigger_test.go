package trigger

import (
	"errors"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tdu-cpslab/volp/internal/fault"
)

type recordingOutput struct {
	levels []bool
	err    error
}

func (o *recordingOutput) Set(on bool) error {
	o.levels = append(o.levels, on)
	return o.err
}

func TestMultiOutput(t *testing.T) {
	failing := &recordingOutput{err: errors.New("stuck")}
	ok := &recordingOutput{}

	err := MultiOutput{failing, ok}.Set(true)
	if err == nil || err.Error() != "stuck" {
		t.Errorf("Expected first error to surface, got %v", err)
	}
	if len(ok.levels) != 1 || !ok.levels[0] {
		t.Errorf("Expected every output to be driven, got %v", ok.levels)
	}
}

func TestNopOutput(t *testing.T) {
	if err := (NopOutput{}).Set(true); err != nil {
		t.Errorf("NopOutput.Set returned %v", err)
	}
}

func TestOpenInput_UnknownPin(t *testing.T) {
	_, err := OpenInput("GPIO_DOES_NOT_EXIST", true)
	if err == nil {
		t.Fatal("Expected an error for an unknown line")
	}
	if !errors.Is(err, fault.ErrDeviceUnavailable) {
		t.Errorf("Expected DeviceUnavailable, got %v", err)
	}
}

func TestOpenInput_Hardware(t *testing.T) {
	in, err := OpenInput(DefaultInputPin, true)
	if err != nil {
		t.Skipf("GPIO not available: %v", err)
	}
	defer in.Close()

	t.Logf("%s active: %v", in.Name(), in.IsActive())
}

// The capture path imports this package on headless boards, so it must not
// link libraries that need a display session
func TestNoDesktopImports(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}

	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("failed to parse %s: %v", name, err)
		}
		for _, imp := range f.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if path == "golang.design/x/hotkey" || path == "github.com/getlantern/systray" {
				t.Errorf("%s imports %s", name, path)
			}
		}
	}
}
