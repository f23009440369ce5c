package attendance

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Image is a captured scan handed to Mark. Mark releases it exactly once,
// whatever the outcome.
type Image interface {
	Open() (io.ReadCloser, error)
	Filename() string
	Release() error
}

// TempImage is an upload spooled to a temporary file.
type TempImage struct {
	path     string
	filename string

	once sync.Once
	err  error
}

// SaveTemp copies src into a new file under dir.
func SaveTemp(dir string, src io.Reader, filename string) (*TempImage, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	f, err := os.CreateTemp(dir, "scan-*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close temp image: %w", err)
	}
	return &TempImage{path: f.Name(), filename: filepath.Base(filename)}, nil
}

func (t *TempImage) Open() (io.ReadCloser, error) { return os.Open(t.path) }

func (t *TempImage) Filename() string { return t.filename }

// Path is the location of the spooled file.
func (t *TempImage) Path() string { return t.path }

// Release deletes the temporary file. Calls after the first return the first
// result.
func (t *TempImage) Release() error {
	t.once.Do(func() {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			t.err = err
		}
	})
	return t.err
}
