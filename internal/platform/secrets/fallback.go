package secrets

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// fallbackFile is the local "secret://name=value" file, read once on first use. A missing file
// is an empty set.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

// lookup returns the value for canonical. The read error is reported on the first call only.
func (f *fallbackFile) lookup(canonical string) (string, bool, error) {
	var loadErr error
	f.once.Do(func() {
		f.values, f.err = parseFallback(f.path)
		loadErr = f.err
	})
	value, ok := f.values[canonical]
	return value, ok, loadErr
}

func parseFallback(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return values, nil
	case err != nil:
		return values, err
	}
	defer file.Close()

	lines := bufio.NewScanner(file)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		name, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if ref, err := ParseReference(name); err == nil {
			name = ref.Canonical
		}
		if name != "" {
			values[name] = strings.TrimSpace(value)
		}
	}
	return values, lines.Err()
}
