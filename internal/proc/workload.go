package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// workloadChunk is written size times by CreateWorkloadFile.
const workloadChunk = 1 << 20

// CreateWorkloadFile materializes a large input file under dir for
// benchmark runs that need more data than the trigger's default input.
// The file is size MiB of zeros; an existing file of the same size is
// reused. Callers are expected to register a janitor to remove it.
func CreateWorkloadFile(dir string, size int) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("workloads-%d.tar", size))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating workload dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating workload file: %w", err)
	}
	defer f.Close()

	chunk := strings.Repeat("0", workloadChunk)
	for i := 0; i < size; i++ {
		if _, err := f.WriteString(chunk); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("writing workload file: %w", err)
		}
	}
	return path, nil
}
