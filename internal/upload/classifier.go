package upload

import (
	"archive/zip"
	"bufio"
	"io"
	"strings"
)

// Classifier derives a coarse content count for a finished artifact. The
// integer's meaning is implementation-defined; deployments may swap in their
// own inspection.
type Classifier interface {
	Classify(filename string, r io.Reader, size int64) (int, error)
}

// ArchiveClassifier counts entries of zip-compatible archives (.jar, .zip)
// and falls back to counting lines for anything else.
type ArchiveClassifier struct{}

func (ArchiveClassifier) Classify(filename string, r io.Reader, size int64) (int, error) {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".jar") || strings.HasSuffix(lower, ".zip") {
		if ra, ok := r.(io.ReaderAt); ok {
			zr, err := zip.NewReader(ra, size)
			if err != nil {
				return 0, err
			}
			return len(zr.File), nil
		}
	}

	count := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}
