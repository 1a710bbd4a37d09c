package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sort"
)

// Request describes one cache-eligible fetch.
type Request struct {
	Platform       string
	RuntimeVersion string
	// Key is the interpolated key template of the step.
	Key string
	// Files are fingerprint inputs, relative to Dir.
	Files []string
	// Paths are the outputs restored on a hit, relative to Dir.
	Paths []string
	// Dir is the job working directory.
	Dir string
}

// ComputeKey derives the content address of req. Every component is written
// with a length prefix so that no two requests share an encoding.
func ComputeKey(req Request) (string, error) {
	h := sha256.New()
	writeField(h, []byte("matrixflow-cache-v1"))
	writeField(h, []byte(req.Platform))
	writeField(h, []byte(req.RuntimeVersion))
	writeField(h, []byte(req.Key))

	files := append([]string(nil), req.Files...)
	sort.Strings(files)
	writeCount(h, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(req.Dir, filepath.FromSlash(f)))
		if err != nil {
			return "", fmt.Errorf("read fingerprint file %q: %w", f, err)
		}
		writeField(h, []byte(f))
		writeField(h, data)
	}

	paths := append([]string(nil), req.Paths...)
	sort.Strings(paths)
	writeCount(h, len(paths))
	for _, p := range paths {
		writeField(h, []byte(p))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeField(h hash.Hash, data []byte) {
	writeCount(h, len(data))
	h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	h.Write(b[:])
}
