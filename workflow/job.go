package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/BaSui01/matrixflow/matrix"
)

// Step is a resolved step: its condition held, commands and env are
// interpolated for one combination.
type Step struct {
	Name        string
	Command     string
	Criticality Criticality
	Timeout     time.Duration
	Env         map[string]string
	Cache       *CacheSpec
}

// Job is the concrete executable unit derived from one Combination.
type Job struct {
	ID          string
	Combination matrix.Combination
	Steps       []Step
	// Env is the overlay applied on top of the isolated base environment.
	Env map[string]string
	// Resources are the scarce-resource classes this job must hold.
	Resources []string
	// Platform and RuntimeVersion are the cache key components.
	Platform       string
	RuntimeVersion string
	Coverage       string
}

// JobID derives the stable job identifier of a combination: the values
// joined by '-' followed by a short digest of the canonical key, so that
// values containing '-' can never make two combinations collide.
func JobID(c matrix.Combination) string {
	sum := sha256.Sum256([]byte(c.Key()))
	parts := make([]string, 0, c.Len()+1)
	for _, v := range c.Values() {
		parts = append(parts, slug(v))
	}
	parts = append(parts, hex.EncodeToString(sum[:4]))
	return strings.Join(parts, "-")
}

// slug keeps ids shell and filesystem friendly.
func slug(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
