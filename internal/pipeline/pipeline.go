// Package pipeline implements the ten triage steps. Each step is a
// transformation of the session state; steps 4 and 7 call the
// text-generation collaborator, step 2 the embedding collaborator, and
// steps 3 and 10 the knowledge store. Collaborator failures are
// downgraded to safe defaults inside the step that saw them.
package pipeline

import (
	"errors"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sentinelworks/triage/internal/knowledge"
	"github.com/sentinelworks/triage/internal/llm"
)

// Pipeline holds the collaborators shared by the step functions.
type Pipeline struct {
	gen      llm.Generator
	know     knowledge.Store
	embedder knowledge.Embedder
}

// New creates a pipeline. Any collaborator may be nil; the steps that
// would use it fall back to their degraded path.
func New(gen llm.Generator, know knowledge.Store, embedder knowledge.Embedder) *Pipeline {
	return &Pipeline{gen: gen, know: know, embedder: embedder}
}

var errNoGenerator = errors.New("no text-generation client configured")

func newID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
