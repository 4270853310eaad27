package walker

import (
	"sort"
	"sync"

	"github.com/coldvault/vaultengine/internal/fsident"
	"github.com/coldvault/vaultengine/internal/objfmt"
)

// noParent marks the root dirstate, which has no parent index.
const noParent = -1

// namedChild is one (LoR, LoM, treesize) tuple tagged with the
// directory-entry name it was encoded under, the stable sort key spec
// §4.4 requires for cross-run deduplication.
type namedChild struct {
	name string
	objfmt.DirChild
}

// dirstate is the transient per-directory state tracked during one
// active backup run. Grounded on Upload::dirstate_t in upload.cc, with
// the parent pointer replaced by an arena index.
type dirstate struct {
	mu sync.Mutex

	name     string // this directory's own name within its parent
	path     string
	depth    int
	parent   int // index into arena.nodes, or noParent
	identity fsident.Identity
	owner    string
	group    string

	pendingChildren int // subdirectory children not yet reported complete

	// entries accumulates this directory's own encoded children: file
	// entries appended during UPLOAD, then one entry per subdirectory
	// appended by each child as it completes its own UPLOAD.
	entries []namedChild

	done bool // true once this dirstate's own UPLOAD has completed

	// rootHash/rootTreeSize hold this dirstate's own encoded objseq and
	// treesize once done is true. For the run's root dirstate, Run reads
	// these directly as the final result.
	rootHash     objfmt.ObjSeq
	rootTreeSize uint64
}

// arena owns every dirstate allocated during one run, addressed by
// index rather than pointer.
type arena struct {
	mu    sync.Mutex
	nodes []*dirstate
}

func newArena() *arena {
	return &arena{}
}

func (a *arena) alloc(d *dirstate) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nodes = append(a.nodes, d)

	return len(a.nodes) - 1
}

func (a *arena) get(idx int) *dirstate {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.nodes[idx]
}

// addEntry appends one encoded child tuple to d, safe for concurrent
// callers (a subdirectory worker completing UPLOAD, or this directory's
// own UPLOAD processing its file children).
func (d *dirstate) addEntry(name string, child objfmt.DirChild) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = append(d.entries, namedChild{name: name, DirChild: child})
}

// addPendingChild increments the count of subdirectory children whose
// UPLOAD hasn't yet completed, called once per child during SCAN.
func (d *dirstate) addPendingChild() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pendingChildren++
}

// childCompleted decrements the pending count, returning true if this
// was the last outstanding child - the signal to schedule the parent's
// own UPLOAD.
func (d *dirstate) childCompleted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pendingChildren--

	return d.pendingChildren == 0
}

// hasPendingChildren reports whether any subdirectory child is still
// outstanding, checked at the end of SCAN.
func (d *dirstate) hasPendingChildren() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pendingChildren > 0
}

// sortedEntries returns a snapshot of d's entries sorted by name - the
// stable key that makes identical directories on different runs produce
// identical objects.
func (d *dirstate) sortedEntries() []namedChild {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := append([]namedChild(nil), d.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })

	return out
}
