package disk

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/datafile"
)

// fileRegistry keeps exactly one *datafile.File open per file ID within a
// buffer's directory, reference counted. The writer and reader tasks both
// acquire whichever ID they are currently positioned at; when both land on
// the same (not-yet-rotated) file — the common case for a mostly-drained
// buffer — they share one mmap, so an append is immediately visible to the
// reader's next ReadNext without any cross-process coherence concerns.
type fileRegistry struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	open    map[uint16]*refCountedFile
}

type refCountedFile struct {
	file *datafile.File
	refs int
}

func newFileRegistry(dir string, maxSize int64) *fileRegistry {
	return &fileRegistry{dir: dir, maxSize: maxSize, open: make(map[uint16]*refCountedFile)}
}

// acquireExisting opens (or returns the shared handle for) a file that is
// expected to already exist.
func (r *fileRegistry) acquireExisting(id uint16) (*datafile.File, error) {
	return r.acquire(id, false)
}

// acquireNew creates (or returns the shared handle for) a brand-new file,
// asserting that ID is not currently in use — the 16-bit wraparound
// invariant from spec.md §9: "file N is absent before creating file N".
func (r *fileRegistry) acquireNew(id uint16) (*datafile.File, error) {
	return r.acquire(id, true)
}

func (r *fileRegistry) acquire(id uint16, create bool) (*datafile.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rf, ok := r.open[id]; ok {
		rf.refs++
		return rf.file, nil
	}

	path := datafile.Path(r.dir, id)
	var f *datafile.File
	var err error
	if create {
		f, err = datafile.Create(path, id, r.maxSize)
	} else {
		f, err = datafile.Open(path, id, r.maxSize)
	}
	if err != nil {
		return nil, err
	}

	r.open[id] = &refCountedFile{file: f, refs: 1}
	return f, nil
}

// release drops one reference to id, closing (not deleting) the underlying
// file once the last reference is gone.
func (r *fileRegistry) release(id uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, ok := r.open[id]
	if !ok {
		return nil
	}
	rf.refs--
	if rf.refs > 0 {
		return nil
	}
	delete(r.open, id)
	return rf.file.Close()
}

// delete removes file id's backing file entirely, invoked once the reader
// has acknowledged every record within it. It is valid whether or not the
// file is currently held open by a reference.
func (r *fileRegistry) delete(id uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rf, ok := r.open[id]; ok {
		delete(r.open, id)
		return rf.file.Delete()
	}

	path := datafile.Path(r.dir, id)
	f, err := datafile.Open(path, id, r.maxSize)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil
		}
		return err
	}
	return f.Delete()
}
