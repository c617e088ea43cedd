package session

import (
	"context"
	"sync"
	"time"

	"github.com/streetpano/measuresync/internal/registry"
)

const noDocument = "No document loaded"

// Context holds the current document session and its measurement registry.
type Context struct {
	mu       sync.RWMutex
	document string
	mapSRS   int
	started  time.Time
	list     *registry.List
}

// NewContext creates a new Context with no document loaded
func NewContext() *Context {
	return &Context{document: noDocument}
}

// Begin starts a session for document. A running session is ended first so
// its targeted measurements are written back.
func (sc *Context) Begin(ctx context.Context, document string, mapSRS int, deps registry.Dependencies) *registry.List {
	sc.End(ctx)

	list := registry.New(deps)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.document = document
	sc.mapSRS = mapSRS
	sc.started = time.Now().UTC()
	sc.list = list
	return list
}

// End removes every measurement of the running session. It is a no-op
// without a session.
func (sc *Context) End(ctx context.Context) {
	sc.mu.Lock()
	list := sc.list
	sc.list = nil
	sc.document = noDocument
	sc.mapSRS = 0
	sc.started = time.Time{}
	sc.mu.Unlock()

	if list != nil {
		list.RemoveAllMeasurements(ctx)
	}
}

// Active reports whether a session is running.
func (sc *Context) Active() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.list != nil
}

// Document returns the current document name
func (sc *Context) Document() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.document
}

// MapSRS returns the spatial reference of the current document's map
func (sc *Context) MapSRS() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.mapSRS
}

// Started returns when the current session began
func (sc *Context) Started() time.Time {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.started
}

// List returns the registry of the running session, or nil.
func (sc *Context) List() *registry.List {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.list
}
