// Package session implements the connection/session model of spec
// §5: one process-wide connection owning the cache and its eviction
// thread, and an unbounded number of session handles each carrying
// its own hazard-reference array and scratch-buffer arena. Grounded
// on the teacher's internal/storage/concurrency.go (the
// goroutine+channel WorkerPool this package's background eviction
// goroutine descends from) and internal/driver's connection-handle
// pattern, using github.com/google/uuid for session identity and
// github.com/valyala/bytebufferpool for scratch buffers per DESIGN
// NOTES "Scratch buffers".
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"github.com/duskcask/wtcore/internal/wtcore/btree"
	"github.com/duskcask/wtcore/internal/wtcore/cache"
	"github.com/duskcask/wtcore/internal/wtcore/config"
	"github.com/duskcask/wtcore/internal/wtcore/errs"
	"github.com/duskcask/wtcore/internal/wtcore/hazard"
	"github.com/duskcask/wtcore/internal/wtcore/page"
)

// Connection is the per-process singleton of spec §5 ("The per-process
// connection list and default session are a singleton. In the
// rewrite, express this as an explicit handle passed to every entry
// point; avoid ambient state."), made explicit here rather than held
// in package-level globals.
type Connection struct {
	cfg   config.ConnectionConfig
	cache *cache.Cache

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	sessions   map[string]*Session
	nextTreeID uint32
}

// Open constructs a connection: its page cache and one dedicated
// eviction goroutine (spec §5 "Scheduling model").
func Open(cfg config.ConnectionConfig) (*Connection, error) {
	c, err := cache.New(cache.Config{
		MaxBytes:         cfg.CacheSize,
		TargetPct:        cfg.EvictionTarget,
		TriggerPct:       cfg.EvictionTrigger,
		CandidateBase:    100,
		CandidatePerFile: 20,
		RequestTableSize: 8,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{cfg: cfg, cache: c, cancel: cancel, sessions: map[string]*Session{}}
	conn.wg.Add(1)
	go func() {
		defer conn.wg.Done()
		c.Run(ctx)
	}()
	return conn, nil
}

// Close signals the eviction thread to drain outstanding requests and
// exit (spec §5 "Cancellation"), then waits for it to finish.
func (c *Connection) Close() {
	c.cancel()
	c.wg.Wait()
}

// OpenSession allocates a new session, enforcing session_max (spec
// §6 connection-level configuration).
func (c *Connection) OpenSession() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.SessionMax > 0 && len(c.sessions) >= c.cfg.SessionMax {
		return nil, errs.Wrap(errs.NoMemory, "session: session_max reached")
	}
	s := &Session{
		id:     uuid.NewString(),
		hazard: hazard.NewArray(c.cfg.HazardMax),
		conn:   c,
	}
	c.sessions[s.id] = s
	c.cache.RegisterHazardProvider(s)
	return s, nil
}

func (c *Connection) closeSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s.id)
	c.cache.UnregisterHazardProvider(s)
}

// CreateBTree creates a new B-tree file under this connection's cache
// (spec §4.6 "create").
func (c *Connection) CreateBTree(fileName string, btCfg config.BTreeConfig) (*btree.Handle, error) {
	c.mu.Lock()
	c.nextTreeID++
	id := c.nextTreeID
	c.mu.Unlock()
	return btree.Create(fileName, btCfg, c.cache, id)
}

// OpenBTree opens an existing B-tree file given its externally
// persisted root address cookie (spec §4.6 "open"; resolving the
// cookie from a URI is the schema/catalog layer's job, out of scope
// per spec §1).
func (c *Connection) OpenBTree(fileName string, btCfg config.BTreeConfig, rootAddr []byte, salvage bool) (*btree.Handle, error) {
	c.mu.Lock()
	c.nextTreeID++
	id := c.nextTreeID
	c.mu.Unlock()
	return btree.Open(fileName, btCfg, c.cache, id, rootAddr, salvage)
}

// Session is one application thread's handle into the connection: its
// own hazard-reference array and a scratch-buffer arena (spec §5,
// DESIGN NOTES "Scratch buffers").
type Session struct {
	id     string
	hazard *hazard.Array
	conn   *Connection

	scratchMu sync.Mutex
	scratch   []*bytebufferpool.ByteBuffer
}

// ID returns the session's UUID.
func (s *Session) ID() string { return s.id }

// Hazard returns the session's hazard-reference array.
func (s *Session) Hazard() *hazard.Array { return s.hazard }

// HazardHeld implements cache.HazardProvider: it reports whether this
// session currently holds a hazard reference to p (spec §4.4).
func (s *Session) HazardHeld(p *page.Page) bool { return s.hazard.Contains(p) }

// ScratchBuffer hands out a pooled, scoped temporary buffer; callers
// must pass it to ReleaseScratch when done (DESIGN NOTES "Scratch
// buffers": "a small arena per session that hands out scoped buffers
// released on function return").
func (s *Session) ScratchBuffer() *bytebufferpool.ByteBuffer {
	buf := bytebufferpool.Get()
	s.scratchMu.Lock()
	s.scratch = append(s.scratch, buf)
	s.scratchMu.Unlock()
	return buf
}

// ReleaseScratch returns buf to the pool.
func (s *Session) ReleaseScratch(buf *bytebufferpool.ByteBuffer) {
	bytebufferpool.Put(buf)
	s.scratchMu.Lock()
	for i, b := range s.scratch {
		if b == buf {
			s.scratch = append(s.scratch[:i], s.scratch[i+1:]...)
			break
		}
	}
	s.scratchMu.Unlock()
}

// Close waits for all of this session's hazard references to drop
// naturally, then removes it from the connection (spec §5
// "Cancellation": "A session close waits for all of its hazard
// references to drop naturally (they do, as cursors close)").
func (s *Session) Close() {
	for !s.hazard.Empty() {
		// hazard references are released by cursors closing
		// concurrently; spin until they do (spec §5).
	}
	s.conn.closeSession(s)
}
