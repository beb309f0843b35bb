// Package syncer reconciles the local task collection with its remote copy.
//
// A Session is built at sign-in and closed at sign-out. It owns everything
// that lives only as long as the signed-in account: the identity, the remote
// client with its cached handle and upload hash, the status and the
// auto-sync loop.
package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/harrisonrobin/wurk2do/pkg/merge"
	"github.com/harrisonrobin/wurk2do/pkg/model"
)

// State is the orchestrator state reported to the user.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Store is the local collection the session reads and replaces wholesale.
type Store interface {
	Snapshot() *model.WeeklyTaskCollection
	LoadData(c *model.WeeklyTaskCollection)
}

// Remote locates the remote document and moves payloads in and out of it.
type Remote interface {
	LocateOrCreate(ctx context.Context, initial *model.WeeklyTaskCollection) (*model.RemoteFileHandle, error)
	Download(ctx context.Context, h *model.RemoteFileHandle) (string, error)
	Upload(ctx context.Context, h *model.RemoteFileHandle, c *model.WeeklyTaskCollection) (skipped bool, err error)
	Reset()
}

// Decoder turns a downloaded wire payload into a collection.
type Decoder interface {
	DecodeCollection(wire, identity string, now time.Time) (*model.WeeklyTaskCollection, error)
}

// keyForgetter is implemented by decoders that cache identity-derived keys.
type keyForgetter interface {
	Forget()
}

// Status is a snapshot of the session's sync state.
type Status struct {
	State            State
	Identity         string
	LastSync         time.Time
	LastError        string
	LastLocalChange  time.Time
	LastDownloadHash string
}

// Result describes what one sync pass did.
type Result struct {
	// Dropped is set when another pass was already running or the session
	// has no identity; nothing else happened.
	Dropped bool
	// Unchanged is set when local and remote checksums matched.
	Unchanged     bool
	RemoteAbsent  bool
	LocalReplaced bool
	Uploaded      bool
	UploadSkipped bool
	Stats         merge.Stats
}

// Options configures a Session.
type Options struct {
	Store    Store
	Remote   Remote
	Codec    Decoder
	Identity string
	Logger   log.FieldLogger
	Clock    func() time.Time
}

// Session is one signed-in sync context.
type Session struct {
	store    Store
	remote   Remote
	codec    Decoder
	identity string
	log      log.FieldLogger
	now      func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	status Status
	closed bool
	stop   context.CancelFunc
	done   chan struct{}
}

// NewSession returns an idle session for the signed-in identity.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		store:    opts.Store,
		remote:   opts.Remote,
		codec:    opts.Codec,
		identity: opts.Identity,
		log:      logger.WithField("component", "syncer"),
		now:      clock,
		status: Status{
			State:    StateIdle,
			Identity: opts.Identity,
		},
	}
}

// Status returns the current sync status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MarkDirty records a local change. It never triggers network activity.
func (s *Session) MarkDirty() {
	s.mu.Lock()
	s.status.LastLocalChange = s.now()
	s.mu.Unlock()
}

// LastLocalChange returns when MarkDirty was last called.
func (s *Session) LastLocalChange() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.LastLocalChange
}

// StartAutoSync runs a sync pass every interval until ctx is cancelled or the
// session is closed. onResult, when set, is called after every pass that was
// not dropped. Calling it again replaces the running loop.
func (s *Session) StartAutoSync(ctx context.Context, interval time.Duration, onResult func(Result, error)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopAutoSyncLocked()
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stop = cancel
	s.done = done
	s.mu.Unlock()

	s.log.WithField("interval", interval).Info("Auto-sync started")
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				res, err := s.Sync(loopCtx)
				if onResult != nil && !res.Dropped {
					onResult(res, err)
				}
			}
		}
	}()
}

// StopAutoSync stops the auto-sync loop and waits for it to exit.
func (s *Session) StopAutoSync() {
	s.mu.Lock()
	done := s.stopAutoSyncLocked()
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Session) stopAutoSyncLocked() chan struct{} {
	if s.stop == nil {
		return nil
	}
	s.stop()
	done := s.done
	s.stop = nil
	s.done = nil
	return done
}

// Close ends the session: auto-sync stops, the remote caches and derived keys
// are dropped, and the status returns to idle without an identity. Later Sync
// calls are dropped. A pass still in flight finishes without recording its
// outcome.
func (s *Session) Close() {
	s.StopAutoSync()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.identity = ""
	s.status = Status{State: StateIdle}
	s.mu.Unlock()

	if s.remote != nil {
		s.remote.Reset()
	}
	if f, ok := s.codec.(keyForgetter); ok {
		f.Forget()
	}
	s.log.Info("Session closed")
}
