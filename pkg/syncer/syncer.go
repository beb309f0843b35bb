package syncer

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/harrisonrobin/wurk2do/pkg/checksum"
	"github.com/harrisonrobin/wurk2do/pkg/merge"
	"github.com/harrisonrobin/wurk2do/pkg/model"
)

// Sync runs one pass: locate, download, compare, merge, write back. A trigger
// that arrives while another pass is running is dropped, not queued.
//
// On failure the status moves to error with the message recorded and the
// local store is left as it was.
func (s *Session) Sync(ctx context.Context) (Result, error) {
	s.mu.Lock()
	identity := s.identity
	closed := s.closed
	s.mu.Unlock()
	if closed || identity == "" {
		s.log.Debug("Sync skipped, not signed in")
		return Result{Dropped: true}, nil
	}

	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("Sync already in progress, trigger dropped")
		return Result{Dropped: true}, nil
	}
	defer s.running.Store(false)

	s.setState(StateSyncing, "")
	res, err := s.run(ctx, identity)

	s.mu.Lock()
	if s.closed {
		s.status = Status{State: StateIdle}
		s.mu.Unlock()
		s.remote.Reset()
		s.log.Debug("Session closed during sync, result discarded")
		return res, err
	}
	if err != nil {
		s.status.State = StateError
		s.status.LastError = err.Error()
	} else {
		s.status.State = StateSuccess
		s.status.LastError = ""
		s.status.LastSync = s.now()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Error("Sync failed")
		return res, err
	}
	s.log.Info("Sync completed")
	return res, nil
}

func (s *Session) run(ctx context.Context, identity string) (Result, error) {
	var res Result
	local := s.store.Snapshot()

	h, err := s.remote.LocateOrCreate(ctx, local)
	if err != nil {
		return res, fmt.Errorf("failed to locate remote file: %w", err)
	}

	var remote *model.WeeklyTaskCollection
	wire, err := s.remote.Download(ctx, h)
	if err != nil {
		s.log.WithError(err).Warn("Download failed, treating remote as absent")
	} else {
		remote, err = s.codec.DecodeCollection(wire, identity, s.now())
		if err != nil {
			return res, fmt.Errorf("failed to decode remote data: %w", err)
		}
		if sum, err := checksum.Collection(remote); err == nil {
			s.mu.Lock()
			s.status.LastDownloadHash = sum
			s.mu.Unlock()
		}
	}
	res.RemoteAbsent = remote == nil

	localSum := checksum.Quick(local)
	remoteSum := checksum.Quick(remote)
	if remote != nil && localSum == remoteSum {
		s.log.Info("Local and remote are identical, nothing to do")
		res.Unchanged = true
		return res, nil
	}

	merged, stats := merge.Merge(local, remote, s.now())
	res.Stats = stats
	s.log.WithFields(log.Fields{
		"remote_only": stats.RemoteOnly,
		"local_only":  stats.LocalOnly,
		"local_wins":  stats.LocalWins,
		"remote_wins": stats.RemoteWins,
	}).Info("Merged local and remote")

	mergedSum := checksum.Quick(merged)
	if mergedSum != localSum {
		s.store.LoadData(merged)
		res.LocalReplaced = true
		s.log.Info("Local data replaced with merged result")
	}

	if remote == nil || mergedSum != remoteSum {
		skipped, err := s.remote.Upload(ctx, h, merged)
		if err != nil {
			if res.LocalReplaced {
				s.store.LoadData(local)
				res.LocalReplaced = false
				s.log.Warn("Upload failed, local data restored")
			}
			return res, fmt.Errorf("failed to upload merged data: %w", err)
		}
		if skipped {
			res.UploadSkipped = true
			s.log.Info("Upload skipped, content unchanged since last upload")
		} else {
			res.Uploaded = true
			s.log.Info("Uploaded merged data")
		}
	}
	return res, nil
}

func (s *Session) setState(state State, msg string) {
	s.mu.Lock()
	s.status.State = state
	s.status.LastError = msg
	s.mu.Unlock()
}
