// Package merge reconciles a local and a remote task collection with
// per-task last-write-wins.
package merge

import (
	"time"

	"github.com/harrisonrobin/wurk2do/pkg/model"
)

// Stats counts what a merge did, for logging.
type Stats struct {
	// RemoteOnly tasks came only from the remote side.
	RemoteOnly int
	// LocalOnly tasks were new on the local side and appended.
	LocalOnly int
	// LocalWins counts shared tasks where the local version was kept (newer or tied).
	LocalWins int
	// RemoteWins counts shared tasks where the remote version was strictly newer.
	RemoteWins int
}

// Merge combines local and remote without dropping any task.
//
// A nil remote returns local unchanged and a local without any task returns
// remote unchanged, so an empty new device never wipes existing cloud data.
// Otherwise each weekday is rebuilt from the remote tasks in remote order, then
// local tasks either replace their remote twin when local.LastModified >=
// remote.LastModified (ties go to local) or are appended when new.
//
// The result is stamped with now and a mergedAt marker even when no task
// changed, so its checksum never matches either input.
func Merge(local, remote *model.WeeklyTaskCollection, now time.Time) (*model.WeeklyTaskCollection, Stats) {
	var stats Stats
	if remote == nil {
		return local, stats
	}
	if local == nil || local.TaskCount() == 0 {
		return remote, stats
	}

	merged := &model.WeeklyTaskCollection{
		Tasks:        make(model.Schedule, len(model.Weekdays)),
		LastModified: model.Millis(now),
		MergedAt:     now.UTC().Format(time.RFC3339Nano),
	}

	for _, day := range model.Weekdays {
		remoteTasks := remote.Tasks[day]
		localTasks := local.Tasks[day]
		order := make([]string, 0, len(remoteTasks)+len(localTasks))
		byID := make(map[string]model.TaskRecord, len(remoteTasks)+len(localTasks))

		// 1. Seed the working set from remote, keeping remote order.
		for _, task := range remoteTasks {
			if _, seen := byID[task.ID]; !seen {
				order = append(order, task.ID)
			}
			byID[task.ID] = task
		}

		// 2. Overlay local tasks.
		localIDs := make(map[string]bool, len(localTasks))
		for _, task := range localTasks {
			localIDs[task.ID] = true
			existing, ok := byID[task.ID]
			switch {
			case !ok:
				order = append(order, task.ID)
				byID[task.ID] = task
				stats.LocalOnly++
			case task.LastModified >= existing.LastModified:
				byID[task.ID] = task
				stats.LocalWins++
			default:
				stats.RemoteWins++
			}
		}
		for _, task := range remoteTasks {
			if !localIDs[task.ID] {
				stats.RemoteOnly++
			}
		}

		// 3. Emit in working-set order.
		out := make([]model.TaskRecord, 0, len(order))
		for _, id := range order {
			out = append(out, byID[id])
		}
		merged.Tasks[day] = out
	}

	return merged, stats
}
