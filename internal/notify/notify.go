// Package notify announces terminal job states to chat platforms. An
// unreachable platform never affects the run itself; announce failures
// are logged and dropped.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/jobs"
)

// Announcer posts a one-line terminal-job notice to one platform.
type Announcer interface {
	Platform() string
	Announce(ctx context.Context, job jobs.Job) error
	Close() error
}

// Notifier fans terminal-job announcements out to every registered
// platform.
type Notifier struct {
	announcers []Announcer
	logger     *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Register adds a platform announcer.
func (n *Notifier) Register(a Announcer) {
	n.announcers = append(n.announcers, a)
	n.logger.Info("registered notifier", zap.String("platform", a.Platform()))
}

// Enabled reports whether any platform is registered.
func (n *Notifier) Enabled() bool { return len(n.announcers) > 0 }

// Announce posts the job's terminal state to every platform.
func (n *Notifier) Announce(ctx context.Context, job jobs.Job) {
	for _, a := range n.announcers {
		if err := a.Announce(ctx, job); err != nil {
			n.logger.Warn("job announcement failed",
				zap.String("platform", a.Platform()),
				zap.String("job", job.ID),
				zap.Error(err))
		}
	}
}

// Close shuts down every platform connection.
func (n *Notifier) Close() {
	for _, a := range n.announcers {
		if err := a.Close(); err != nil {
			n.logger.Warn("notifier close failed",
				zap.String("platform", a.Platform()), zap.Error(err))
		}
	}
}

// message renders the shared one-line notice.
func message(job jobs.Job) string {
	switch job.Status {
	case jobs.StatusCompleted:
		return fmt.Sprintf("✅ job %s (team %s) completed %d/%d",
			job.ID, job.TeamID, job.Progress.Current, job.Progress.Total)
	case jobs.StatusCancelled:
		return fmt.Sprintf("🛑 job %s (team %s) cancelled", job.ID, job.TeamID)
	default:
		return fmt.Sprintf("❌ job %s (team %s) failed: %s", job.ID, job.TeamID, job.Error)
	}
}
