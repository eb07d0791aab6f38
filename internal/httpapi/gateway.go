package httpapi

import (
	"context"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

// Gateway is the slice of the manager client the API layer drives.
type Gateway interface {
	Ping(ctx context.Context) error
	Originate(ctx context.Context, req ami.OriginateRequest) error
	Hangup(ctx context.Context, channel string, cause int) error
	Redirect(ctx context.Context, req ami.RedirectRequest) error
	QueuePause(ctx context.Context, queue, iface string, paused bool, reason string) error
	QueueAdd(ctx context.Context, req ami.QueueAddRequest) error
	QueueRemove(ctx context.Context, queue, iface string) error
	QueueStatus(ctx context.Context, queue string) ([]ami.QueueInfo, error)
	Channels(ctx context.Context) ([]ami.ChannelInfo, error)
}

var _ Gateway = (*ami.Client)(nil)
