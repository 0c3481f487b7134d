package telemetry

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/docker/keytrail/pkg/event"
	"github.com/docker/keytrail/pkg/queue"
	"github.com/docker/keytrail/pkg/session"
	"github.com/docker/keytrail/pkg/stats"
	"github.com/docker/keytrail/pkg/transport"
)

const sessionLookupTimeout = 2 * time.Second

// Payload is the business payload carried, serialized, in the envelope data.
type Payload struct {
	Statistics    stats.Snapshot   `json:"statistics"`
	Events        []event.Event    `json:"events"`
	DroppedEvents queue.DropCounts `json:"dropped_events"`
	User          session.Info     `json:"user"`
	Client        ClientInfo       `json:"client"`
}

// ClientInfo describes the reporting install.
type ClientInfo struct {
	Version    string `json:"version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	OSLanguage string `json:"os_language"`
}

func systemInfo(version string) ClientInfo {
	return ClientInfo{
		Version:    version,
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		OSLanguage: cmp.Or(os.Getenv("LANG"), "en-US"),
	}
}

// lookupUser asks the session provider for the current identity and falls
// back to the environment when it fails or takes too long.
func (c *Client) lookupUser(ctx context.Context) session.Info {
	if c.sessions == nil {
		return session.EnvironmentInfo()
	}

	ctx, cancel := context.WithTimeout(ctx, sessionLookupTimeout)
	defer cancel()

	info, err := c.sessions.Lookup(ctx)
	if err != nil || info.Identity == "" {
		c.logger.Debug("Session lookup failed, using environment identity", "error", err)
		return session.EnvironmentInfo()
	}
	return info
}

// buildEnvelope composes the outbound request for one drained batch.
func (c *Client) buildEnvelope(ctx context.Context, snap stats.Snapshot, batch []event.Event, dropped queue.DropCounts) (*transport.Envelope, error) {
	user := c.lookupUser(ctx)

	data, err := json.Marshal(Payload{
		Statistics:    snap,
		Events:        batch,
		DroppedEvents: dropped,
		User:          user,
		Client:        systemInfo(c.version),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &transport.Envelope{
		Data:      string(data),
		DeviceID:  c.deviceID,
		Identity:  user.Identity,
		Channel:   transport.Channel,
		Timestamp: c.clock.Now("telemetry", "envelope").UnixMilli(),
	}, nil
}
