package prober

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// PingResult is the reachability half of a report.
type PingResult struct {
	Success    bool          `json:"success"`
	Latency    time.Duration `json:"latency"`
	PacketLoss float64       `json:"packet_loss"`
	Error      string        `json:"error,omitempty"`
}

// Pinger checks whether a host answers.
type Pinger interface {
	Ping(ctx context.Context, host string) PingResult
}

// ICMPPinger sends echo requests with pro-bing. Unprivileged mode uses UDP
// datagram sockets and needs net.ipv4.ping_group_range on Linux.
type ICMPPinger struct {
	Count      int
	Timeout    time.Duration
	Privileged bool
}

// Ping implements Pinger.
func (p ICMPPinger) Ping(ctx context.Context, host string) PingResult {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return PingResult{Error: fmt.Sprintf("failed to resolve %s: %v", host, err)}
	}

	count := p.Count
	if count <= 0 {
		count = 3
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pinger.Count = count
	pinger.Timeout = timeout
	pinger.Interval = 200 * time.Millisecond
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return PingResult{Error: fmt.Sprintf("ping failed: %v", err)}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return PingResult{PacketLoss: stats.PacketLoss, Error: fmt.Sprintf("no reply from %s", host)}
	}

	return PingResult{
		Success:    true,
		Latency:    stats.AvgRtt,
		PacketLoss: stats.PacketLoss,
	}
}
