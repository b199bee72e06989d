// Package prober runs on-demand connectivity diagnostics for equipment. It
// never touches jobs or backups.
package prober

import (
	"context"
	"errors"
	"time"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/logging"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/transport"
)

// ProtocolResult is the handshake half of a report.
type ProtocolResult struct {
	Type      profile.ConnectionType `json:"type,omitempty"`
	Attempted bool                   `json:"attempted"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind backuperr.Kind         `json:"error_kind,omitempty"`
}

// Report is the outcome of one connectivity test.
type Report struct {
	EquipmentID string         `json:"equipment_id"`
	Profile     string         `json:"profile,omitempty"`
	Ping        PingResult     `json:"ping"`
	Protocol    ProtocolResult `json:"protocol"`
	TestedAt    time.Time      `json:"tested_at"`
}

// Prober pings equipment and performs a connect + authenticate handshake.
type Prober struct {
	pinger           Pinger
	opener           transport.Opener
	registry         *profile.Registry
	recorder         history.Recorder
	handshakeTimeout time.Duration
}

// New creates a Prober.
func New(pinger Pinger, opener transport.Opener, registry *profile.Registry, recorder history.Recorder, handshakeTimeout time.Duration) *Prober {
	if recorder == nil {
		recorder = history.Nop{}
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = 15 * time.Second
	}
	return &Prober{
		pinger:           pinger,
		opener:           opener,
		registry:         registry,
		recorder:         recorder,
		handshakeTimeout: handshakeTimeout,
	}
}

// Test always pings first, then attempts the protocol handshake when
// credentials for the resolved protocol are present.
func (p *Prober) Test(ctx context.Context, equipment *models.Equipment) Report {
	report := Report{EquipmentID: equipment.ID, TestedAt: time.Now().UTC()}

	report.Ping = p.pinger.Ping(ctx, equipment.Host)

	prof, ok := p.registry.Resolve(equipment.Type)
	if !ok {
		report.Protocol = ProtocolResult{Error: "unsupported equipment type", ErrorKind: backuperr.KindConfiguration}
		p.record(ctx, report)
		return report
	}
	report.Profile = prof.Name
	report.Protocol.Type = prof.ConnectionType

	if err := transport.CheckAccess(prof.ConnectionType, equipment); err != nil {
		report.Protocol.Error = err.Error()
		report.Protocol.ErrorKind = backuperr.KindConfiguration
		p.record(ctx, report)
		return report
	}

	report.Protocol.Attempted = true
	if err := p.handshake(ctx, prof, equipment); err != nil {
		report.Protocol.Error = err.Error()
		report.Protocol.ErrorKind = backuperr.KindOf(err)
	} else {
		report.Protocol.Success = true
	}

	p.record(ctx, report)
	return report
}

func (p *Prober) handshake(ctx context.Context, prof profile.Profile, equipment *models.Equipment) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.handshakeTimeout)
	defer cancel()

	session, err := p.opener.Open(prof, equipment)
	if err != nil {
		return backuperr.Configuration("prober.open", "%v", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = backuperr.Connectivity("prober.handshake", errors.New("handshake aborted"))
			logging.L().Error("probe_panic", "equipment_id", equipment.ID, "panic", r)
		}
		session.Close()
	}()

	if err := session.Connect(ctx); err != nil {
		return backuperr.Connectivity("prober.connect", err)
	}
	if err := session.Authenticate(ctx); err != nil {
		if errors.Is(err, transport.ErrAuthRejected) {
			return backuperr.Authentication("prober.authenticate", err)
		}
		return backuperr.Connectivity("prober.authenticate", err)
	}
	return nil
}

func (p *Prober) record(ctx context.Context, report Report) {
	status := models.HistorySuccess
	message := "connectivity test passed"
	switch {
	case !report.Protocol.Attempted:
		status = models.HistorySkipped
		message = "handshake skipped: " + report.Protocol.Error
	case !report.Protocol.Success:
		status = models.HistoryFailed
		message = "handshake failed: " + report.Protocol.Error
	}

	rec := &models.HistoryRecord{
		SubjectID: report.EquipmentID,
		Action:    models.ActionConnectivityTest,
		Status:    status,
		Message:   message,
		ErrorKind: string(report.Protocol.ErrorKind),
		Details: map[string]any{
			"ping_success": report.Ping.Success,
			"latency_ms":   report.Ping.Latency.Milliseconds(),
			"protocol":     string(report.Protocol.Type),
		},
	}
	if err := p.recorder.Record(ctx, rec); err != nil {
		logging.L().Warn("probe_history_failed", "equipment_id", report.EquipmentID, "error", err)
	}

	logging.L().Info("connectivity_tested",
		"equipment_id", report.EquipmentID,
		"ping_success", report.Ping.Success,
		"protocol", report.Protocol.Type,
		"protocol_success", report.Protocol.Success,
	)
}
