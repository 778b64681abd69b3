package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"call-console/internal/audit"
	"call-console/internal/reconciler"
	"call-console/pkg/utils"
)

var (
	ErrNoCall        = errors.New("dispatch: no call in the required state")
	ErrDialCapFull   = errors.New("dispatch: concurrent dial limit reached")
	ErrGatewayFailed = errors.New("dispatch: gateway rejected the command")
)

// GatewayClient is the call-control surface the dispatcher needs from the
// gateway. *Gateway satisfies it; tests substitute a stub.
type GatewayClient interface {
	Initiate(ctx context.Context, cli, agentNumber, destination string) (Response, error)
	Answer(ctx context.Context, callID, agentNumber string) (Response, error)
	Disconnect(ctx context.Context, callID string) (Response, error)
	HoldOrResume(ctx context.Context, callID string, hold bool) (Response, error)
	Conference(ctx context.Context, callID, participant string) (Response, error)
}

// StateSink is the slice of the reconciler the dispatcher drives.
type StateSink interface {
	InboundSnapshot() (reconciler.Snapshot, bool)
	OutboundSnapshot() (reconciler.Snapshot, bool)
	StartOutbound(ctx context.Context, callID, destination string) reconciler.Snapshot
	OnActionResult(ctx context.Context, res reconciler.ActionResult)
}

// ActionLogger records operator-initiated transitions. *audit.Service
// satisfies it.
type ActionLogger interface {
	LogAction(ctx context.Context, workspaceID, actorUserID, referenceID, cli, aParty, bParty string, status audit.Status) error
}

// Config tunes dispatcher behavior.
type Config struct {
	// MaxConcurrentDials caps simultaneous outbound calls per workspace.
	// Zero disables the cap.
	MaxConcurrentDials int
	// DialSlotTTL bounds how long a leaked slot can linger after a crash.
	DialSlotTTL time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.DialSlotTTL <= 0 {
		out.DialSlotTTL = 2 * time.Minute
	}
	return out
}

// Dispatcher translates operator commands into gateway calls and feeds the
// gateway's tri-state responses back into the reconciler.
//
// Invariants:
// - A gateway failure (any status other than 1 or 2) changes no local state.
// - Status 2 clears local state exactly like a stream termination would.
// - Every applied action is recorded in the transition log.
type Dispatcher struct {
	gw    GatewayClient
	state StateSink
	audit ActionLogger
	op    reconciler.Operator
	rdb   *redis.Client
	cfg   Config
	log   *slog.Logger
}

func New(gw GatewayClient, state StateSink, logger ActionLogger, op reconciler.Operator, rdb *redis.Client, cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{gw: gw, state: state, audit: logger, op: op, rdb: rdb, cfg: cfg.withDefaults(), log: log}
}

func (d *Dispatcher) dialSlotKey() string {
	return "dial:slots:" + d.op.WorkspaceID
}

// Dial places an outbound call to destination.
func (d *Dispatcher) Dial(ctx context.Context, destination string) (reconciler.Snapshot, error) {
	if destination == "" {
		return reconciler.Snapshot{}, fmt.Errorf("dispatch: destination is required")
	}
	if _, busy := d.state.OutboundSnapshot(); busy {
		return reconciler.Snapshot{}, fmt.Errorf("dispatch: an outbound call is already tracked")
	}

	if d.rdb != nil && d.cfg.MaxConcurrentDials > 0 {
		ok, err := utils.AcquireConcurrencyCap(ctx, d.rdb, d.dialSlotKey(), d.cfg.MaxConcurrentDials, d.cfg.DialSlotTTL)
		if err != nil {
			return reconciler.Snapshot{}, err
		}
		if !ok {
			return reconciler.Snapshot{}, ErrDialCapFull
		}
	}

	resp, err := d.gw.Initiate(ctx, d.op.VirtualNumber, d.op.AgentNumber, destination)
	if err != nil || resp.Status != StatusSuccess {
		d.releaseDialSlot(ctx)
		if err != nil {
			return reconciler.Snapshot{}, err
		}
		return reconciler.Snapshot{}, fmt.Errorf("%w: initiate status %d %s", ErrGatewayFailed, resp.Status, resp.Message)
	}

	snap := d.state.StartOutbound(ctx, resp.CallID, destination)
	d.logAction(ctx, audit.StatusInitiate, snap, reconciler.DirectionOutbound)
	return snap, nil
}

// Accept answers the ringing inbound call.
func (d *Dispatcher) Accept(ctx context.Context) error {
	snap, ok := d.state.InboundSnapshot()
	if !ok || snap.Status != reconciler.StatusRinging {
		return ErrNoCall
	}

	resp, err := d.gw.Answer(ctx, snap.CallID, d.op.AgentNumber)
	if err != nil {
		return err
	}
	return d.apply(ctx, resp, reconciler.ActionAccept, reconciler.DirectionInbound, snap, audit.StatusAccept)
}

// Reject declines the ringing inbound call.
func (d *Dispatcher) Reject(ctx context.Context) error {
	snap, ok := d.state.InboundSnapshot()
	if !ok || snap.Status != reconciler.StatusRinging {
		return ErrNoCall
	}

	resp, err := d.gw.Disconnect(ctx, snap.CallID)
	if err != nil {
		return err
	}
	return d.apply(ctx, resp, reconciler.ActionReject, reconciler.DirectionInbound, snap, audit.StatusReject)
}

// Hold parks the remote party of the connected call.
func (d *Dispatcher) Hold(ctx context.Context) error {
	return d.holdOrResume(ctx, true)
}

// Resume takes the remote party off hold.
func (d *Dispatcher) Resume(ctx context.Context) error {
	return d.holdOrResume(ctx, false)
}

func (d *Dispatcher) holdOrResume(ctx context.Context, hold bool) error {
	snap, dir, ok := d.connectedCall()
	if !ok {
		return ErrNoCall
	}

	resp, err := d.gw.HoldOrResume(ctx, snap.CallID, hold)
	if err != nil {
		return err
	}
	action, status := reconciler.ActionResume, audit.StatusResume
	if hold {
		action, status = reconciler.ActionHold, audit.StatusHold
	}
	return d.apply(ctx, resp, action, dir, snap, status)
}

// Conference adds a third participant to the connected call.
func (d *Dispatcher) Conference(ctx context.Context, participant string) error {
	if participant == "" {
		return fmt.Errorf("dispatch: participant is required")
	}
	snap, dir, ok := d.connectedCall()
	if !ok {
		return ErrNoCall
	}

	resp, err := d.gw.Conference(ctx, snap.CallID, participant)
	if err != nil {
		return err
	}
	return d.apply(ctx, resp, reconciler.ActionConference, dir, snap, audit.StatusConference)
}

// Hangup disconnects the active call, outbound first.
func (d *Dispatcher) Hangup(ctx context.Context) error {
	snap, ok := d.state.OutboundSnapshot()
	dir := reconciler.DirectionOutbound
	if !ok {
		snap, ok = d.state.InboundSnapshot()
		dir = reconciler.DirectionInbound
	}
	if !ok {
		return ErrNoCall
	}

	resp, err := d.gw.Disconnect(ctx, snap.CallID)
	if err != nil {
		return err
	}
	return d.apply(ctx, resp, reconciler.ActionDisconnect, dir, snap, audit.StatusDisconnect)
}

// apply routes the gateway's tri-state response into the reconciler.
func (d *Dispatcher) apply(ctx context.Context, resp Response, action reconciler.Action, dir reconciler.Direction, snap reconciler.Snapshot, status audit.Status) error {
	switch resp.Status {
	case StatusSuccess:
		d.state.OnActionResult(ctx, reconciler.ActionResult{
			Action:        action,
			Direction:     dir,
			CallID:        snap.CallID,
			GatewayStatus: resp.Status,
		})
		d.logAction(ctx, status, snap, dir)
		return nil
	case StatusRemoteEnded:
		// The remote party beat us to it. Local state clears; the action
		// itself is not logged because it never applied.
		d.state.OnActionResult(ctx, reconciler.ActionResult{
			Action:        action,
			Direction:     dir,
			CallID:        snap.CallID,
			GatewayStatus: resp.Status,
		})
		return nil
	default:
		return fmt.Errorf("%w: %s status %d %s", ErrGatewayFailed, action, resp.Status, resp.Message)
	}
}

func (d *Dispatcher) connectedCall() (reconciler.Snapshot, reconciler.Direction, bool) {
	if snap, ok := d.state.InboundSnapshot(); ok && snap.Status == reconciler.StatusConnected {
		return snap, reconciler.DirectionInbound, true
	}
	if snap, ok := d.state.OutboundSnapshot(); ok && snap.Status == reconciler.StatusConnected {
		return snap, reconciler.DirectionOutbound, true
	}
	return reconciler.Snapshot{}, "", false
}

func (d *Dispatcher) logAction(ctx context.Context, status audit.Status, snap reconciler.Snapshot, dir reconciler.Direction) {
	if d.audit == nil {
		return
	}
	aParty, bParty := snap.Counterparty, d.op.AgentNumber
	if dir == reconciler.DirectionOutbound {
		aParty, bParty = d.op.AgentNumber, snap.Counterparty
	}
	if err := d.audit.LogAction(ctx, d.op.WorkspaceID, d.op.UserID, snap.CallID, d.op.VirtualNumber, aParty, bParty, status); err != nil {
		d.log.Warn("action transition log failed", "status", status, "call_id", snap.CallID, "err", err)
	}
}

// Notify releases the dial slot once the outbound call leaves tracking. The
// dispatcher is registered as a reconciler observer for exactly this.
//
// Observers run on the reconciler's event path and must not block, so the
// redis release runs on a detached goroutine with its own deadline.
func (d *Dispatcher) Notify(n reconciler.Notification) {
	// KindOutboundEnded is followed by KindOutboundCleared when the slot
	// actually empties, so only the latter releases.
	if n.Kind != reconciler.KindOutboundCleared {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.releaseDialSlot(ctx)
	}()
}

func (d *Dispatcher) releaseDialSlot(ctx context.Context) {
	if d.rdb == nil || d.cfg.MaxConcurrentDials <= 0 {
		return
	}
	if err := utils.ReleaseConcurrencyCap(ctx, d.rdb, d.dialSlotKey()); err != nil {
		d.log.Warn("dial slot release failed", "err", err)
	}
}

var _ reconciler.Observer = (*Dispatcher)(nil)
