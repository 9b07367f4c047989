package podstate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"podlink/internal/att"
	"podlink/internal/capture"
	"podlink/internal/hearing"
)

// ErrNoATT is returned by the hearing accessors when no ATT channel is open.
var ErrNoATT = errors.New("podstate: ATT not connected")

var hearingHandles = []att.Handle{
	att.HandleTransparency,
	att.HandleLoudSoundReduction,
	att.HandleHearingAid,
}

func (c *Coordinator) connectATT(ctx context.Context, mac string) error {
	conn, err := c.dial(mac, att.PSM)
	if err != nil {
		return fmt.Errorf("failed to open ATT channel: %w", err)
	}

	opts := append([]att.Option{att.WithLogger(c.logger)}, c.attOpts...)
	if c.recorder != nil {
		opts = append(opts, att.WithTap(c.recorder.Connection(capture.ProtocolATT, mac).Packet))
	}
	client := att.NewClient(conn, opts...)

	for _, h := range hearingHandles {
		client.Subscribe(h, c.handleHearing)
	}

	c.mu.Lock()
	c.attClient = client
	c.mu.Unlock()

	if value, err := client.Read(ctx, att.HandleTransparency); err != nil {
		c.logger.Warn("transparency read failed", zap.Error(err))
	} else {
		c.handleHearing(att.HandleTransparency, value)
	}

	for _, h := range hearingHandles {
		if err := client.EnableNotifications(ctx, h); err != nil {
			return fmt.Errorf("failed to enable notifications on %s: %w", h, err)
		}
	}
	return nil
}

// handleHearing stores a read or notified hearing characteristic.
func (c *Coordinator) handleHearing(handle att.Handle, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch handle {
	case att.HandleTransparency:
		var t *hearing.Transparency
		if t, err = hearing.ParseTransparency(value); err == nil {
			c.transparency = t
		}
	case att.HandleHearingAid:
		var h *hearing.HearingAid
		if h, err = hearing.ParseHearingAid(value); err == nil {
			c.hearingAid = h
		}
	case att.HandleLoudSoundReduction:
		var on bool
		if on, err = hearing.ParseLoudSoundReduction(value); err == nil {
			c.loudSoundReduction = &on
		}
	}
	if err != nil {
		c.logger.Warn("dropping hearing value", zap.Stringer("handle", handle), zap.Error(err))
	}
}

func (c *Coordinator) currentATT() (*att.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.attClient == nil {
		return nil, ErrNoATT
	}
	return c.attClient, nil
}

// Transparency returns a copy of the last transparency block seen.
func (c *Coordinator) Transparency() (*hearing.Transparency, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.transparency == nil {
		return nil, false
	}
	t := *c.transparency
	return &t, true
}

// HearingAid returns a copy of the last hearing aid block seen.
func (c *Coordinator) HearingAid() (*hearing.HearingAid, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hearingAid == nil {
		return nil, false
	}
	h := *c.hearingAid
	return &h, true
}

// LoudSoundReduction returns the last loud sound reduction state seen.
func (c *Coordinator) LoudSoundReduction() (on bool, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loudSoundReduction == nil {
		return false, false
	}
	return *c.loudSoundReduction, true
}

// SetTransparency writes t and keeps it as the current block.
func (c *Coordinator) SetTransparency(ctx context.Context, t *hearing.Transparency) error {
	client, err := c.currentATT()
	if err != nil {
		return err
	}
	if err := client.Write(ctx, att.HandleTransparency, t.Marshal()); err != nil {
		return fmt.Errorf("failed to write transparency: %w", err)
	}
	c.mu.Lock()
	c.transparency = t
	c.mu.Unlock()
	return nil
}

// SetHearingAid writes h and keeps it as the current block.
func (c *Coordinator) SetHearingAid(ctx context.Context, h *hearing.HearingAid) error {
	client, err := c.currentATT()
	if err != nil {
		return err
	}
	if err := client.Write(ctx, att.HandleHearingAid, h.Marshal()); err != nil {
		return fmt.Errorf("failed to write hearing aid: %w", err)
	}
	c.mu.Lock()
	c.hearingAid = h
	c.mu.Unlock()
	return nil
}

// SetLoudSoundReduction switches loud sound reduction.
func (c *Coordinator) SetLoudSoundReduction(ctx context.Context, on bool) error {
	client, err := c.currentATT()
	if err != nil {
		return err
	}
	if err := client.Write(ctx, att.HandleLoudSoundReduction, hearing.LoudSoundReduction(on)); err != nil {
		return fmt.Errorf("failed to write loud sound reduction: %w", err)
	}
	c.mu.Lock()
	c.loudSoundReduction = &on
	c.mu.Unlock()
	return nil
}
