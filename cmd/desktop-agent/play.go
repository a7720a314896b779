package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"playback-control-plane/backend/internal/monitor"
)

const stopTimeout = 5 * time.Second

func newPlayCommand(g *globalFlags) *cobra.Command {
	var (
		fingerprint       string
		heartbeatInterval time.Duration
		pollInterval      time.Duration
		requestTimeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Open a desktop lease and hold it until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if fingerprint == "" {
				host, err := os.Hostname()
				if err != nil {
					return fmt.Errorf("derive fingerprint: %w", err)
				}
				fingerprint = "desktop-agent:" + host
			}
			client := monitor.NewHTTPClient(g.server, g.token)

			leaseID, err := client.StartSession(ctx)
			if errors.Is(err, monitor.ErrConflict) {
				return errors.New("playback blocked: " + monitor.ConflictMessage)
			}
			if err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			logger(ctx).Info().Str("lease_id", leaseID).Msg("playback started")

			player := &consolePlayer{}
			mon, err := monitor.New(client, player, monitor.Config{
				Interval:       pollInterval,
				CacheTTL:       pollInterval - pollInterval/6,
				RequestTimeout: requestTimeout,
				LeaseID:        leaseID,
				Policy:         monitor.DefaultFailurePolicy,
			}, monitor.WithNotifier(player), monitor.WithLogger(*logger(ctx)))
			if err != nil {
				return err
			}

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_ = mon.Run(ctx)
			}()
			go func() {
				defer wg.Done()
				heartbeatLoop(ctx, client, fingerprint, leaseID, heartbeatInterval)
			}()
			wg.Wait()

			// Graceful shutdown releases the lease at once instead of waiting for it to go stale.
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := client.StopHeartbeat(stopCtx, fingerprint, leaseID); err != nil {
				return fmt.Errorf("stop heartbeat: %w", err)
			}
			logger(ctx).Info().Str("lease_id", leaseID).Msg("playback stopped, lease released")
			return nil
		},
	}
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Installation fingerprint (defaults to one derived from the hostname)")
	cmd.Flags().DurationVar(&heartbeatInterval, "heartbeat-interval", 30*time.Second, "Heartbeat interval")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 30*time.Second, "Status poll interval")
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 5*time.Second, "Timeout of one status request")
	return cmd
}

// heartbeatLoop beats immediately and then every interval until ctx is done.
func heartbeatLoop(ctx context.Context, client *monitor.HTTPClient, fingerprint, leaseID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := client.Heartbeat(ctx, fingerprint, leaseID); err != nil && ctx.Err() == nil {
			logger(ctx).Warn().Err(err).Msg("heartbeat failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// consolePlayer stands in for a media player and reports state changes on stdout.
type consolePlayer struct {
	mu     sync.Mutex
	paused bool
}

func (p *consolePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *consolePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	fmt.Println("paused")
}

func (p *consolePlayer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	fmt.Println("resumed")
}

func (p *consolePlayer) Conflict(message string) {
	fmt.Println("conflict:", message)
}
