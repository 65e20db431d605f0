// Package wol wakes the machine that hosts the storage root.
package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatFunc allows mocking the storage path check.
type StatFunc func(path string) (os.FileInfo, error)

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient  Client
	httpClient HTTPClient
	stat       StatFunc
	logger     zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		stat:   os.Stat,
		logger: logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, httpClient HTTPClient, stat StatFunc) *Impl {
	if stat == nil {
		stat = os.Stat
	}
	return &Impl{
		wolClient:  wolClient,
		httpClient: httpClient,
		stat:       stat,
		logger:     logger,
	}
}

// Wake sends a WOL packet and waits until the storage host answers on
// PollURL and StoragePath exists, whichever of them are configured.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is reported in the result
	}
	result.PacketSent = true

	if cfg.PollURL == "" && cfg.StoragePath == "" {
		result.WaitDuration = time.Since(start)
		result.TargetReady = true
		return result, nil
	}

	s.logger.Info().
		Str("url", cfg.PollURL).
		Str("storage_path", cfg.StoragePath).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for storage host")

	attempts, err := s.waitForTarget(ctx, cfg)
	result.Attempts = attempts
	if err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is reported in the result
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Str("wait", cfg.StabilizeWait.Round(time.Millisecond).String()).Msg("waiting for storage host to stabilize")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.TargetReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().
		Int("attempts", result.Attempts).
		Dur("duration", result.WaitDuration).
		Msg("storage host is ready")

	return result, nil
}

func (s *Impl) waitForTarget(ctx context.Context, cfg models.WOLConfig) (int, error) {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	maxRetries := uint64(cfg.Timeout / interval)

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxRetries), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return s.probe(ctx, cfg)
	}, b, func(err error, next time.Duration) {
		s.logger.Debug().Err(err).Dur("next", next).Msg("storage host not ready yet")
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempts, ctxErr
		}
		return attempts, fmt.Errorf("timeout waiting for storage host: %w", err)
	}
	return attempts, nil
}

// probe succeeds once every configured readiness check passes.
func (s *Impl) probe(ctx context.Context, cfg models.WOLConfig) error {
	if cfg.PollURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s unreachable: %w", cfg.PollURL, err)
		}
		// Any response means the host is up.
		_ = resp.Body.Close()
	}

	if cfg.StoragePath != "" {
		info, err := s.stat(cfg.StoragePath)
		if err != nil {
			return fmt.Errorf("storage path %s: %w", cfg.StoragePath, err)
		}
		if !info.IsDir() {
			return errors.New("storage path is not a directory")
		}
	}

	return nil
}
