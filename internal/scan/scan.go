// Package scan checks uploads for malware with ClamAV. Scanning fails open:
// any problem reaching clamd treats the upload as clean.
package scan

import (
	"context"
	"io"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/rs/zerolog"
)

// Scanner reports whether an upload is free of malware.
type Scanner interface {
	IsClean(ctx context.Context, r io.Reader) bool
}

// streamer is the part of the clamd client the scanner uses.
type streamer interface {
	ScanStream(r io.Reader, abort chan bool) (chan *clamd.ScanResult, error)
}

// ClamAV scans over a clamd socket.
type ClamAV struct {
	client  streamer
	timeout time.Duration
	log     zerolog.Logger
}

// NewClamAV creates a scanner for a clamd address such as tcp://host:3310.
func NewClamAV(address string, timeout time.Duration, log zerolog.Logger) *ClamAV {
	return &ClamAV{client: clamd.NewClamd(address), timeout: timeout, log: log}
}

// IsClean streams r to clamd. Only a FOUND result reports false.
func (c *ClamAV) IsClean(ctx context.Context, r io.Reader) bool {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	abort := make(chan bool)
	defer close(abort)

	results, err := c.client.ScanStream(r, abort)
	if err != nil {
		c.log.Debug().Err(err).Msg("malware scan unavailable, treating upload as clean")
		return true
	}

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return true
			}
			switch res.Status {
			case clamd.RES_FOUND:
				c.log.Warn().Str("signature", res.Description).Msg("malware found in upload")
				return false
			case clamd.RES_ERROR, clamd.RES_PARSE_ERROR:
				c.log.Debug().Str("raw", res.Raw).Msg("malware scan error, treating upload as clean")
				return true
			}
		case <-ctx.Done():
			c.log.Debug().Err(ctx.Err()).Msg("malware scan timed out, treating upload as clean")
			return true
		}
	}
}

// Disabled accepts every upload.
type Disabled struct{}

func (Disabled) IsClean(context.Context, io.Reader) bool { return true }
