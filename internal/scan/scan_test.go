package scan

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeStreamer struct {
	results []*clamd.ScanResult
	err     error
	block   bool
}

func (f *fakeStreamer) ScanStream(r io.Reader, abort chan bool) (chan *clamd.ScanResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *clamd.ScanResult, len(f.results))
	for _, res := range f.results {
		ch <- res
	}
	if !f.block {
		close(ch)
	}
	return ch, nil
}

func newTestScanner(s streamer, timeout time.Duration) *ClamAV {
	return &ClamAV{client: s, timeout: timeout, log: zerolog.Nop()}
}

func TestIsCleanOK(t *testing.T) {
	s := newTestScanner(&fakeStreamer{results: []*clamd.ScanResult{{Status: clamd.RES_OK}}}, time.Second)
	assert.True(t, s.IsClean(context.Background(), strings.NewReader("file")))
}

func TestIsCleanFound(t *testing.T) {
	s := newTestScanner(&fakeStreamer{results: []*clamd.ScanResult{
		{Status: clamd.RES_FOUND, Description: "Eicar-Test-Signature"},
	}}, time.Second)
	assert.False(t, s.IsClean(context.Background(), strings.NewReader("X5O!P%@AP")))
}

func TestIsCleanFailsOpenOnConnectionError(t *testing.T) {
	s := newTestScanner(&fakeStreamer{err: errors.New("connection refused")}, time.Second)
	assert.True(t, s.IsClean(context.Background(), strings.NewReader("file")))
}

func TestIsCleanFailsOpenOnScanError(t *testing.T) {
	s := newTestScanner(&fakeStreamer{results: []*clamd.ScanResult{{Status: clamd.RES_ERROR}}}, time.Second)
	assert.True(t, s.IsClean(context.Background(), strings.NewReader("file")))
}

func TestIsCleanFailsOpenOnTimeout(t *testing.T) {
	s := newTestScanner(&fakeStreamer{block: true}, 10*time.Millisecond)
	assert.True(t, s.IsClean(context.Background(), strings.NewReader("file")))
}

func TestDisabled(t *testing.T) {
	assert.True(t, Disabled{}.IsClean(context.Background(), strings.NewReader("anything")))
}
