package server

import (
	"errors"

	"github.com/kstaniek/go-can-console/internal/metrics"
)

// Sentinels wrapped by every server error; classify with errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrBackendTx = errors.New("backend_tx")
	ErrContext   = errors.New("context_cancelled")
)

var errLabels = []struct {
	err   error
	label string
}{
	{ErrConnRead, metrics.ErrTCPRead},
	{ErrConnWrite, metrics.ErrTCPWrite},
	{ErrHandshake, metrics.ErrHandshake},
	{ErrBackendTx, metrics.ErrCANSend},
	{ErrAccept, metrics.ErrTCPRead},
	{ErrListen, metrics.ErrTCPRead},
	{ErrContext, "context"},
}

// mapErrToMetric returns the metrics error label for err.
func mapErrToMetric(err error) string {
	for _, e := range errLabels {
		if errors.Is(err, e.err) {
			return e.label
		}
	}
	return "other"
}
