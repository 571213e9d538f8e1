// Package telemetry defines the consumers that station readings are fanned
// out to.
package telemetry

import (
	"context"
	"sync"

	"github.com/chrissnell/weatherhat/internal/types"
)

// Sink is implemented by every telemetry consumer. StartSink launches the
// sink's goroutines and returns the channel readings should be sent on.
type Sink interface {
	StartSink(context.Context, *sync.WaitGroup) chan<- types.Reading
}
