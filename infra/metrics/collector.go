package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/batteryctl/core/events"
	coremetrics "github.com/kilianp07/batteryctl/core/metrics"
	"github.com/kilianp07/batteryctl/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records device and
// meter events on the sink. Cycle records are written by the loop itself.
// It stops when the context is canceled or the bus is closed. The returned
// function unsubscribes, records the events still buffered and waits for the
// collector to exit.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) (stop func()) {
	if bus == nil || sink == nil {
		return func() {}
	}
	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				drain(sink, sub)
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				collect(sink, ev)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			bus.Unsubscribe(sub)
			<-done
		})
	}
}

func drain(sink coremetrics.MetricsSink, sub <-chan eventbus.Event) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			collect(sink, ev)
		default:
			return
		}
	}
}

func collect(sink coremetrics.MetricsSink, ev eventbus.Event) {
	switch e := ev.(type) {
	case events.StatusEvent:
		if r, ok := sink.(coremetrics.DeviceStateRecorder); ok {
			_ = r.RecordDeviceState(coremetrics.DeviceStateEvent{
				CycleID: e.CycleID,
				Status:  e.Status,
				Error:   errString(e.Err),
				Time:    time.Now(),
			})
		}
	case events.MeterEvent:
		if r, ok := sink.(coremetrics.MeterRecorder); ok {
			_ = r.RecordMeter(coremetrics.MeterEvent{
				CycleID:   e.CycleID,
				PowerWatt: e.PowerWatt,
				Error:     errString(e.Err),
				Time:      time.Now(),
			})
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
