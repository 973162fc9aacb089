package main

import (
	"context"
	"math/rand"
	"time"

	"mqtt-call/future"
	"mqtt-call/service"
)

// device is the service set exposed by the stock binary.
type device struct {
	name    string
	started time.Time
}

func newDevice(name string) *device {
	return &device{name: name, started: time.Now()}
}

type PingReply struct {
	Name string `json:"name"`
	Time string `json:"time"`
}

func (d *device) ExportPing(ctx context.Context) (PingReply, error) {
	return PingReply{Name: d.name, Time: time.Now().UTC().Format(time.RFC3339)}, nil
}

func (d *device) ExportEcho(ctx context.Context, params service.Params) (service.Params, error) {
	return params, nil
}

func (d *device) ExportUptime(ctx context.Context) (float64, error) {
	return time.Since(d.started).Seconds(), nil
}

// ExportReadTemperature simulates a sensor that answers after a short conversion delay.
func (d *device) ExportReadTemperature(ctx context.Context) *future.Future {
	return future.Go(func() (any, error) {
		time.Sleep(50 * time.Millisecond)
		return 20 + rand.Float64()*5, nil
	})
}
