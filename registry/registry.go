package registry

import (
	"context"
	"time"
)

// ServerInstance describes one running call server.
type ServerInstance struct {
	Name      string    `json:"name"`     // Server name, the {serverName} of call/request/{serverName}
	ID        string    `json:"id"`       // Broker client id of this instance
	Services  []string  `json:"services"` // Exported service names
	Broker    string    `json:"broker"`   // Broker URL the instance is attached to
	StartedAt time.Time `json:"startedAt"`
}

// Registry announces running servers so callers can find them and their services.
type Registry interface {
	Register(ctx context.Context, instance ServerInstance, ttl int64) error
	Deregister(ctx context.Context, instance ServerInstance) error
	Discover(ctx context.Context, name string) ([]ServerInstance, error)
	Watch(ctx context.Context, name string) <-chan []ServerInstance
}
