// Package registry announces call servers in etcd.
//
// etcd acts as a phonebook of running servers:
//
//	Key:   /mqtt-call/servers/{Name}/{ID}
//	Value: JSON-encoded ServerInstance
//
// Entries are attached to a TTL lease kept alive in the background; a server that
// dies without deregistering disappears once the lease expires.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/juju/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/mqtt-call/servers/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Safe for concurrent use
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Annotate(err, "connect etcd")
	}
	return &EtcdRegistry{client: c, logger: logger, leases: make(map[string]clientv3.LeaseID)}, nil
}

func instanceKey(name, id string) string {
	return keyPrefix + name + "/" + id
}

// Register stores the instance under a lease of ttl seconds and keeps the lease
// alive until ctx ends or the instance is deregistered.
func (r *EtcdRegistry) Register(ctx context.Context, instance ServerInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Annotate(err, "grant lease")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return errors.Trace(err)
	}

	key := instanceKey(instance.Name, instance.ID)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Annotatef(err, "put %s", key)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errors.Annotate(err, "keep lease alive")
	}

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, instance ServerInstance) error {
	key := instanceKey(instance.Name, instance.ID)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Annotatef(err, "delete %s", key)
	}

	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, lease); err != nil {
			return errors.Annotate(err, "revoke lease")
		}
	}
	return nil
}

// Discover returns the live instances of a server name.
func (r *EtcdRegistry) Discover(ctx context.Context, name string) ([]ServerInstance, error) {
	resp, err := r.client.Get(ctx, keyPrefix+name+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Annotatef(err, "discover %s", name)
	}

	instances := make([]ServerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServerInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the full instance list of a server name on every change until ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, name string) <-chan []ServerInstance {
	ch := make(chan []ServerInstance, 1)
	prefix := keyPrefix + name + "/"

	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, prefix, clientv3.WithPrefix()) {
			// Re-read the full list rather than applying individual events.
			instances, err := r.Discover(ctx, name)
			if err != nil {
				r.logger.Warn("watch refresh failed", zap.String("server", name), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close releases the etcd connection.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
