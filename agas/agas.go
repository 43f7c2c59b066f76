// Package agas implements the runtime-support server's view of the
// Active Global Address Space: locality discovery, unregistration, and
// the cluster-wide shutdown flag every non-initiator sets on its first
// token receipt. It is backed by Consul's KV store and service catalog.
package agas

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/hashicorp/go-hclog"

	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/log"
)

// serviceName is the Consul catalog service every locality registers
// itself under; localityTagPrefix carries the dense locality index so
// GetLocalities can recover the ordered set without a side-channel.
const (
	serviceName      = "hpx-locality"
	localityTagPrefix = "locality-index-"
	shutdownKeyPrefix = "hpx/shutdown/"
)

// Config is the agas.yaml section: where to reach the Consul agent.
type Config struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
}

// GetName implements config.Config.
func (c *Config) GetName() string { return "agas" }

// Validate implements config.Config.
func (c *Config) Validate() error { return nil }

// Client implements the AGAS consumed interface against a Consul agent.
type Client struct {
	consul *consulapi.Client
	self   locality.ID
	addr   string

	mu           sync.RWMutex
	addrCache    map[locality.GID]string
	registrationID string
}

// New dials the Consul agent described by cfg and registers self under
// the hpx-locality service, tagged with its dense index and reachable
// at addr (host:port of this locality's parcel listener).
func New(cfg *Config, self locality.ID, addr string) (*Client, error) {
	consulCfg := consulapi.DefaultConfig()
	if cfg != nil && cfg.Address != "" {
		consulCfg.Address = cfg.Address
	}
	if cfg != nil && cfg.Token != "" {
		consulCfg.Token = cfg.Token
	}
	consulCfg.Logger = newHCLogShim()

	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("agas: new consul client: %w", err)
	}

	c := &Client{
		consul:    client,
		self:      self,
		addr:      addr,
		addrCache: make(map[locality.GID]string),
	}

	regID := fmt.Sprintf("hpx-locality-%d", self)
	registration := &consulapi.AgentServiceRegistration{
		ID:      regID,
		Name:    serviceName,
		Tags:    []string{localityTagPrefix + strconv.FormatUint(uint64(self), 10)},
		Address: addr,
	}
	if err := client.Agent().ServiceRegister(registration); err != nil {
		return nil, fmt.Errorf("agas: register locality %d: %w", self, err)
	}
	c.registrationID = regID

	return c, nil
}

// GetLocalities returns the ordered set of localities currently
// registered in the catalog.
func (c *Client) GetLocalities() ([]locality.ID, error) {
	services, _, err := c.consul.Catalog().Service(serviceName, "", nil)
	if err != nil {
		return nil, fmt.Errorf("agas: catalog lookup: %w", err)
	}

	out := make([]locality.ID, 0, len(services))
	for _, svc := range services {
		for _, tag := range svc.ServiceTags {
			if idx, ok := parseLocalityTag(tag); ok {
				out = append(out, locality.ID(idx))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func parseLocalityTag(tag string) (uint64, bool) {
	if len(tag) <= len(localityTagPrefix) || tag[:len(localityTagPrefix)] != localityTagPrefix {
		return 0, false
	}
	idx, err := strconv.ParseUint(tag[len(localityTagPrefix):], 10, 32)
	if err != nil {
		return 0, false
	}
	return idx, true
}

// GetLocalLocality returns this process's own locality id.
func (c *Client) GetLocalLocality() locality.ID { return c.self }

// UnbindLocal removes a GID's cached address, used by the local stop
// machine to release this locality's own server and memory component
// addresses before responding to the shutdown initiator.
func (c *Client) UnbindLocal(id locality.GID) error {
	c.mu.Lock()
	delete(c.addrCache, id)
	c.mu.Unlock()

	key := fmt.Sprintf("hpx/addr/%s", id.String())
	_, err := c.consul.KV().Delete(key, nil)
	if err != nil {
		return fmt.Errorf("agas: unbind %s: %w", id, err)
	}
	return nil
}

// UnregisterLocality deregisters this process from the service catalog
// entirely, the last step of the local stop sequence.
func (c *Client) UnregisterLocality(gid locality.GID) error {
	if err := c.consul.Agent().ServiceDeregister(c.registrationID); err != nil {
		return fmt.Errorf("agas: deregister locality %s: %w", gid, err)
	}
	return nil
}

// StartShutdown writes a cluster-visible flag observed by any locality
// watching the shutdown key, marking that this locality has begun
// participating in a shutdown sequence.
func (c *Client) StartShutdown() {
	key := shutdownKeyPrefix + strconv.FormatUint(uint64(c.self), 10)
	_, err := c.consul.KV().Put(&consulapi.KVPair{Key: key, Value: []byte("1")}, nil)
	if err != nil {
		log.Warn().Err(err).Uint32("locality", uint32(c.self)).Msg("agas: start_shutdown KV write failed")
	}
}

// GarbageCollectNonBlocking runs a scan in the background without
// blocking the caller: it lists the keys under the shutdown prefix and
// logs how many it found. It deletes nothing; no GID mapping is
// reclaimed.
func (c *Client) GarbageCollectNonBlocking() {
	go func() {
		keys, _, err := c.consul.KV().Keys(shutdownKeyPrefix, "", nil)
		if err != nil {
			log.Warn().Err(err).Msg("agas: garbage_collect keys listing failed")
			return
		}
		log.Debug().Int("count", len(keys)).Msg("agas: garbage collection scan completed")
	}()
}

// IsLocalAddressCached reports whether id's address is already cached
// locally, avoiding a round trip to Consul.
func (c *Client) IsLocalAddressCached(id locality.GID) (addr string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok = c.addrCache[id]
	return addr, ok
}

// CacheAddress records a resolved GID -> address mapping.
func (c *Client) CacheAddress(id locality.GID, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrCache[id] = addr
}

// Remove implements action.ConnectionCache: forget a single GID's
// cached address, backing remove_from_connection_cache.
func (c *Client) Remove(id locality.GID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.addrCache, id)
}

// EvictLocal implements shutdown.ConnectionCacheEvictor: forget every
// cached address belonging to self, backing the removeFromRemoteCaches
// step of a local stop.
func (c *Client) EvictLocal(self locality.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.addrCache {
		if id.Index() == uint32(self) {
			delete(c.addrCache, id)
		}
	}
}

// hclogWriter forwards hclog's formatted lines into this repository's
// own logger, so Consul client internals log through the same sink as
// the rest of the server instead of opening a second log stream.
type hclogWriter struct{}

func (hclogWriter) Write(p []byte) (int, error) {
	log.Debug().Str("source", "consul-client").Msg(string(p))
	return len(p), nil
}

func newHCLogShim() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "agas.consul",
		Level:  hclog.Warn,
		Output: hclogWriter{},
	})
}
