package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xbroker"
)

// Use builds a Host over Redis Streams. The host address is derived from cfg
// unless WithHostConfig overrides it.
func Use(cfg Config, opts ...Option) *xbroker.Host {
	hostCfg := xbroker.DefaultHostConfig()
	hostCfg.HostAddress = cfg.HostAddress()

	hb := xbroker.NewHostBuilder().
		WithConnector(TransportName, cfg.toMap()).
		WithHostConfig(hostCfg)

	for _, o := range opts {
		if o != nil {
			o(hb)
		}
	}
	host, err := hb.Build()
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	return host
}
