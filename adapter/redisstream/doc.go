// Package redisstream provides a Redis Streams connector for xbroker.
//
// Connector name: "redis-streams"
//
// Channels are dedicated pool connections; moves are written with XADD and
// headers are flattened into "meta:"-prefixed fields. Subscribe reads a
// stream through a consumer group and acknowledges an entry only after every
// operation registered on its ReceiveContext has completed.
//
// Minimal config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - group: consumer group name (default "xbroker")
//   - consumer: consumer name (default "xbroker-<host>-<pid>")
//   - concurrency: number of workers (default 8)
//   - batch_size: XREADGROUP COUNT (default 128)
//   - block: XREADGROUP BLOCK duration (default 5s)
//   - auto_create: create group/stream if missing (default true)
//   - auto_delete_on_ack: XDEL after XACK (default false)
//   - declare: streams the host topology ensures before every move
//   - health_interval: PING period; a failed ping shuts the connection down (default 5s)
//
// Example builder usage:
//
//	host, _ := xbroker.NewHostBuilder().
//	    WithConnector(redisstream.TransportName, map[string]any{
//	        "addr":        "localhost:6379",
//	        "group":       "payments",
//	        "consumer":    "service-a",
//	        "concurrency": 16,
//	        "declare":     []string{"payments_error"},
//	    }).
//	    WithHostConfig(hostCfg).
//	    Build()
package redisstream
