// Package config loads the settings shared by the server, proxy, client and
// compressd binaries.
//
// Values are layered: built-in defaults, then an optional YAML file (named
// by the -config flag or SHMPROXY_CONFIG), then environment variables. The
// environment always wins so a single file can drive several processes with
// per-process overrides.
//
// Example file:
//
//	server:
//	  listen: ":8080"
//	  root: /srv/www
//	  workers: 10
//	proxy:
//	  listen: ":8081"
//	  origin_port: 8080
//	shm:
//	  optimized: true
//	  nodes: 10
//	  capacity: 10000
//	compress:
//	  addr: "127.0.0.1:9090"
//
// Environment variables:
//
//	SERVER_LISTEN SERVER_ROOT SERVER_WORKERS
//	PROXY_LISTEN PROXY_WORKERS ORIGIN_PORT
//	SHM_OPTIMIZED SHM_DIR SHM_NAME SHM_NODES SHM_CAPACITY
//	COMPRESS_ADDR COMPRESS_LISTEN COMPRESS_QUALITY
//	CLIENT_MODE CLIENT_PROXY CLIENT_TARGET CLIENT_FILES CLIENT_FILE_LIST
//	CLIENT_WORKERS CLIENT_ACCESSES
package config
