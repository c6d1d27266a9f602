// Package lock provides engine.TargetLocker implementations that serialize
// work against the same target: Local for a single process and Redis for
// several processes sharing a Redis server.
package lock
