// Package redis opens the shared Redis client used to cache and broadcast
// the latest token snapshot.
package redis
