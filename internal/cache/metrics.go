// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// PoolStatser is implemented by go-redis clients.
type PoolStatser interface {
	PoolStats() *redis.PoolStats
}

// PoolCollector exports go-redis connection pool statistics. Values are
// read at scrape time, so no background goroutine is needed.
type PoolCollector struct {
	client PoolStatser

	hits       *prometheus.Desc
	misses     *prometheus.Desc
	timeouts   *prometheus.Desc
	staleConns *prometheus.Desc
	totalConns *prometheus.Desc
	idleConns  *prometheus.Desc
}

// NewPoolCollector returns a collector for client's pool.
func NewPoolCollector(client PoolStatser) *PoolCollector {
	return &PoolCollector{
		client:     client,
		hits:       prometheus.NewDesc("credsvc_redis_pool_hits_total", "Number of times a connection was found in the pool", nil, nil),
		misses:     prometheus.NewDesc("credsvc_redis_pool_misses_total", "Number of times a connection was not found in the pool", nil, nil),
		timeouts:   prometheus.NewDesc("credsvc_redis_pool_timeouts_total", "Number of times a connection was not obtained due to timeout", nil, nil),
		staleConns: prometheus.NewDesc("credsvc_redis_pool_stale_conns_total", "Number of stale connections removed from the pool", nil, nil),
		totalConns: prometheus.NewDesc("credsvc_redis_pool_total_conns", "Number of total connections in the pool", nil, nil),
		idleConns:  prometheus.NewDesc("credsvc_redis_pool_idle_conns", "Number of idle connections in the pool", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.timeouts
	ch <- c.staleConns
	ch <- c.totalConns
	ch <- c.idleConns
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.client.PoolStats()
	if stats == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(stats.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.staleConns, prometheus.CounterValue, float64(stats.StaleConns))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stats.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stats.IdleConns))
}
