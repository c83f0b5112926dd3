// Package metrics 暴露 Prometheus 指标。所有方法对 nil *Collector 安全（不采集）。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eeprom_spoofer"

// Collector 汇总写入、回滚、备份、完整性与诊断相关计数。
type Collector struct {
	registry *prometheus.Registry

	spoofs          *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	backups         prometheus.Counter
	integrityChecks *prometheus.CounterVec
	restores        *prometheus.CounterVec
	diagnoses       *prometheus.CounterVec
}

// New 创建独立 registry 的 Collector（含 Go/进程默认指标）。
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,
		spoofs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spoof_attempts_total",
			Help:      "Spoof attempts by outcome (success, dry_run, rejected, failed, rollback_failed).",
		}, []string{"outcome"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollback attempts by result.",
		}, []string{"result"}),
		backups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_created_total",
			Help:      "Backups persisted.",
		}),
		integrityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_checks_total",
			Help:      "Backup integrity checks by resulting status.",
		}, []string{"status"}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_restores_total",
			Help:      "Identity-only restore attempts by result.",
		}, []string{"result"}),
		diagnoses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnoses_total",
			Help:      "Device diagnoses by verdict.",
		}, []string{"diagnosis"}),
	}
	reg.MustRegister(c.spoofs, c.rollbacks, c.backups, c.integrityChecks, c.restores, c.diagnoses)
	return c
}

func (c *Collector) SpoofOutcome(outcome string) {
	if c == nil {
		return
	}
	c.spoofs.WithLabelValues(outcome).Inc()
}

func (c *Collector) Rollback(result string) {
	if c == nil {
		return
	}
	c.rollbacks.WithLabelValues(result).Inc()
}

func (c *Collector) BackupCreated() {
	if c == nil {
		return
	}
	c.backups.Inc()
}

func (c *Collector) IntegrityChecked(status string) {
	if c == nil {
		return
	}
	c.integrityChecks.WithLabelValues(status).Inc()
}

func (c *Collector) Restore(result string) {
	if c == nil {
		return
	}
	c.restores.WithLabelValues(result).Inc()
}

func (c *Collector) Diagnosed(diagnosis string) {
	if c == nil {
		return
	}
	c.diagnoses.WithLabelValues(diagnosis).Inc()
}

// Registry 返回底层 registry（测试用 Gather）。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 返回 /metrics 处理器。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
