package service

import "github.com/prometheus/client_golang/prometheus"

var integrityErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "catalog_integrity_errors_total",
		Help: "Cross-entity catalog writes that could not be completed consistently",
	},
	[]string{"op"},
)

func init() { prometheus.MustRegister(integrityErrors) }
