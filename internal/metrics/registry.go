package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "corevpn"

// Registry is the Prometheus registry every collector in this package
// registers against. Handler/StartServer serve exactly this registry,
// not the global DefaultRegisterer, so a process embedding corevpn
// alongside other Prometheus-instrumented code doesn't collide with it.
var Registry = prometheus.NewRegistry()
