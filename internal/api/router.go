package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAPIAddr is where telemetryctl looks for telemetryd.
const DefaultAPIAddr = "127.0.0.1:9931"

const (
	APIPathEnableINT       = "/api/v1/evc/enable"
	APIPathDisableINT      = "/api/v1/evc/disable"
	APIPathRedeployINT     = "/api/v1/evc/redeploy"
	APIPathQueryEVCs       = "/api/v1/evc"
	APIPathCompareEVCs     = "/api/v1/evc/compare"
	APIPathQueryProxyPorts = "/api/v1/proxy_ports"

	APIPathQueryInterfaces = "/api/v1/topology/interfaces"
	APIPathQueryLinks      = "/api/v1/topology/links"

	APIPathPublishEvent = "/api/v1/events/:name"

	APIPathMetrics = "/metrics"
)

func SetTelemetryRouter(g *gin.Engine, impl TelemetryAPI) {
	w := httpTelemetryWrapper{impl: impl}
	g.POST(APIPathEnableINT, w.EnableINT)
	g.POST(APIPathDisableINT, w.DisableINT)
	g.PATCH(APIPathRedeployINT, w.RedeployINT)
	g.GET(APIPathQueryEVCs, w.QueryEVCs)
	g.GET(APIPathCompareEVCs, w.CompareEVCs)
	g.GET(APIPathQueryProxyPorts, w.QueryProxyPorts)
}

func SetTopologyRouter(g *gin.Engine, impl TopologyAPI) {
	w := httpTopologyWrapper{impl: impl}
	g.GET(APIPathQueryInterfaces, w.QueryInterfaces)
	g.GET(APIPathQueryLinks, w.QueryLinks)
}

func SetEventRouter(g *gin.Engine, impl EventAPI) {
	w := httpEventWrapper{impl: impl}
	g.POST(APIPathPublishEvent, w.PublishEvent)
}

func SetMetricsRouter(g *gin.Engine) {
	g.GET(APIPathMetrics, gin.WrapH(promhttp.Handler()))
}

func InstantiateEventAPIURL(name string) string {
	return InstantiateAPIURL(APIPathPublishEvent, map[string]string{":name": name})
}

func InstantiateAPIURL(apiPath string, params map[string]string) string {
	for k, v := range params {
		apiPath = strings.ReplaceAll(apiPath, k, v)
	}
	return strings.TrimSuffix(apiPath, "/")
}
