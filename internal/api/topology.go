package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zxhio/telemetry-int/internal/model"
)

type QueryInterfacesResp QueryPageResp[*model.Interface]
type QueryLinksResp QueryPageResp[*model.Link]

type TopologyAPI interface {
	ListInterfaces(switchID string, proxyPortOnly bool, page, limit int) ([]*model.Interface, int)
	ListLinks(page, limit int) ([]*model.Link, int)
}

type httpTopologyWrapper struct {
	impl TopologyAPI
}

func (w httpTopologyWrapper) QueryInterfaces(c *gin.Context) {
	page := NewPageFromRequest(c.Request)
	proxyPortOnly, _ := strconv.ParseBool(c.Query("proxy_port"))

	data, total := w.impl.ListInterfaces(c.Query("switch"), proxyPortOnly, page.Page, page.Limit)
	page.Total = total
	Success(c, QueryInterfacesResp{QueryPage: page, Data: data})
}

func (w httpTopologyWrapper) QueryLinks(c *gin.Context) {
	page := NewPageFromRequest(c.Request)
	data, total := w.impl.ListLinks(page.Page, page.Limit)
	page.Total = total
	Success(c, QueryLinksResp{QueryPage: page, Data: data})
}
