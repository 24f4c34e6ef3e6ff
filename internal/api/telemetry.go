package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/zxhio/telemetry-int/internal/errcode"
	"github.com/zxhio/telemetry-int/internal/manager"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/service"
)

type EVCsReq struct {
	EVCIDs []string `json:"evc_ids"`
	Force  bool     `json:"force"`
}

type QueryEVCsResp QueryPageResp[*model.Circuit]

type TelemetryAPI interface {
	EnableINT(ctx context.Context, ids []string, force bool) ([]string, error)
	DisableINT(ctx context.Context, ids []string, force bool) ([]string, error)
	RedeployINT(ctx context.Context, ids []string) ([]string, error)
	ListCircuits(ctx context.Context, page, limit int) ([]*model.Circuit, int, error)
	Compare(ctx context.Context) ([]service.CompareResult, error)
	ProxyPorts() []manager.ProxyPortInfo
}

type httpTelemetryWrapper struct {
	impl TelemetryAPI
}

func bindEVCsReq(c *gin.Context) (*EVCsReq, bool) {
	var req EVCsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, errcode.NewError(errcode.CodeInvalid, errors.Wrap(err, "json.Unmarshal")))
		return nil, false
	}
	return &req, true
}

func (w httpTelemetryWrapper) EnableINT(c *gin.Context) {
	req, ok := bindEVCsReq(c)
	if !ok {
		return
	}
	ids, err := w.impl.EnableINT(c.Request.Context(), req.EVCIDs, req.Force)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, ids)
}

func (w httpTelemetryWrapper) DisableINT(c *gin.Context) {
	req, ok := bindEVCsReq(c)
	if !ok {
		return
	}
	ids, err := w.impl.DisableINT(c.Request.Context(), req.EVCIDs, req.Force)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, ids)
}

func (w httpTelemetryWrapper) RedeployINT(c *gin.Context) {
	req, ok := bindEVCsReq(c)
	if !ok {
		return
	}
	ids, err := w.impl.RedeployINT(c.Request.Context(), req.EVCIDs)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, ids)
}

func (w httpTelemetryWrapper) QueryEVCs(c *gin.Context) {
	page := NewPageFromRequest(c.Request)
	data, total, err := w.impl.ListCircuits(c.Request.Context(), page.Page, page.Limit)
	if err != nil {
		Error(c, err)
		return
	}
	page.Total = total
	Success(c, QueryEVCsResp{QueryPage: page, Data: data})
}

func (w httpTelemetryWrapper) CompareEVCs(c *gin.Context) {
	results, err := w.impl.Compare(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, results)
}

func (w httpTelemetryWrapper) QueryProxyPorts(c *gin.Context) {
	Success(c, w.impl.ProxyPorts())
}
