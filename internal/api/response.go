package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/zxhio/telemetry-int/internal/errcode"
)

type Response struct {
	Code    errcode.Code `json:"code"`
	Message string       `json:"message"`
	Data    any          `json:"data"`
}

// HTTPStatus maps an error code onto the status returned to clients.
func HTTPStatus(code errcode.Code) int {
	switch code {
	case errcode.CodeSuccess:
		return http.StatusOK
	case errcode.CodeInvalid:
		return http.StatusBadRequest
	case errcode.CodeNotFound:
		return http.StatusNotFound
	case errcode.CodeConflict, errcode.CodeNotReady:
		return http.StatusConflict
	case errcode.CodeRetryExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Error(c *gin.Context, err error) {
	code := errcode.CodeOf(err)
	msg := code.String()
	var ec errcode.ErrorCode
	if errors.As(err, &ec) {
		msg = ec.Message()
	} else if err != nil {
		msg = msg + ": " + err.Error()
	}
	c.JSON(HTTPStatus(code), Response{Code: code, Message: msg})
}

func Success(c *gin.Context, v any) {
	respond(c, http.StatusOK, v)
}

func Created(c *gin.Context, v any) {
	respond(c, http.StatusCreated, v)
}

func respond(c *gin.Context, status int, v any) {
	c.JSON(status, Response{
		Code:    errcode.CodeSuccess,
		Message: errcode.CodeSuccess.String(),
		Data:    v,
	})
}

func GetBodyData[T any](data []byte) (*T, error) {
	var (
		resp struct {
			Code    errcode.Code    `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		}
		v T
	)
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal")
	}
	if resp.Code != errcode.CodeSuccess {
		return nil, errors.New(resp.Message)
	}
	if len(resp.Data) == 0 {
		return &v, nil
	}
	err := json.Unmarshal(resp.Data, &v)
	return &v, err
}

type QueryPage struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

func (p QueryPage) ToQuery() string {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	return v.Encode()
}

func NewPageFromRequest(req *http.Request) QueryPage {
	var p QueryPage

	page, err := strconv.Atoi(req.URL.Query().Get("page"))
	if err != nil {
		page = 1
	}
	p.Page = page

	limit, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil {
		limit = 100
	}
	p.Limit = limit

	return p
}

type QueryPageResp[T any] struct {
	QueryPage
	Data []T `json:"data"`
}
