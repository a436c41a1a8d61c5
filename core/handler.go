package core

import (
	"time"

	"messages-gateway/core/mapper"

	"github.com/sirupsen/logrus"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// HandlerOptions 网关处理器依赖
type HandlerOptions struct {
	Router     *Router
	Translator *mapper.Translator
	RateLimit  *RateLimitGate
	Approver   Approver
	Catalog    *ModelCatalog
	Tokens     *TokenCounter
	RequestLog *AsyncRequestLogger
	Metrics    *Metrics
	Logger     *logrus.Logger
	// KeepAlive of 0 disables timer pings on idle streams.
	KeepAlive time.Duration
}

// Handler 处理 /v1/messages 和 /v1/models 请求
type Handler struct {
	router     *Router
	translator *mapper.Translator
	rateLimit  *RateLimitGate
	approver   Approver
	catalog    *ModelCatalog
	tokens     *TokenCounter
	requestLog *AsyncRequestLogger
	metrics    *Metrics
	logger     *logrus.Logger
	keepAlive  time.Duration
}

func NewHandler(opts HandlerOptions) *Handler {
	h := &Handler{
		router:     opts.Router,
		translator: opts.Translator,
		rateLimit:  opts.RateLimit,
		approver:   opts.Approver,
		catalog:    opts.Catalog,
		tokens:     opts.Tokens,
		requestLog: opts.RequestLog,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		keepAlive:  opts.KeepAlive,
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.translator == nil {
		h.translator = mapper.NewTranslator(h.logger)
	}
	if h.approver == nil {
		h.approver = AutoApprove{}
	}
	if h.tokens == nil {
		h.tokens = NewTokenCounter()
	}
	if h.catalog == nil {
		h.catalog = NewModelCatalog(h.router, h.logger)
	}
	return h
}

func (h *Handler) Catalog() *ModelCatalog { return h.catalog }

func (h *Handler) RequestLog() *AsyncRequestLogger { return h.requestLog }

func (h *Handler) Router() *Router { return h.router }
