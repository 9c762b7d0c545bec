package server

import (
	"github.com/gin-gonic/gin"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/server/handler"
	"github.com/aspect-build/sealrun/internal/wire"
)

// NewDiscoveryRouter builds the engine for the untrusted port. certDER is
// served only when collector is nil; otherwise the quote call answers with
// evidence that binds enclavePEM.
func NewDiscoveryRouter(cfg *Config, collector attestation.Collector, certDER, enclavePEM []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLog("untrusted"))

	if collector != nil {
		certDER = nil
	}
	r.GET(wire.PathServerInfo, handler.HandleServerInfo(cfg.ReportedVersion))
	r.GET(wire.PathCertificate, handler.HandleCertificate(certDER))
	r.GET(wire.PathQuote, handler.HandleQuote(collector, enclavePEM))
	return r
}

// NewAttestedRouter builds the engine for the attested port.
func NewAttestedRouter(cfg *Config, e *handler.Enclave) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLog("attested"))

	r.GET(wire.PathHealth, handler.HandleHealth())

	models := r.Group(wire.PathModels)
	models.Use(BodyLimit(streamLimit(cfg.MaxModelSize)))
	{
		models.POST("", e.HandleSendModel())
		models.POST("/run", e.HandleRunModel())
		models.DELETE("/:id", e.HandleDeleteModel())
	}
	return r
}

// streamLimit leaves room for the JSON framing and base64 growth around a
// model of maxModel bytes.
func streamLimit(maxModel uint64) int64 {
	const slack = 1 << 20
	limit := maxModel/3*4*2 + slack
	if limit > 1<<40 {
		return 1 << 40
	}
	return int64(limit)
}
