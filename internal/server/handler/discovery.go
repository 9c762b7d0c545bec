package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/logx"
	"github.com/aspect-build/sealrun/internal/wire"
)

// HandleServerInfo handles GET /v1/untrusted/server-info.
func HandleServerInfo(reported string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, wire.ServerInfo{Version: reported})
	}
}

// HandleCertificate handles GET /v1/untrusted/certificate. It is only
// answered in simulation mode, where der is the enclave certificate.
func HandleCertificate(der []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(der) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "certificate is only served in simulation mode"})
			return
		}
		c.JSON(http.StatusOK, wire.CertificateReply{EnclaveTLSCertificate: der})
	}
}

// HandleQuote handles GET /v1/untrusted/quote. held is bound as the
// enclave-held data when the collector does not supply its own.
func HandleQuote(collector attestation.Collector, held []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if collector == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no attestation in simulation mode"})
			return
		}
		ev, err := collector.Collect(c.Request.Context())
		if err != nil {
			logx.Errorf("collect evidence: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to collect attestation evidence"})
			return
		}
		if len(ev.EnclaveHeldData) == 0 {
			ev.EnclaveHeldData = held
		}
		c.JSON(http.StatusOK, wire.QuoteReply{Evidence: ev})
	}
}

// HandleHealth handles GET /v1/health.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
