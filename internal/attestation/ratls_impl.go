//go:build ratls

package attestation

import (
	"context"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	dstackratls "github.com/Dstack-TEE/dstack/sdk/go/ratls"
	"github.com/aspect-build/sealrun/internal/logx"
)

// RATLSAvailable reports whether RA-TLS verification is compiled in.
func RATLSAvailable() bool { return true }

// RATLSVerifier verifies evidence whose enclave-held data is an RA-TLS
// certificate: the quote is carried in the certificate extensions and
// verified against Intel collateral by the dstack library.
type RATLSVerifier struct{}

func NewRATLSVerifier() *RATLSVerifier {
	return &RATLSVerifier{}
}

func (v *RATLSVerifier) Verify(_ context.Context, ev Evidence) (Claims, error) {
	if len(ev.EnclaveHeldData) == 0 {
		return Claims{}, fmt.Errorf("missing enclave held data (RA-TLS certificate) in evidence")
	}

	cert, err := ParseCertificatePEM(ev.EnclaveHeldData)
	if err != nil {
		return Claims{}, err
	}

	result, err := dstackratls.VerifyCert(cert)
	if err != nil {
		return Claims{}, fmt.Errorf("RA-TLS certificate verification failed: %w", err)
	}

	claims := Claims{
		ServerCertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		// Only the app id carried by the verified certificate is trusted.
		AppID:         certAppID(cert),
		ISVUnreported: true,
	}
	if result != nil && result.Report != nil {
		report := result.Report
		qr := report.Report
		claims.Measurement = append([]byte(nil), qr.MrTD...)
		claims.Signer = append([]byte(nil), qr.MrOwner...)
		claims.Debug = len(qr.TdAttributes) > 0 && qr.TdAttributes[0]&0x01 != 0
		claims.TCBStatus = fmt.Sprint(report.Status)
		for _, id := range report.AdvisoryIDs {
			claims.AdvisoryIDs = append(claims.AdvisoryIDs, fmt.Sprint(id))
		}
		logRATLSMeasurements(result)
	}
	logx.Debugf("ratls.identity cert_app_id=%q tcb_status=%q debug=%v", claims.AppID, claims.TCBStatus, claims.Debug)
	return claims, nil
}

func logRATLSMeasurements(result *dstackratls.VerifyResult) {
	report := result.Report
	if report == nil {
		return
	}
	qr := report.Report
	logx.Debugf("ratls.verify status=%s qe_status=%s platform_status=%s advisory_ids=%v", report.Status, report.QEStatus.Status, report.PlatformStatus.Status, report.AdvisoryIDs)
	logx.Debugf("ratls.measurements type=%s mr_td=%s mr_config_id=%s mr_owner=%s mr_owner_config=%s", qr.Type, fmtHex(qr.MrTD), fmtHex(qr.MrConfigID), fmtHex(qr.MrOwner), fmtHex(qr.MrOwnerConfig))
	logx.Debugf("ratls.measurements rtmr0=%s rtmr1=%s rtmr2=%s rtmr3=%s tee_tcb_svn=%s td_attributes=%s", fmtHex(qr.RTMR0), fmtHex(qr.RTMR1), fmtHex(qr.RTMR2), fmtHex(qr.RTMR3), fmtHex(qr.TeeTCBSVN), fmtHex(qr.TdAttributes))
}

func fmtHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	x := hex.EncodeToString(b)
	if logx.IsDebug() || len(x) <= 32 {
		return x
	}
	return x[:32] + "..."
}
