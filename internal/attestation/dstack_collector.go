package attestation

import (
	"context"
	"fmt"

	dstacksdk "github.com/Dstack-TEE/dstack/sdk/go/dstack"
)

// DstackCollector produces evidence from the dstack guest-agent Info() call.
// The RA-TLS app certificate becomes the enclave-held data and the TCB info
// document travels as collateral.
type DstackCollector struct {
	client *dstacksdk.DstackClient
}

func NewDstackCollector(endpoint string) *DstackCollector {
	opts := []dstacksdk.DstackClientOption{}
	if endpoint != "" {
		opts = append(opts, dstacksdk.WithEndpoint(endpoint))
	}
	return &DstackCollector{client: dstacksdk.NewDstackClient(opts...)}
}

func (c *DstackCollector) Collect(ctx context.Context) (Evidence, error) {
	info, err := c.client.Info(ctx)
	if err != nil {
		return Evidence{}, fmt.Errorf("dstack info: %w", err)
	}
	if info.AppCert == "" {
		return Evidence{}, fmt.Errorf("dstack info returned no app certificate")
	}
	return Evidence{
		Collateral:      []byte(info.TcbInfo),
		EnclaveHeldData: []byte(info.AppCert),
	}, nil
}
