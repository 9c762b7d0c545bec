package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/proof"
	"github.com/aspect-build/sealrun/internal/trusterr"
)

type verifyFlags struct {
	allowSimulation bool
	policy          string
	enclaveCert     string
	modelID         string
	modelHash       string
	modelFile       string
	in              inputFlags
}

func newVerifyCmd() *cobra.Command {
	var f verifyFlags
	cmd := &cobra.Command{
		Use:   "verify <proof-file>",
		Short: "Validate a saved proof offline",
		Long: `Re-validate a signed response written with --proof. Hardware proofs are
checked against their attestation evidence and --policy; the payload must be
bound to the request data given with --model-hash/--model-file (upload),
--model-id with --input/--inputs (run), or --model-id (delete).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := proof.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			kind, err := proof.Kind(*a)
			if err != nil {
				return err
			}
			expect, err := f.expectation(kind)
			if err != nil {
				return err
			}
			opts, err := f.options(cmd, a)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := a.Validate(cmd.Context(), expect, opts); err != nil {
				fmt.Fprintf(out, "%s %s proof: %v\n", failMark("INVALID"), kind, err)
				return err
			}
			mode := "attested"
			if a.IsSimulation() {
				mode = warnMark("simulation")
			}
			fmt.Fprintf(out, "%s %s proof (%s)\n", okMark("VALID"), kind, mode)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.allowSimulation, "allow-simulation", false, "Accept proofs produced in simulation mode")
	fl.StringVar(&f.policy, "policy", "", "Attestation policy for hardware proofs (or set SEALRUN_POLICY)")
	fl.StringVar(&f.enclaveCert, "enclave-cert", "", "PEM enclave certificate to check simulation proof signatures with")
	fl.StringVar(&f.modelID, "model-id", "", "Model id the run or delete request named")
	fl.StringVar(&f.modelHash, "model-hash", "", "Hex SHA-256 of the uploaded model")
	fl.StringVar(&f.modelFile, "model-file", "", "Uploaded model file, hashed instead of --model-hash")
	f.in.register(cmd)
	return cmd
}

func (f *verifyFlags) expectation(kind string) (proof.Expectation, error) {
	switch kind {
	case "upload":
		hash, err := f.uploadHash()
		if err != nil {
			return nil, err
		}
		return proof.ExpectUpload{ModelHash: hash}, nil
	case "run":
		if f.modelID == "" {
			return nil, trusterr.Config("config", nil, "--model-id is required to verify a run proof")
		}
		inputs, err := f.in.tensors()
		if err != nil {
			return nil, err
		}
		return proof.ExpectRun{ModelID: f.modelID, Inputs: inputs}, nil
	case "delete":
		if f.modelID == "" {
			return nil, trusterr.Config("config", nil, "--model-id is required to verify a delete proof")
		}
		return proof.ExpectDelete{ModelID: f.modelID}, nil
	}
	return nil, trusterr.Encoding("unknown proof kind %q", kind)
}

func (f *verifyFlags) uploadHash() ([]byte, error) {
	switch {
	case f.modelFile != "" && f.modelHash != "":
		return nil, trusterr.Config("config", nil, "--model-file and --model-hash are mutually exclusive")
	case f.modelFile != "":
		data, err := os.ReadFile(filepath.Clean(f.modelFile))
		if err != nil {
			return nil, trusterr.Config("config", err, "read model file %s", f.modelFile)
		}
		sum := sha256.Sum256(data)
		return sum[:], nil
	case f.modelHash != "":
		h, err := hex.DecodeString(strings.TrimPrefix(f.modelHash, "0x"))
		if err != nil || len(h) != sha256.Size {
			return nil, trusterr.Config("config", err, "--model-hash must be %d hex bytes", sha256.Size)
		}
		return h, nil
	}
	return nil, trusterr.Config("config", nil, "--model-hash or --model-file is required to verify an upload proof")
}

func (f *verifyFlags) options(cmd *cobra.Command, a *proof.Artifact) (proof.ValidateOptions, error) {
	opts := proof.ValidateOptions{AllowSimulation: f.allowSimulation}
	if !a.IsSimulation() {
		opts.ValidateQuote = true
		opts.PolicyFile = resolve(cmd, "policy", f.policy, "SEALRUN_POLICY")
		if opts.PolicyFile == "" {
			return opts, trusterr.Config("config", nil, "--policy is required to verify a hardware proof")
		}
		return opts, nil
	}
	if f.enclaveCert != "" {
		data, err := os.ReadFile(filepath.Clean(f.enclaveCert))
		if err != nil {
			return opts, trusterr.Config("config", err, "read enclave certificate %s", f.enclaveCert)
		}
		key, err := attestation.SigningKeyFromPEM(data)
		if err != nil {
			return opts, trusterr.Config("config", err, "enclave certificate %s", f.enclaveCert)
		}
		opts.SigningKey = key
	}
	return opts, nil
}
