package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aspect-build/sealrun/internal/client"
	"github.com/aspect-build/sealrun/internal/proof"
	"github.com/aspect-build/sealrun/internal/tensor"
)

func newInfoCmd() *cobra.Command {
	var conn connFlags
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Attest the enclave and print what was verified",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := conn.connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server_version=%s\n", s.ServerVersion())
			fmt.Fprintf(out, "simulation=%v\n", s.SimulationMode())
			if k := s.SigningKey(); k != nil {
				fmt.Fprintf(out, "signing_key=%s\n", k.Fingerprint())
				if k.AppID != "" {
					fmt.Fprintf(out, "app_id=%s\n", k.AppID)
				}
			}
			if s.SimulationMode() {
				fmt.Fprintf(out, "%s enclave is NOT attested\n", warnMark("warning:"))
			} else {
				fmt.Fprintf(out, "%s enclave attested\n", okMark("ok:"))
			}
			return nil
		},
	}
	conn.register(cmd)
	return cmd
}

func saveProof(cmd *cobra.Command, a proof.Artifact, path string) error {
	if path == "" {
		return nil
	}
	if err := a.SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "proof written to %s\n", path)
	return nil
}

func newUploadCmd() *cobra.Command {
	var (
		conn      connFlags
		opts      client.UploadOptions
		shape     string
		dtype     string
		dtypeOut  string
		proofPath string
	)
	cmd := &cobra.Command{
		Use:   "upload <model.onnx>",
		Short: "Upload a model to the enclave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Shape, err = parseShape(shape); err != nil {
				return err
			}
			if opts.DatumType, err = tensor.ParseDatumType(dtype); err != nil {
				return err
			}
			if opts.OutputType, err = tensor.ParseDatumType(dtypeOut); err != nil {
				return err
			}
			s, err := conn.connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.UploadModelFile(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model_id=%s\n", res.ModelID)
			fmt.Fprintf(out, "model_hash=%s\n", hex.EncodeToString(res.ModelHash))
			fmt.Fprintf(out, "signed=%v\n", res.IsSigned())
			return saveProof(cmd, res.Artifact, proofPath)
		},
	}
	conn.register(cmd)
	cmd.Flags().StringVar(&opts.ModelName, "name", "", "Model name (default: file name)")
	cmd.Flags().StringVar(&opts.ModelID, "id", "", "Request a specific model id")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Keep the model sealed at rest in the enclave")
	cmd.Flags().BoolVar(&opts.Sign, "sign", true, "Ask for a signed response and validate it")
	cmd.Flags().StringVar(&shape, "shape", "", "Input shape, e.g. 1,3,224,224")
	cmd.Flags().StringVar(&dtype, "dtype", "f32", "Input datum type")
	cmd.Flags().StringVar(&dtypeOut, "dtype-out", "f32", "Output datum type")
	cmd.Flags().StringVar(&proofPath, "proof", "", "Write the signed response to this file")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		conn      connFlags
		in        inputFlags
		sign      bool
		proofPath string
	)
	cmd := &cobra.Command{
		Use:   "run <model-id>",
		Short: "Run a model on input tensors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := in.tensors()
			if err != nil {
				return err
			}
			s, err := conn.connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.RunModel(cmd.Context(), args[0], inputs, sign)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, t := range res.Outputs {
				vals, err := formatValues(t)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "output[%d] %s %v = %s\n", i, t.Info.DatumType, t.Shape(), vals)
			}
			return saveProof(cmd, res.Artifact, proofPath)
		},
	}
	conn.register(cmd)
	in.register(cmd)
	cmd.Flags().BoolVar(&sign, "sign", true, "Ask for a signed response and validate it")
	cmd.Flags().StringVar(&proofPath, "proof", "", "Write the signed response to this file")
	return cmd
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.values, "input", "", "Comma-separated values of a single input tensor")
	cmd.Flags().StringVar(&f.shape, "shape", "", "Shape of --input (default: flat)")
	cmd.Flags().StringVar(&f.dtype, "dtype", "f32", "Datum type of --input")
	cmd.Flags().StringVar(&f.file, "inputs", "", "JSON file of input tensors: [{\"dims\":[2],\"datum_type\":\"f32\",\"values\":[1,2]}]")
}

func newDeleteCmd() *cobra.Command {
	var (
		conn      connFlags
		sign      bool
		proofPath string
	)
	cmd := &cobra.Command{
		Use:   "delete <model-id>",
		Short: "Delete a model from the enclave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := conn.connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.DeleteModel(cmd.Context(), args[0], sign)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted=%s\n", res.ModelID)
			return saveProof(cmd, res.Artifact, proofPath)
		},
	}
	conn.register(cmd)
	cmd.Flags().BoolVar(&sign, "sign", true, "Ask for a signed response and validate it")
	cmd.Flags().StringVar(&proofPath, "proof", "", "Write the signed response to this file")
	return cmd
}
