// Command dlmstool ciphers and deciphers DLMS APDUs, builds and decodes association PDUs and reads
// single attributes over the wrapper transport, all driven by a YAML key profile.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootFlags struct {
	profile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "dlmstool",
		Short: "DLMS/COSEM ciphering and association tool",
		Long: `dlmstool works with DLMS/COSEM APDUs using the keys and titles of a YAML profile:

  system_title: 4d4d4d0000bc614e
  peer_title: 4d4d4d0000000001
  block_cipher_key: 000102030405060708090a0b0c0d0e0f
  authentication_key: d0d1d2d3d4d5d6d7d8d9dadbdcdddedf
  security: authentication-encryption
  application_context: ln-ciphered
  authentication: gmac
`,
		Example: `  dlmstool encrypt -p meter.yaml c0010000080000010000ff0200
  dlmstool aarq -p meter.yaml
  dlmstool get -p meter.yaml --host 10.0.0.5 --obis 0-0:1.0.0.255 --class 8`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.profile, "profile", "p", "dlms.yaml", "YAML key profile")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(newEncryptCmd(flags))
	cmd.AddCommand(newDecryptCmd(flags))
	cmd.AddCommand(newAARQCmd(flags))
	cmd.AddCommand(newAARECmd(flags))
	cmd.AddCommand(newGetCmd(flags))
	return cmd
}

func (f *rootFlags) logger() *zap.SugaredLogger {
	if !f.verbose {
		return nil
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil
	}
	return l.Sugar()
}

// execute runs the command line, the exit status is the gRPC code the error classifies as.
func execute(args []string, stdout io.Writer, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	st := base.Status(err)
	fmt.Fprintf(stderr, "Error (%v): %s\n", st.Code(), st.Message())
	return int(st.Code())
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
