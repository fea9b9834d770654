package main

import (
	"fmt"
	"math"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/ciphering"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type encryptFlags struct {
	frameCounter int64
}

func newEncryptCmd(root *rootFlags) *cobra.Command {
	flags := &encryptFlags{}
	cmd := &cobra.Command{
		Use:   "encrypt <apdu hex>",
		Short: "Cipher an APDU into its global ciphered envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(root.profile)
			if err != nil {
				return err
			}
			apdu, err := decodeHex(args[0])
			if err != nil {
				return err
			}
			if len(apdu) == 0 {
				return fmt.Errorf("empty apdu: %w", base.ErrFormat)
			}
			c, err := p.context(false)
			if err != nil {
				return err
			}
			c.SetLogger(root.logger())
			if cmd.Flags().Changed("frame-counter") {
				if flags.frameCounter < 0 || flags.frameCounter > math.MaxUint32 {
					return fmt.Errorf("frame counter %d out of range: %w", flags.frameCounter, base.ErrConfiguration)
				}
				c.SetFrameCounter(uint32(flags.frameCounter))
			}
			glo, err := ciphering.GloCommand(base.CosemTag(apdu[0]))
			if err != nil {
				return err
			}
			out, err := c.Encrypt(glo, apdu)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%x\n", out)
			return err
		},
	}
	cmd.Flags().Int64Var(&flags.frameCounter, "frame-counter", 0, "frame counter to use instead of the profile one")
	return cmd
}

type decryptFlags struct {
	own bool
}

type decrypted struct {
	Command      string   `yaml:"command"`
	Security     string   `yaml:"security"`
	Suite        byte     `yaml:"suite"`
	FrameCounter uint32   `yaml:"frame_counter"`
	Apdu         hexBytes `yaml:"apdu"`
}

func newDecryptCmd(root *rootFlags) *cobra.Command {
	flags := &decryptFlags{}
	cmd := &cobra.Command{
		Use:   "decrypt <pdu hex>",
		Short: "Decipher a global ciphered APDU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(root.profile)
			if err != nil {
				return err
			}
			pdu, err := decodeHex(args[0])
			if err != nil {
				return err
			}
			c, err := p.context(flags.own)
			if err != nil {
				return err
			}
			c.SetLogger(root.logger())
			d, err := c.Decrypt(pdu)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(&decrypted{
				Command:      fmt.Sprintf("0x%02x", byte(d.Command)),
				Security:     d.Security.String(),
				Suite:        byte(d.Suite),
				FrameCounter: d.FrameCounter,
				Apdu:         d.Apdu,
			})
		},
	}
	cmd.Flags().BoolVar(&flags.own, "own", false, "the pdu was ciphered with the profile system title")
	return cmd
}
