package main

import (
	"fmt"

	"github.com/cybroslabs/dlmscore-go/dlmsal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type aarqFlags struct {
	showSecrets bool
}

func newAARQCmd(root *rootFlags) *cobra.Command {
	flags := &aarqFlags{}
	cmd := &cobra.Command{
		Use:   "aarq",
		Short: "Build the association request of the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(root.profile)
			if err != nil {
				return err
			}
			s, err := p.dlmsSettings()
			if err != nil {
				return err
			}
			s.ShowSecuredValues = flags.showSecrets
			n, err := dlmsal.NewClientNegotiator(s)
			if err != nil {
				return err
			}
			n.SetLogger(root.logger())
			out, outnosec, err := n.BuildAARQ()
			if err != nil {
				return err
			}
			if !flags.showSecrets {
				out = outnosec
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%x\n", out)
			return err
		},
	}
	cmd.Flags().BoolVar(&flags.showSecrets, "show-secrets", false, "print the password instead of zeroes")
	return cmd
}

type initiateView struct {
	DlmsVersion       byte   `yaml:"dlms_version"`
	Conformance       string `yaml:"conformance"`
	MaxReceivePduSize uint16 `yaml:"max_receive_pdu_size"`
	VAA               string `yaml:"vaa"`
	QualityOfService  *byte  `yaml:"quality_of_service,omitempty"`
}

type aareView struct {
	ApplicationContext  byte          `yaml:"application_context"`
	Result              string        `yaml:"result"`
	Diagnostic          byte          `yaml:"diagnostic"`
	RespondingTitle     hexBytes      `yaml:"responding_title,omitempty"`
	Mechanism           byte          `yaml:"mechanism"`
	AuthenticationValue hexBytes      `yaml:"authentication_value,omitempty"`
	InitiateCiphered    bool          `yaml:"initiate_ciphered"`
	Initiate            *initiateView `yaml:"initiate,omitempty"`
	ServiceError        string        `yaml:"service_error,omitempty"`
}

func newAARECmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "aare <aare hex>",
		Short: "Decode an association response, deciphering its user information with the profile keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(root.profile)
			if err != nil {
				return err
			}
			src, err := decodeHex(args[0])
			if err != nil {
				return err
			}
			var aare *dlmsal.AARE
			if p.SystemTitle != nil {
				c, err := p.context(false)
				if err != nil {
					return err
				}
				aare, err = dlmsal.DecodeAARE(src, c)
				if err != nil {
					return err
				}
			} else if aare, err = dlmsal.DecodeAARE(src, nil); err != nil {
				return err
			}
			v := &aareView{
				ApplicationContext:  byte(aare.ApplicationContext),
				Result:              aare.Result.String(),
				Diagnostic:          byte(aare.Diagnostic),
				RespondingTitle:     aare.RespondingTitle,
				Mechanism:           byte(aare.Mechanism),
				AuthenticationValue: aare.AuthenticationValue,
				InitiateCiphered:    aare.InitiateCiphered,
			}
			if ir := aare.Initiate; ir != nil {
				v.Initiate = &initiateView{
					DlmsVersion:       ir.DlmsVersion,
					Conformance:       fmt.Sprintf("%06x", ir.Conformance),
					MaxReceivePduSize: ir.MaxReceivePduSize,
					VAA:               fmt.Sprintf("%04x", ir.VAA),
					QualityOfService:  ir.NegotiatedQualityOfService,
				}
			}
			if aare.ServiceError != nil {
				v.ServiceError = fmt.Sprintf("%x", aare.ServiceError.Encode())
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(v)
		},
	}
}
