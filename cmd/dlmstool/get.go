package main

import (
	"fmt"
	"time"

	"github.com/cybroslabs/dlmscore-go/dlmsal"
	"github.com/cybroslabs/dlmscore-go/tcp"
	"github.com/cybroslabs/dlmscore-go/wrapper"
	"github.com/spf13/cobra"
)

type getFlags struct {
	host      string
	port      int
	timeout   time.Duration
	obis      string
	class     uint16
	attribute int8
}

func newGetCmd(root *rootFlags) *cobra.Command {
	flags := &getFlags{}
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read one attribute over TCP with the wrapper transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(root.profile)
			if err != nil {
				return err
			}
			obis, err := dlmsal.NewDlmsObisFromString(flags.obis)
			if err != nil {
				return err
			}
			s, err := p.dlmsSettings()
			if err != nil {
				return err
			}
			stream, err := wrapper.New(tcp.New(flags.host, flags.port, flags.timeout), p.ClientWPort, p.ServerWPort)
			if err != nil {
				return err
			}
			client, err := dlmsal.New(stream, s)
			if err != nil {
				return err
			}
			if l := root.logger(); l != nil {
				client.SetLogger(l)
			}
			if err = client.Open(); err != nil {
				_ = client.Disconnect()
				return err
			}
			item := &dlmsal.DlmsRequestItem{ClassId: flags.class, Obis: obis, Attribute: flags.attribute}
			err = client.Get([]*dlmsal.DlmsRequestItem{item})
			if cerr := client.Close(); err == nil {
				err = cerr
			}
			_ = client.Disconnect()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%v %x\n", item.Result, item.Value)
			return err
		},
	}
	cmd.Flags().StringVar(&flags.host, "host", "", "meter address")
	cmd.Flags().IntVar(&flags.port, "port", 4059, "meter port")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "connect and io timeout")
	cmd.Flags().StringVar(&flags.obis, "obis", "", "logical name, A-B:C.D.E.F")
	cmd.Flags().Uint16Var(&flags.class, "class", 1, "interface class")
	cmd.Flags().Int8Var(&flags.attribute, "attribute", 2, "attribute index")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("obis")
	return cmd
}
