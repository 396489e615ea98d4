package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonat64/internal/control"
)

func generalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "general",
		Short: "Show the daemon's running translator configuration",
	}
	cmd.AddCommand(generalShowCmd())
	return cmd
}

func generalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display session timeouts and translate settings",
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.Do(control.ModeGeneral, control.OpDisplay, nil)
			if err != nil {
				return fmt.Errorf("general display: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}

			dec := control.NewDecoder(resp.Payload)
			udpTimeout, err := dec.U64()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			icmpTimeout, err := dec.U64()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			tcpEstTimeout, err := dec.U64()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			tcpTransTimeout, err := dec.U64()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			tcpSynTimeout, err := dec.U64()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			maxPkts, err := dec.U32()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			dropByAddr, err := dec.Bool()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			dropICMPv6Info, err := dec.Bool()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			dropExternalTCP, err := dec.Bool()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			resetTrafficClass, err := dec.Bool()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			resetTOS, err := dec.Bool()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			newTOS, err := dec.U8()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			dfAlwaysOn, err := dec.Bool()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			buildIPv4ID, err := dec.Bool()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			lowerMTUFail, err := dec.Bool()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			minIPv6MTU, err := dec.U16()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			plateauCount, err := dec.U16()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			plateaus := make([]uint16, 0, plateauCount)
			for i := uint16(0); i < plateauCount; i++ {
				p, err := dec.U16()
				if err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				plateaus = append(plateaus, p)
			}
			fragmentTimeout, err := dec.U64()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			columns := []string{"SETTING", "VALUE"}
			rows := [][]string{
				{"udp_timeout", (time.Duration(udpTimeout) * time.Millisecond).String()},
				{"icmp_timeout", (time.Duration(icmpTimeout) * time.Millisecond).String()},
				{"tcp_est_timeout", (time.Duration(tcpEstTimeout) * time.Millisecond).String()},
				{"tcp_trans_timeout", (time.Duration(tcpTransTimeout) * time.Millisecond).String()},
				{"tcp_syn_timeout", (time.Duration(tcpSynTimeout) * time.Millisecond).String()},
				{"pktqueue.max_pkts", fmt.Sprint(maxPkts)},
				{"filtering.drop_by_addr", fmt.Sprint(dropByAddr)},
				{"filtering.drop_icmp6_info", fmt.Sprint(dropICMPv6Info)},
				{"filtering.drop_external_tcp", fmt.Sprint(dropExternalTCP)},
				{"reset_traffic_class", fmt.Sprint(resetTrafficClass)},
				{"reset_tos", fmt.Sprint(resetTOS)},
				{"new_tos", fmt.Sprint(newTOS)},
				{"df_always_on", fmt.Sprint(dfAlwaysOn)},
				{"build_ipv4_id", fmt.Sprint(buildIPv4ID)},
				{"lower_mtu_fail", fmt.Sprint(lowerMTUFail)},
				{"min_ipv6_mtu", fmt.Sprint(minIPv6MTU)},
				{"mtu_plateaus", fmt.Sprint(plateaus)},
				{"fragmentation.fragment_timeout", (time.Duration(fragmentTimeout) * time.Millisecond).String()},
			}

			out, err := renderRows(columns, rows, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}
