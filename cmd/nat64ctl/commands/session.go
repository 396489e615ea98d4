package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonat64/internal/control"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect active NAT64 sessions",
	}
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionCountCmd())
	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <udp|tcp|icmp>",
		Short: "List active sessions for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			pb, err := protoByte(args[0])
			if err != nil {
				return err
			}

			columns := []string{"IPv6-LOCAL", "IPv6-REMOTE", "IPv4-LOCAL", "IPv4-REMOTE", "TCP-STATE", "UPDATED"}
			var rows [][]string

			cursor := ""
			iterate := false
			for {
				enc := control.NewEncoder()
				enc.U8(pb)
				enc.Bool(iterate)
				enc.Str(cursor)

				resp, err := client.Do(control.ModeSession, control.OpDisplay, enc.Bytes())
				if err != nil {
					return fmt.Errorf("session display: %w", err)
				}
				if resp.Status != control.StatusOK {
					return statusError(resp)
				}

				dec := control.NewDecoder(resp.Payload)
				count, err := dec.U16()
				if err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				more, err := dec.Bool()
				if err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				for i := uint16(0); i < count; i++ {
					local6, err := dec.Str()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					remote6, err := dec.Str()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					local4, err := dec.Str()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					remote4, err := dec.Str()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					tcpState, err := dec.Str()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					updated, err := dec.U64()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					rows = append(rows, []string{
						local6, remote6, local4, remote4, tcpState,
						time.Unix(int64(updated), 0).UTC().Format(time.RFC3339),
					})
					cursor = local4
				}
				if !more {
					break
				}
				iterate = true
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

func sessionCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <udp|tcp|icmp>",
		Short: "Count active sessions for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			pb, err := protoByte(args[0])
			if err != nil {
				return err
			}
			enc := control.NewEncoder()
			enc.U8(pb)
			resp, err := client.Do(control.ModeSession, control.OpCount, enc.Bytes())
			if err != nil {
				return fmt.Errorf("session count: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}
			dec := control.NewDecoder(resp.Payload)
			n, err := dec.U32()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Println(n)
			return nil
		},
	}
}
