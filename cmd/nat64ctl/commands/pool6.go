package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonat64/internal/control"
)

func pool6Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool6",
		Short: "Manage the IPv6 NAT64 prefix pool",
	}
	cmd.AddCommand(pool6ListCmd())
	cmd.AddCommand(pool6CountCmd())
	cmd.AddCommand(pool6AddCmd())
	cmd.AddCommand(pool6RemoveCmd())
	return cmd
}

func pool6ListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured NAT64 prefixes",
		RunE: func(_ *cobra.Command, _ []string) error {
			enc := control.NewEncoder()
			resp, err := client.Do(control.ModePool6, control.OpDisplay, enc.Bytes())
			if err != nil {
				return fmt.Errorf("pool6 display: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}

			dec := control.NewDecoder(resp.Payload)
			count, err := dec.U16()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if _, err := dec.Bool(); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			columns := []string{"PREFIX"}
			var rows [][]string
			for i := uint16(0); i < count; i++ {
				addr, err := dec.Str()
				if err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				length, err := dec.U8()
				if err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				rows = append(rows, []string{fmt.Sprintf("%s/%d", addr, length)})
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

func pool6CountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count configured NAT64 prefixes",
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.Do(control.ModePool6, control.OpCount, nil)
			if err != nil {
				return fmt.Errorf("pool6 count: %w", err)
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

func pool6AddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <prefix>",
		Short: "Add an IPv6 NAT64 prefix (e.g. 64:ff9b::/96)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, length, err := splitPrefix(args[0])
			if err != nil {
				return err
			}
			enc := control.NewEncoder()
			enc.Str(addr)
			enc.U8(length)
			resp, err := client.Do(control.ModePool6, control.OpAdd, enc.Bytes())
			if err != nil {
				return fmt.Errorf("pool6 add: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}
			fmt.Println("added")
			return nil
		},
	}
}

func pool6RemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <prefix>",
		Short: "Remove an IPv6 NAT64 prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, length, err := splitPrefix(args[0])
			if err != nil {
				return err
			}
			enc := control.NewEncoder()
			enc.Str(addr)
			enc.U8(length)
			resp, err := client.Do(control.ModePool6, control.OpRemove, enc.Bytes())
			if err != nil {
				return fmt.Errorf("pool6 remove: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}
			fmt.Println("removed")
			return nil
		},
	}
}

// splitPrefix splits "addr/len" into its address and length parts.
func splitPrefix(s string) (addr string, length uint8, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid prefix %q: expected addr/len", s)
	}
	n, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("invalid prefix length in %q: %w", s, err)
	}
	return parts[0], uint8(n), nil
}
