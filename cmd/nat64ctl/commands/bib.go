package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonat64/internal/control"
)

// protoByte maps the CLI's proto argument ("udp", "tcp", "icmp") to the
// wire byte internal/xlat.Proto expects.
func protoByte(s string) (uint8, error) {
	switch s {
	case "udp":
		return 1, nil
	case "tcp":
		return 2, nil
	case "icmp":
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q: want udp, tcp, or icmp", s)
	}
}

func bibCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bib",
		Short: "Manage Binding Information Base entries",
	}
	cmd.AddCommand(bibListCmd())
	cmd.AddCommand(bibCountCmd())
	cmd.AddCommand(bibAddCmd())
	cmd.AddCommand(bibRemoveCmd())
	return cmd
}

func bibListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <udp|tcp|icmp>",
		Short: "List BIB entries for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			pb, err := protoByte(args[0])
			if err != nil {
				return err
			}

			columns := []string{"IPv6", "IPv4", "STATIC", "REFCOUNT"}
			var rows [][]string

			cursor := ""
			iterate := false
			for {
				enc := control.NewEncoder()
				enc.U8(pb)
				enc.Bool(iterate)
				enc.Str(cursor)

				resp, err := client.Do(control.ModeBIB, control.OpDisplay, enc.Bytes())
				if err != nil {
					return fmt.Errorf("bib display: %w", err)
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
					addr6, err := dec.Str()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					addr4, err := dec.Str()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					static, err := dec.Bool()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					refcount, err := dec.U32()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					rows = append(rows, []string{addr6, addr4, strconv.FormatBool(static), strconv.FormatUint(uint64(refcount), 10)})
					cursor = addr4
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

func bibCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <udp|tcp|icmp>",
		Short: "Count BIB entries for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			pb, err := protoByte(args[0])
			if err != nil {
				return err
			}
			enc := control.NewEncoder()
			enc.U8(pb)
			resp, err := client.Do(control.ModeBIB, control.OpCount, enc.Bytes())
			if err != nil {
				return fmt.Errorf("bib count: %w", err)
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

func bibAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <udp|tcp|icmp> <addr6> <port6> <addr4> <port4>",
		Short: "Add a static BIB entry",
		Args:  cobra.ExactArgs(5),
		RunE: func(_ *cobra.Command, args []string) error {
			pb, err := protoByte(args[0])
			if err != nil {
				return err
			}
			port6, err := strconv.ParseUint(args[2], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid port6: %w", err)
			}
			port4, err := strconv.ParseUint(args[4], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid port4: %w", err)
			}

			enc := control.NewEncoder()
			enc.U8(pb)
			enc.Str(args[1])
			enc.Str(args[3])
			enc.U16(uint16(port6))
			enc.U16(uint16(port4))

			resp, err := client.Do(control.ModeBIB, control.OpAdd, enc.Bytes())
			if err != nil {
				return fmt.Errorf("bib add: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}
			fmt.Println("added")
			return nil
		},
	}
}

func bibRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <udp|tcp|icmp> <addr6> <port6>",
		Short: "Remove a BIB entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			pb, err := protoByte(args[0])
			if err != nil {
				return err
			}
			port6, err := strconv.ParseUint(args[2], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid port6: %w", err)
			}

			enc := control.NewEncoder()
			enc.U8(pb)
			enc.Str(args[1])
			enc.U16(uint16(port6))

			resp, err := client.Do(control.ModeBIB, control.OpRemove, enc.Bytes())
			if err != nil {
				return fmt.Errorf("bib remove: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}
			fmt.Println("removed")
			return nil
		},
	}
}
