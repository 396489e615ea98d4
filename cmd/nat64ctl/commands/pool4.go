package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonat64/internal/control"
)

func pool4Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool4",
		Short: "Manage the IPv4 NAT64 translator address pool",
	}
	cmd.AddCommand(pool4ListCmd())
	cmd.AddCommand(pool4CountCmd())
	cmd.AddCommand(pool4AddCmd())
	cmd.AddCommand(pool4RemoveCmd())
	return cmd
}

func pool4ListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured IPv4 pool addresses",
		RunE: func(_ *cobra.Command, _ []string) error {
			columns := []string{"ADDRESS"}
			var rows [][]string

			cursor := ""
			iterate := false
			for {
				enc := control.NewEncoder()
				enc.Bool(iterate)
				enc.Str(cursor)

				resp, err := client.Do(control.ModePool4, control.OpDisplay, enc.Bytes())
				if err != nil {
					return fmt.Errorf("pool4 display: %w", err)
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
					addr, err := dec.Str()
					if err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
					rows = append(rows, []string{addr})
					cursor = addr
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

func pool4CountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count configured IPv4 pool addresses",
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.Do(control.ModePool4, control.OpCount, nil)
			if err != nil {
				return fmt.Errorf("pool4 count: %w", err)
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

func pool4AddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <address>",
		Short: "Add an IPv4 pool address",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			enc := control.NewEncoder()
			enc.Str(args[0])
			resp, err := client.Do(control.ModePool4, control.OpAdd, enc.Bytes())
			if err != nil {
				return fmt.Errorf("pool4 add: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}
			fmt.Println("added")
			return nil
		},
	}
}

func pool4RemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <address>",
		Short: "Remove an IPv4 pool address",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			enc := control.NewEncoder()
			enc.Str(args[0])
			resp, err := client.Do(control.ModePool4, control.OpRemove, enc.Bytes())
			if err != nil {
				return fmt.Errorf("pool4 remove: %w", err)
			}
			if resp.Status != control.StatusOK {
				return statusError(resp)
			}
			fmt.Println("removed")
			return nil
		},
	}
}
