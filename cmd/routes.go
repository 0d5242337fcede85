package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/encodeous/reflex/core"
	"github.com/encodeous/reflex/state"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// routesCmd runs an offline planning pass and prints the tables that would
// be installed, optionally with links marked as failed.
var routesCmd = &cobra.Command{
	Use:     "routes",
	Aliases: []string{"r"},
	Short:   "Print primary and loop-free alternate tables for a topology",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		topo, err := state.NewTopology(cfg)
		if err != nil {
			panic(err)
		}

		failed := make(state.FailureSet)
		fails, _ := cmd.Flags().GetStringArray("fail")
		for _, f := range fails {
			a, b, ok := strings.Cut(f, "-")
			if !ok {
				panic(fmt.Errorf("bad link %q, expected a-b", f))
			}
			l := state.NewLink(state.NodeId(a), state.NodeId(b))
			if !topo.HasLink(l) {
				panic(fmt.Errorf("unknown link %s", l))
			}
			failed.Add(l)
		}

		tables, _ := core.ComputeTables(topo, failed)

		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"Switch", "Destination", "Primary", "Backup", "Note"})
		for _, swId := range topo.Switches() {
			t := tables[swId]
			for _, index := range t.SortedIndices() {
				host, _ := topo.HostByIndex(index)
				note := ""
				if t.NoLFA[index] {
					note = "no LFA"
				}
				tw.Append([]string{
					string(swId),
					string(host),
					portLabel(topo, swId, t.Primary[index]),
					portLabel(topo, swId, t.Backup[index]),
					note,
				})
			}
			for _, host := range topo.Hosts() {
				index, _ := topo.HostIndex(host)
				if _, ok := t.Primary[index]; !ok {
					tw.Append([]string{string(swId), string(host), "-", "-", "unreachable"})
				}
			}
		}
		tw.Render()
	},
}

func portLabel(topo *state.Topology, sw state.NodeId, port uint16) string {
	peer, ok := topo.PeerOf(sw, port)
	if !ok {
		return fmt.Sprintf("p%d", port)
	}
	return fmt.Sprintf("p%d (%s)", port, peer)
}

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().StringArray("fail", nil, "Treat a link as failed, e.g. --fail s1-s2 (repeatable)")
}
