// Command swapctl is the operator CLI for swapd: it talks to the running
// daemon's admin HTTP surface (§12) to inspect and control backend
// processes. Grounded on the teacher's internal/testctl/cobra_root.go
// command-tree construction, generalized from dev-tooling subcommands to
// this system's operator verbs.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpubuilders/model-swapping-service/pkg/types"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:           "swapctl",
		Short:         "Operator CLI for the model-swapping daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", envOr("SWAPCTL_ADDR", "http://localhost:8080"), "swapd base URL")

	root.AddCommand(
		psCmd(&addr),
		unloadCmd(&addr),
		eventsCmd(&addr),
		modelsCmd(&addr),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func psCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:     "ps",
		Aliases: []string{"status", "running"},
		Short:   "List every backend process and its lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.RunningResponse
			if err := getJSON(*addr+"/running", &resp); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-24s %-16s %-10s %-8s %s\n", "MODEL", "GROUP", "STATE", "INFLIGHT", "STARTED")
			for _, p := range resp.Processes {
				fmt.Fprintf(w, "%-24s %-16s %-10s %-8d %s\n", p.ModelID, p.GroupID, p.State, p.InFlight, p.StartedAt)
			}
			return nil
		},
	}
}

func modelsCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.ModelsResponse
			if err := getJSON(*addr+"/v1/models", &resp); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, m := range resp.Data {
				fmt.Fprintln(w, m.ID)
			}
			return nil
		},
	}
}

func unloadCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unload <model>",
		Short: "Force-evict a model's backend process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(*addr+"/unload/"+args[0], "application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			var out types.UnloadResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: stopped=%v\n", out.ModelID, out.Stopped)
			return nil
		},
	}
}

func eventsCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Tail lifecycle state changes as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(*addr + "/logs/stream")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			w := cmd.OutOrStdout()
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := strings.TrimPrefix(scanner.Text(), "data: ")
				if line == "" {
					continue
				}
				var ev struct {
					ModelID  string `json:"ModelID"`
					Old      string `json:"Old"`
					New      string `json:"New"`
					UnixNano int64  `json:"UnixNano"`
				}
				if err := json.Unmarshal([]byte(line), &ev); err != nil {
					continue
				}
				ts := time.Unix(0, ev.UnixNano).Format(time.RFC3339)
				fmt.Fprintf(w, "%s %s: %s -> %s\n", ts, ev.ModelID, ev.Old, ev.New)
			}
			return scanner.Err()
		},
	}
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
