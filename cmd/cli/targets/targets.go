package targets

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/crucial707/chaos-scheduler/cmd/cli/client"
	"github.com/crucial707/chaos-scheduler/cmd/cli/config"
	"github.com/crucial707/chaos-scheduler/cmd/cli/output"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ==========================
// Init Targets
// ==========================
func InitTargets(rootCmd *cobra.Command) {
	targetsCmd := &cobra.Command{
		Use:     "targets",
		Aliases: []string{"target"},
		Short:   "Manage chaos targets",
	}

	targetsCmd.AddCommand(
		listTargetsCmd(),
		registerTargetCmd(),
		importTargetsCmd(),
		discoverTargetsCmd(),
		checkTargetCmd(),
		actionCmd(),
		deleteTargetCmd(),
	)

	rootCmd.AddCommand(targetsCmd)
}

func address(t models.Target) string {
	switch {
	case t.Server != nil:
		port := t.Server.Port
		if port == 0 {
			port = 22
		}
		return fmt.Sprintf("%s@%s:%d", t.Server.Username, t.Server.Host, port)
	case t.Container != nil:
		return t.Container.Endpoint + " " + t.Container.ContainerID
	}
	return "-"
}

func renderTargets(cmd *cobra.Command, targets []models.Target) {
	rows := make([][]interface{}, 0, len(targets))
	for _, t := range targets {
		rows = append(rows, []interface{}{t.ID, t.Name, t.Type, address(t), t.Status, output.Time(t.LastCheckedAt)})
	}
	output.RenderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Type", "Address", "Status", "Last Checked"}, rows)
}

// ==========================
// LIST
// ==========================
func listTargetsCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			var targets []models.Target
			path := fmt.Sprintf("/targets?limit=%d&offset=%d", limit, offset)
			if err := client.Get(cmd.Context(), path, &targets); err != nil {
				return err
			}
			if config.JSONOutput() {
				return output.PrintJSON(cmd.OutOrStdout(), targets)
			}
			renderTargets(cmd, targets)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max targets to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "targets to skip")
	return cmd
}

// ==========================
// REGISTER
// ==========================
func registerTargetCmd() *cobra.Command {
	var (
		t                      models.Target
		targetType             string
		host, user, cred, auth string
		port                   int
		endpoint, container    string
		tls                    bool
	)

	cmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Register a server or container target",
		Example: `  chaosctl targets register web-1 --type server --host 10.0.0.5 --user ops --credential lab-key
  chaosctl targets register pg --type container --endpoint tcp://10.0.0.9:2375 --container pg-primary`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t.Name = args[0]
			t.Type = models.TargetType(targetType)
			switch t.Type {
			case models.TargetServer:
				t.Server = &models.ServerConn{Host: host, Port: port, Username: user, CredentialRef: cred, AuthMethod: auth}
			case models.TargetContainer:
				t.Container = &models.ContainerConn{Endpoint: endpoint, ContainerID: container, TLS: tls, CredentialRef: cred}
			default:
				return fmt.Errorf("--type must be server or container")
			}

			var created models.Target
			if err := client.Post(cmd.Context(), "/targets", t, &created); err != nil {
				return err
			}
			if config.JSONOutput() {
				return output.PrintJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered target %d (%s)\n", created.ID, created.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&targetType, "type", "server", "server or container")
	cmd.Flags().StringVar(&host, "host", "", "server host or IP")
	cmd.Flags().IntVar(&port, "port", 0, "server SSH port (default 22)")
	cmd.Flags().StringVar(&user, "user", "", "server login user")
	cmd.Flags().StringVar(&auth, "auth", "", "server auth method: key or password")
	cmd.Flags().StringVar(&cred, "credential", "", "credential reference")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "container runtime endpoint, e.g. unix:///var/run/docker.sock")
	cmd.Flags().StringVar(&container, "container", "", "container id or name")
	cmd.Flags().BoolVar(&tls, "tls", false, "use TLS for the container runtime")
	return cmd
}

// parseImport reads targets from YAML. Keys follow the API's JSON field names,
// so the document is re-encoded as JSON before decoding into models.Target.
func parseImport(data []byte) ([]models.Target, error) {
	var raw struct {
		Targets []map[string]interface{} `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}
	out := make([]models.Target, 0, len(raw.Targets))
	for i, m := range raw.Targets {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}
		var t models.Target
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}
		if t.Name == "" {
			return nil, fmt.Errorf("target %d: name is required", i+1)
		}
		out = append(out, t)
	}
	return out, nil
}

// ==========================
// IMPORT
// ==========================
func importTargetsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Register every target listed in a YAML file",
		Long: `Register targets from a YAML file of the form:

  targets:
    - name: web-1
      type: server
      server: {host: 10.0.0.5, username: ops, credential_ref: lab-key}
    - name: pg
      type: container
      container: {endpoint: "tcp://10.0.0.9:2375", container_id: pg-primary}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			list, err := parseImport(data)
			if err != nil {
				return err
			}

			var failed int
			rows := make([][]interface{}, 0, len(list))
			for _, t := range list {
				var created models.Target
				if err := client.Post(cmd.Context(), "/targets", t, &created); err != nil {
					failed++
					rows = append(rows, []interface{}{"-", t.Name, "error: " + err.Error()})
					continue
				}
				rows = append(rows, []interface{}{created.ID, created.Name, "registered"})
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Result"}, rows)
			if failed > 0 {
				return fmt.Errorf("%d of %d targets failed to import", failed, len(list))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with targets")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// ==========================
// DISCOVER
// ==========================
type discovery struct {
	Endpoint   string          `json:"endpoint"`
	Registered []models.Target `json:"registered"`
	Refreshed  []models.Target `json:"refreshed"`
	Missing    []models.Target `json:"missing"`
}

func discoverTargetsCmd() *cobra.Command {
	var (
		endpoint, credential string
		tls                  bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Register every container found on a container-runtime host",
		Example: `  chaosctl targets discover --endpoint tcp://10.0.0.9:2375
  chaosctl targets discover --endpoint tcp://10.0.0.9:2376 --tls --credential docker-tls`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]interface{}{"endpoint": endpoint, "tls": tls, "credential_ref": credential}
			var d discovery
			if err := client.Post(cmd.Context(), "/targets/discover", payload, &d); err != nil {
				return err
			}
			if config.JSONOutput() {
				return output.PrintJSON(cmd.OutOrStdout(), d)
			}
			rows := make([][]interface{}, 0, len(d.Registered)+len(d.Refreshed)+len(d.Missing))
			for _, group := range []struct {
				change string
				list   []models.Target
			}{{"registered", d.Registered}, {"refreshed", d.Refreshed}, {"missing", d.Missing}} {
				for _, t := range group.list {
					id := ""
					if t.Container != nil {
						id = t.Container.ContainerID
					}
					rows = append(rows, []interface{}{t.ID, t.Name, id, t.Status, group.change})
				}
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Container", "Status", "Change"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "runtime API endpoint, e.g. tcp://host:2375 or unix:///var/run/docker.sock")
	cmd.Flags().BoolVar(&tls, "tls", false, "use TLS client certificates from --credential")
	cmd.Flags().StringVar(&credential, "credential", "", "credential ref holding the TLS material")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

// ==========================
// CHECK
// ==========================
func checkTargetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check ID",
		Short: "Probe a target and record its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("invalid target id %q", args[0])
			}
			var out struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			}
			err := client.Post(cmd.Context(), "/targets/"+args[0]+"/check", nil, &out)
			if out.Status != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Target %s is %s\n", args[0], out.Status)
			}
			return err
		},
	}
}

// ==========================
// ACTION
// ==========================
func actionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "action ID stop|start|restart",
		Short:     "Run a chaos action now, outside any schedule",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"stop", "start", "restart"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("invalid target id %q", args[0])
			}
			if !models.Action(args[1]).Valid() {
				return fmt.Errorf("action must be stop, start or restart")
			}

			// Successful runs decode as the record; failed ones as {error, run}.
			var resp struct {
				models.RunRecord
				Run *models.RunRecord `json:"run"`
			}
			err := client.Post(cmd.Context(), "/targets/"+args[0]+"/actions/"+args[1], nil, &resp)
			rec := &resp.RunRecord
			if resp.Run != nil {
				rec = resp.Run
			}
			if rec.TriggerID != "" {
				if config.JSONOutput() {
					_ = output.PrintJSON(cmd.OutOrStdout(), rec)
				} else {
					output.RenderTable(cmd.OutOrStdout(),
						[]string{"Run", "Target", "Action", "Status", "Attempts", "Detail"},
						[][]interface{}{{rec.ID, rec.TargetName, rec.Action, rec.Status, rec.Attempts, detail(rec)}})
				}
			}
			return err
		},
	}
}

func detail(rec *models.RunRecord) string {
	if rec.Error != "" {
		return rec.Error
	}
	return rec.Detail
}

// ==========================
// DELETE
// ==========================
func deleteTargetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a target no experiment references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), "/targets/"+args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Target %s deleted\n", args[0])
			return nil
		},
	}
}
