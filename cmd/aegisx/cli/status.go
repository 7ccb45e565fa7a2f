package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the aegisx server is running",
		Long:  "Query the readiness endpoint of the server at server.host:server.port.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

func runStatus(out io.Writer) error {
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("http://%s:%d/readyz", host, viper.GetInt("server.port"))

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		fmt.Fprintf(out, "Server is not responding at %s\n", addr)
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode readiness response: %w", err)
	}

	fmt.Fprintf(out, "Server is %s (%d)\n", body.Status, resp.StatusCode)
	fmt.Fprintf(out, "  Ready:   %s\n", addr)
	fmt.Fprintf(out, "  Store:   %s\n", body.Checks["store"])
	fmt.Fprintf(out, "  License: %s\n", body.Checks["license"])
	return nil
}
