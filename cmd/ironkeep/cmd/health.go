package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/health"
	"github.com/jmcleod/ironkeep/syncer"
	"github.com/jmcleod/ironkeep/vault"
)

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

type healthResult struct {
	Email   string        `json:"email"`
	Items   int           `json:"items"`
	Scored  int           `json:"scored"`
	Healthy bool          `json:"healthy"`
	Checks  []checkResult `json:"checks"`
}

// buildHealthResult turns a password health report and the sync state
// into pass/warn/fail checks. Weak and reused passwords fail; unconfirmed
// local changes only warn.
func buildHealthResult(views []*vault.CipherView, rep health.Report, st syncer.State) healthResult {
	names := make(map[string]string, len(views))
	for _, v := range views {
		names[v.ID] = v.Name
	}
	label := func(ids []string) string {
		out := make([]string, len(ids))
		for i, id := range ids {
			if n := names[id]; n != "" {
				out[i] = fmt.Sprintf("%s (%s)", n, id)
			} else {
				out[i] = id
			}
		}
		return strings.Join(out, ", ")
	}

	result := healthResult{Items: len(views), Scored: len(rep.Scores), Healthy: true}

	if len(rep.Weak) == 0 {
		result.Checks = append(result.Checks, checkResult{
			Name: "weak_passwords", Status: "pass",
			Detail: fmt.Sprintf("%d password(s) scored", len(rep.Scores)),
		})
	} else {
		result.Healthy = false
		result.Checks = append(result.Checks, checkResult{
			Name: "weak_passwords", Status: "fail", Detail: label(rep.Weak),
		})
	}

	if len(rep.Reused) == 0 {
		result.Checks = append(result.Checks, checkResult{Name: "reused_passwords", Status: "pass"})
	} else {
		result.Healthy = false
		groups := make([]string, len(rep.Reused))
		for i, g := range rep.Reused {
			groups[i] = "[" + label(g) + "]"
		}
		result.Checks = append(result.Checks, checkResult{
			Name: "reused_passwords", Status: "fail", Detail: strings.Join(groups, " "),
		})
	}

	if pending := len(st.NotSynced) + len(st.NotUpdated); pending == 0 {
		result.Checks = append(result.Checks, checkResult{Name: "pending_changes", Status: "pass"})
	} else {
		result.Checks = append(result.Checks, checkResult{
			Name: "pending_changes", Status: "warn",
			Detail: fmt.Sprintf("%d local change(s) not yet on the server", pending),
		})
	}

	if len(st.Outdated) == 0 {
		result.Checks = append(result.Checks, checkResult{Name: "outdated_items", Status: "pass"})
	} else {
		result.Checks = append(result.Checks, checkResult{
			Name: "outdated_items", Status: "warn", Detail: label(st.Outdated),
		})
	}
	return result
}

func printHumanResult(result healthResult) {
	fmt.Printf("Password health: %s\n", result.Email)
	fmt.Printf("Items:  %d\n", result.Items)
	fmt.Printf("Scored: %d\n\n", result.Scored)

	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
		case "warn":
			tag = "[WARN]"
		}
		if c.Detail != "" {
			fmt.Printf("%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Printf("%s %s\n", tag, c.Name)
		}
	}

	fmt.Println()
	if result.Healthy {
		fmt.Println("Result: HEALTHY")
		return
	}
	failures, warnings := 0, 0
	for _, c := range result.Checks {
		switch c.Status {
		case "fail":
			failures++
		case "warn":
			warnings++
		}
	}
	fmt.Printf("Result: UNHEALTHY (%d error(s), %d warning(s))\n", failures, warnings)
}

func printJSONResult(result healthResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

var healthJSONOutput bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report weak and reused passwords",
	Long: `Syncs the vault, scores every login password with zxcvbn and reports
weak passwords, passwords shared between items and local changes the
server has not confirmed. Exits 1 when a check fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := login(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer c.Close()
		if _, err := c.Sync(cmd.Context(), false); err != nil {
			return err
		}
		rep, err := c.RecomputeHealth(cmd.Context())
		if err != nil {
			return err
		}
		result := buildHealthResult(c.Views(), rep, c.SyncState())
		result.Email = c.Session().Email

		if healthJSONOutput {
			if err := printJSONResult(result); err != nil {
				return err
			}
		} else {
			printHumanResult(result)
		}
		if !result.Healthy {
			c.Close()
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	addEmailFlag(healthCmd)
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false, "Output results as JSON")
}
