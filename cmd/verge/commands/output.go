package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloudverge/cloudverge/pkg/engine"
	"github.com/cloudverge/cloudverge/pkg/policy"
	"github.com/cloudverge/cloudverge/pkg/stores"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPolicyResult(result *policy.Result) {
	for _, v := range result.Violations {
		fmt.Printf("DENY  [%s] %s: %s\n", v.Policy, v.Resource, v.Message)
	}
	for _, w := range result.Warnings {
		fmt.Printf("WARN  [%s] %s: %s\n", w.Policy, w.Resource, w.Message)
	}
}

func printRun(run *engine.Run) error {
	if jsonOutput {
		return printJSON(run)
	}

	for _, g := range run.Groups {
		printResourceHeader("group", g.GroupName, g.Changed)
		for _, a := range g.Actions {
			printAction(a)
		}
		for _, w := range g.Warnings {
			fmt.Printf("    warning: %s\n", w)
		}
	}
	for _, i := range run.Instances {
		name := "instances"
		if len(i.InstanceIDs) > 0 {
			name = fmt.Sprintf("instances %v", i.InstanceIDs)
		}
		printResourceHeader("instance", name, i.Changed)
		for _, a := range i.Actions {
			printAction(a)
		}
		for _, w := range i.Warnings {
			fmt.Printf("    warning: %s\n", w)
		}
	}

	s := run.Summary
	fmt.Printf("\nRun %s: %s\n", run.ID, run.Describe())
	fmt.Printf("  groups: %d total, %d changed, %d created\n",
		s.GroupsTotal, s.GroupsChanged, s.GroupsCreated)
	fmt.Printf("  instances: %d spec(s), %d changed\n",
		s.InstancesTotal, s.InstancesChanged)
	fmt.Printf("  rules: %d authorized, %d revoked\n", s.RulesAuthorized, s.RulesRevoked)
	if s.Errors > 0 {
		fmt.Printf("  errors: %d\n", s.Errors)
	}
	return nil
}

func printResourceHeader(kind, name string, changed bool) {
	marker := " "
	if changed {
		marker = "~"
	}
	fmt.Printf("%s %s %s\n", marker, kind, name)
}

func printAction(a engine.Action) {
	if a.Direction != "" {
		fmt.Printf("    %s %s (%s): %s\n", a.Type, a.Resource, a.Direction, a.Detail)
		return
	}
	fmt.Printf("    %s %s: %s\n", a.Type, a.Resource, a.Detail)
}

func printRunRecords(records []stores.RunRecord) error {
	if jsonOutput {
		return printJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	fmt.Printf("%-36s  %-12s  %-10s  %-6s  %-20s  %s\n",
		"ID", "WORKSPACE", "STATUS", "MODE", "STARTED", "CHANGES")
	for _, rec := range records {
		mode := "apply"
		if rec.CheckMode {
			mode = "check"
		}
		fmt.Printf("%-36s  %-12s  %-10s  %-6s  %-20s  %dg/%di\n",
			rec.ID, rec.Workspace, rec.Status, mode,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			rec.Summary.GroupsChanged, rec.Summary.InstancesChanged)
	}
	return nil
}

func printDriftEvents(events []stores.DriftEvent) error {
	if jsonOutput {
		return printJSON(events)
	}

	if len(events) == 0 {
		fmt.Println("no drift events recorded")
		return nil
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-8s  %s/%s  %s",
			ev.DetectedAt.Format("2006-01-02 15:04:05"),
			ev.Status, ev.ResourceType, ev.Name, ev.Detail)
		fmt.Println(line)
	}
	return nil
}
