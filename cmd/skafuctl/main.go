package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	apiclient "github.com/Bikxs/Skafu-sub001/pkg/api/client"
	"github.com/Bikxs/Skafu-sub001/pkg/jwt"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "token":
		err = commandToken(args)
	case "project":
		err = commandProject(args)
	case "service":
		err = commandService(args)
	case "relationship":
		err = commandRelationship(args)
	case "deploy":
		err = commandDeploy(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commandToken mints a local development token signed with the shared
// secret, matching what the identity provider would issue.
func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner ID to embed in the token")
	secret := fs.String("secret", "", "Signing secret (must match the API's AUTH_JWT_SECRET)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	apiBase := fs.String("api", "", "API base URL to store alongside the token")
	fs.Parse(args)

	if strings.TrimSpace(*owner) == "" {
		return errors.New("--owner is required")
	}
	if strings.TrimSpace(*secret) == "" {
		return errors.New("--secret is required")
	}
	token, err := jwt.GenerateToken(*owner, *secret, *ttl)
	if err != nil {
		return err
	}
	cfg, _ := loadConfig()
	cfg.AccessToken = token
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("token stored")
	return nil
}

func commandProject(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: skafuctl project <create|list|get|delete> [flags]")
	}
	sub := args[0]
	args = args[1:]
	client, cfg, err := buildClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch sub {
	case "create":
		fs := flag.NewFlagSet("project create", flag.ExitOnError)
		name := fs.String("name", "", "Project name")
		description := fs.String("description", "", "Project description")
		fs.Parse(args)
		if strings.TrimSpace(*name) == "" {
			return errors.New("--name is required")
		}
		res, err := client.CreateProject(ctx, cfg.AccessToken, uuid.NewString(), apiclient.CreateProjectInput{
			Name:        *name,
			Description: *description,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (project %s)\n", res.Status, res.Message, res.ResourceID)
		return nil
	case "list":
		projects, err := client.ListProjects(ctx, cfg.AccessToken)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCREATED")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	case "get":
		fs := flag.NewFlagSet("project get", flag.ExitOnError)
		id := fs.String("id", "", "Project ID")
		fs.Parse(args)
		if strings.TrimSpace(*id) == "" {
			return errors.New("--id is required")
		}
		detail, err := client.GetProject(ctx, cfg.AccessToken, *id)
		if err != nil {
			return err
		}
		return printJSON(detail)
	case "delete":
		fs := flag.NewFlagSet("project delete", flag.ExitOnError)
		id := fs.String("id", "", "Project ID")
		fs.Parse(args)
		if strings.TrimSpace(*id) == "" {
			return errors.New("--id is required")
		}
		res, err := client.DeleteProject(ctx, cfg.AccessToken, uuid.NewString(), *id)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		return nil
	default:
		return fmt.Errorf("unknown project subcommand: %s", sub)
	}
}

func commandService(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: skafuctl service <add|remove> [flags]")
	}
	sub := args[0]
	args = args[1:]
	client, cfg, err := buildClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch sub {
	case "add":
		fs := flag.NewFlagSet("service add", flag.ExitOnError)
		project := fs.String("project", "", "Project ID")
		name := fs.String("name", "", "Service name (kebab-case)")
		serviceType := fs.String("type", "API", "Service type: API, WORKER, FRONTEND or DATABASE")
		description := fs.String("description", "", "Service description")
		fs.Parse(args)
		if strings.TrimSpace(*project) == "" || strings.TrimSpace(*name) == "" {
			return errors.New("--project and --name are required")
		}
		res, err := client.AddService(ctx, cfg.AccessToken, uuid.NewString(), *project, apiclient.AddServiceInput{
			Name:        *name,
			Type:        *serviceType,
			Description: *description,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (service %s)\n", res.Status, res.Message, res.ResourceID)
		return nil
	case "remove":
		fs := flag.NewFlagSet("service remove", flag.ExitOnError)
		project := fs.String("project", "", "Project ID")
		id := fs.String("id", "", "Service ID")
		force := fs.Bool("force", false, "Cascade relationships touching the service")
		fs.Parse(args)
		if strings.TrimSpace(*project) == "" || strings.TrimSpace(*id) == "" {
			return errors.New("--project and --id are required")
		}
		res, err := client.RemoveService(ctx, cfg.AccessToken, uuid.NewString(), *project, *id, *force)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		return nil
	default:
		return fmt.Errorf("unknown service subcommand: %s", sub)
	}
}

func commandRelationship(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: skafuctl relationship <add|remove> [flags]")
	}
	sub := args[0]
	args = args[1:]
	client, cfg, err := buildClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch sub {
	case "add":
		fs := flag.NewFlagSet("relationship add", flag.ExitOnError)
		project := fs.String("project", "", "Project ID")
		source := fs.String("source", "", "Source service ID")
		target := fs.String("target", "", "Target service ID")
		relType := fs.String("type", "SYNC_API", "Relationship type: SYNC_API, ASYNC_EVENT or DATA_DEPENDENCY")
		fs.Parse(args)
		if strings.TrimSpace(*project) == "" || strings.TrimSpace(*source) == "" || strings.TrimSpace(*target) == "" {
			return errors.New("--project, --source and --target are required")
		}
		res, err := client.EstablishRelationship(ctx, cfg.AccessToken, uuid.NewString(), *project, apiclient.RelationshipInput{
			SourceServiceID: *source,
			TargetServiceID: *target,
			Type:            *relType,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (relationship %s)\n", res.Status, res.Message, res.ResourceID)
		return nil
	case "remove":
		fs := flag.NewFlagSet("relationship remove", flag.ExitOnError)
		project := fs.String("project", "", "Project ID")
		id := fs.String("id", "", "Relationship ID")
		fs.Parse(args)
		if strings.TrimSpace(*project) == "" || strings.TrimSpace(*id) == "" {
			return errors.New("--project and --id are required")
		}
		res, err := client.RemoveRelationship(ctx, cfg.AccessToken, uuid.NewString(), *project, *id)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		return nil
	default:
		return fmt.Errorf("unknown relationship subcommand: %s", sub)
	}
}

func commandDeploy(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: skafuctl deploy <start|status|list|approve|cancel|rollback> [flags]")
	}
	sub := args[0]
	args = args[1:]
	client, cfg, err := buildClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch sub {
	case "start":
		fs := flag.NewFlagSet("deploy start", flag.ExitOnError)
		project := fs.String("project", "", "Project ID")
		environment := fs.String("env", "development", "Target environment")
		strategy := fs.String("strategy", "rolling", "Deployment strategy")
		version := fs.String("version", "", "Artifact version to deploy")
		fs.Parse(args)
		if strings.TrimSpace(*project) == "" || strings.TrimSpace(*version) == "" {
			return errors.New("--project and --version are required")
		}
		res, err := client.StartDeployment(ctx, cfg.AccessToken, uuid.NewString(), *project, apiclient.StartDeploymentInput{
			Environment: *environment,
			Strategy:    *strategy,
			Version:     *version,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (deployment %s)\n", res.Status, res.Message, res.ResourceID)
		return nil
	case "status":
		fs := flag.NewFlagSet("deploy status", flag.ExitOnError)
		id := fs.String("id", "", "Deployment ID")
		fs.Parse(args)
		if strings.TrimSpace(*id) == "" {
			return errors.New("--id is required")
		}
		dep, err := client.GetDeployment(ctx, cfg.AccessToken, *id)
		if err != nil {
			return err
		}
		fmt.Printf("deployment %s: %s (%s to %s, %d%% done)\n", dep.ID, dep.Status, dep.Strategy, dep.Environment, dep.PercentComplete)
		for _, step := range dep.Steps {
			fmt.Printf("  %-24s %s\n", step.Name, step.Status)
		}
		if dep.FailureReason != "" {
			fmt.Printf("  failure: %s\n", dep.FailureReason)
		}
		return nil
	case "list":
		fs := flag.NewFlagSet("deploy list", flag.ExitOnError)
		project := fs.String("project", "", "Project ID")
		fs.Parse(args)
		if strings.TrimSpace(*project) == "" {
			return errors.New("--project is required")
		}
		deployments, err := client.ListDeployments(ctx, cfg.AccessToken, *project)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tENV\tSTRATEGY\tVERSION\tSTATUS\tCREATED")
		for _, d := range deployments {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.Environment, d.Strategy, d.Version, d.Status, d.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	case "approve":
		fs := flag.NewFlagSet("deploy approve", flag.ExitOnError)
		id := fs.String("id", "", "Deployment ID")
		fs.Parse(args)
		if strings.TrimSpace(*id) == "" {
			return errors.New("--id is required")
		}
		res, err := client.ApproveDeployment(ctx, cfg.AccessToken, uuid.NewString(), *id)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		return nil
	case "cancel":
		fs := flag.NewFlagSet("deploy cancel", flag.ExitOnError)
		id := fs.String("id", "", "Deployment ID")
		reason := fs.String("reason", "", "Cancellation reason")
		fs.Parse(args)
		if strings.TrimSpace(*id) == "" {
			return errors.New("--id is required")
		}
		res, err := client.CancelDeployment(ctx, cfg.AccessToken, uuid.NewString(), *id, *reason)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		return nil
	case "rollback":
		fs := flag.NewFlagSet("deploy rollback", flag.ExitOnError)
		id := fs.String("id", "", "Deployment ID")
		reason := fs.String("reason", "", "Rollback reason")
		fs.Parse(args)
		if strings.TrimSpace(*id) == "" {
			return errors.New("--id is required")
		}
		res, err := client.RollbackDeployment(ctx, cfg.AccessToken, uuid.NewString(), *id, *reason)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		return nil
	default:
		return fmt.Errorf("unknown deploy subcommand: %s", sub)
	}
}

func buildClient() (*apiclient.Client, cliConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cliConfig{}, err
	}
	if cfg.AccessToken == "" {
		return nil, cliConfig{}, errors.New("no access token stored, run skafuctl token first")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, cliConfig{}, err
	}
	return client, cfg, nil
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".skafu", "config.json"), nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cliConfig{}, nil
	}
	if err != nil {
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printVersion() {
	fmt.Printf("skafuctl %s\n", buildVersion)
}

func printUsage() {
	fmt.Println(`skafuctl - project and deployment management

Usage:
  skafuctl token --owner <id> --secret <secret> [--ttl 24h] [--api URL]
  skafuctl project <create|list|get|delete> [flags]
  skafuctl service <add|remove> [flags]
  skafuctl relationship <add|remove> [flags]
  skafuctl deploy <start|status|list|approve|cancel|rollback> [flags]
  skafuctl version`)
}
