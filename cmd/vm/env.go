package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/errdefs"
)

func init() {
	envCmd.AddCommand(envValidateCmd)
	envCmd.AddCommand(envDiffCmd)
	envCmd.AddCommand(envListCmd)
	rootCmd.AddCommand(envCmd)
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Check the project .env against its template",
	Long: `Projects ship an env template (project.env_template_path in vm.yaml,
.env.example by default) naming the variables the app needs. These
commands compare the developer's .env against it.`,
}

// envFiles resolves the project's .env and template paths.
func envFiles() (envPath, templatePath string, err error) {
	p, err := loadProject()
	if err != nil {
		return "", "", err
	}

	envPath = filepath.Join(p.dir, ".env")

	if t := p.cfg.Project.EnvTemplatePath; t != "" {
		if !filepath.IsAbs(t) {
			t = filepath.Join(p.dir, t)
		}
		return envPath, t, nil
	}
	for _, candidate := range []string{".env.example", ".env.template"} {
		full := filepath.Join(p.dir, candidate)
		if _, err := os.Stat(full); err == nil {
			return envPath, full, nil
		}
	}
	return "", "", errdefs.Validationf("no env template found; set project.env_template_path or add .env.example")
}

// parseEnvFile reads KEY=VALUE lines, tolerating comments, blanks and an
// `export ` prefix. A missing file yields an empty map.
func parseEnvFile(path string) (map[string]string, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil, nil
		}
		return nil, nil, errdefs.WrapFilesystem("read", path, err)
	}

	values := make(map[string]string)
	var order []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return values, order, nil
}

var envValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify .env covers every template variable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		envPath, templatePath, err := envFiles()
		if err != nil {
			return err
		}
		env, _, err := parseEnvFile(envPath)
		if err != nil {
			return err
		}
		template, templateOrder, err := parseEnvFile(templatePath)
		if err != nil {
			return err
		}
		if len(template) == 0 {
			return errdefs.Validationf("template %s has no variables", templatePath)
		}

		var missing, empty []string
		for _, key := range templateOrder {
			value, ok := env[key]
			switch {
			case !ok:
				missing = append(missing, key)
			case value == "" && template[key] != "":
				empty = append(empty, key)
			}
		}

		for _, key := range empty {
			warn("%s is empty (template suggests %q)", key, template[key])
		}
		if len(missing) > 0 {
			return errdefs.Validationf("missing from .env: %s", strings.Join(missing, ", "))
		}
		success("%d variable(s) covered", len(template))
		return nil
	},
}

var envDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show variables that differ between .env and the template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		envPath, templatePath, err := envFiles()
		if err != nil {
			return err
		}
		env, envOrder, err := parseEnvFile(envPath)
		if err != nil {
			return err
		}
		template, templateOrder, err := parseEnvFile(templatePath)
		if err != nil {
			return err
		}

		clean := true
		for _, key := range templateOrder {
			if _, ok := env[key]; !ok {
				fmt.Printf("+ %s\t(in template, missing from .env)\n", key)
				clean = false
			}
		}
		for _, key := range envOrder {
			if _, ok := template[key]; !ok {
				fmt.Printf("- %s\t(in .env, not in template)\n", key)
				clean = false
			}
		}
		if clean {
			success(".env matches the template")
		}
		return nil
	},
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List .env variables with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		envPath, _, err := envFiles()
		if err != nil {
			return err
		}
		env, _, err := parseEnvFile(envPath)
		if err != nil {
			return err
		}
		if len(env) == 0 {
			fmt.Println("(no .env or it is empty)")
			return nil
		}

		keys := make([]string, 0, len(env))
		for key := range env {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("%s=%s\n", key, maskSecret(key, env[key]))
		}
		return nil
	},
}

// maskSecret hides values whose key smells like a credential.
func maskSecret(key, value string) string {
	if value == "" {
		return ""
	}
	upper := strings.ToUpper(key)
	for _, hint := range []string{"SECRET", "TOKEN", "PASSWORD", "KEY", "CREDENTIAL"} {
		if strings.Contains(upper, hint) {
			return "********"
		}
	}
	return value
}
