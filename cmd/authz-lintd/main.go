// Package main provides authz-lintd, a small CLI that exercises the
// decision engine end-to-end without any network transport: validate a
// policy directory, or run one check request against it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/engine"
	"github.com/authz-engine/go-core/internal/policydoc"
	"github.com/authz-engine/go-core/internal/policyvalidate"
	"github.com/authz-engine/go-core/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "authz-lintd:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: authz-lintd validate <policy-dir>")
	fmt.Fprintln(os.Stderr, "       authz-lintd check <policy-dir> <request.json>")
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	strict := fs.Bool("strict", false, "enable strict-mode warnings")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("validate requires exactly one argument: <policy-dir>")
	}
	policyDir := fs.Arg(0)

	docs, err := loadPolicyDir(policyDir)
	if err != nil {
		return err
	}

	v, err := policyvalidate.New()
	if err != nil {
		return fmt.Errorf("building validator: %w", err)
	}

	opts := types.DefaultValidatorOptions()
	opts.Strict = *strict
	report := v.ValidateAll(docs, opts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding validation report: %w", err)
	}

	if !report.Valid {
		os.Exit(1)
	}
	return nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("check requires exactly two arguments: <policy-dir> <request.json>")
	}
	policyDir := fs.Arg(0)
	requestPath := fs.Arg(1)

	docs, err := loadPolicyDir(policyDir)
	if err != nil {
		return err
	}

	v, err := policyvalidate.New()
	if err != nil {
		return fmt.Errorf("building validator: %w", err)
	}
	report := v.ValidateAll(docs, types.DefaultValidatorOptions())
	if !report.Valid {
		reportJSON, _ := json.MarshalIndent(report, "", "  ")
		return fmt.Errorf("policy directory failed validation:\n%s", reportJSON)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	eng, err := engine.New(engine.DefaultEngineConfig(), logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	if err := loadDocsByKind(eng, docs); err != nil {
		return err
	}

	reqBytes, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("reading request file: %w", err)
	}
	var req types.CheckRequest
	if err := json.Unmarshal(reqBytes, &req); err != nil {
		return fmt.Errorf("decoding request JSON: %w", err)
	}

	resp := eng.Check(&req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func loadDocsByKind(eng *engine.Engine, docs []*types.Document) error {
	var resourceDocs, derivedRoleDocs, principalDocs []*types.Document
	for _, doc := range docs {
		switch doc.Kind {
		case types.KindResourcePolicy:
			resourceDocs = append(resourceDocs, doc)
		case types.KindDerivedRoles:
			derivedRoleDocs = append(derivedRoleDocs, doc)
		case types.KindPrincipalPolicy:
			principalDocs = append(principalDocs, doc)
		}
	}
	if err := eng.LoadResourcePolicies(resourceDocs); err != nil {
		return fmt.Errorf("loading resource policies: %w", err)
	}
	if err := eng.LoadDerivedRolesPolicies(derivedRoleDocs); err != nil {
		return fmt.Errorf("loading derived-roles policies: %w", err)
	}
	if err := eng.LoadPrincipalPolicies(principalDocs); err != nil {
		return fmt.Errorf("loading principal policies: %w", err)
	}
	return nil
}

func loadPolicyDir(dir string) ([]*types.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading policy directory: %w", err)
	}

	var docs []*types.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		fileDocs, verr := policydoc.ParseAll(string(content))
		if verr != nil {
			return nil, fmt.Errorf("parsing %s: %s", path, verr.Message)
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}
