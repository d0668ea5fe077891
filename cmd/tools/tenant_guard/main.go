package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// tenantGuard scans the SQL constants of the repository package and ensures
// every SELECT/UPDATE/DELETE filters on tenant_id and every INSERT writes it.
// Exit code 0 = ok, 1 = violation, 2 = other error.
func main() {
	root := "internal/repo"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	deny, err := scan(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenant_guard error: %v\n", err)
		os.Exit(2)
	}
	if len(deny) > 0 {
		for _, v := range deny {
			fmt.Fprintf(os.Stderr, "VIOLATION: %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("tenant_guard: OK")
}

var (
	reFilter = regexp.MustCompile(`(?is)^\s*(select|update|delete)\b`)
	reInsert = regexp.MustCompile(`(?is)^\s*insert\s+into\s+\w+\s*\(([^)]*)\)`)
	reTenant = regexp.MustCompile(`(?i)tenant_id\s*=\s*\$[0-9]+`)
)

func scan(dir string) ([]string, error) {
	var violations []string
	fset := token.NewFileSet()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := checkFile(fset, path)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	return violations, err
}

func checkFile(fset *token.FileSet, path string) ([]string, error) {
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	var violations []string
	ast.Inspect(file, func(n ast.Node) bool {
		lit, ok := n.(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			return true
		}
		query, err := strconv.Unquote(lit.Value)
		if err != nil {
			return true
		}
		if !scoped(query) {
			violations = append(violations, fset.Position(lit.Pos()).String())
		}
		return true
	})
	return violations, nil
}

// scoped reports whether a query is tenant scoped. Strings that are not SQL
// statements pass.
func scoped(query string) bool {
	if m := reInsert.FindStringSubmatch(query); m != nil {
		for _, col := range strings.Split(m[1], ",") {
			if strings.EqualFold(strings.TrimSpace(col), "tenant_id") {
				return true
			}
		}
		return false
	}
	if reFilter.MatchString(query) {
		return reTenant.MatchString(query)
	}
	return true
}
